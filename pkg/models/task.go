package models

import "time"

// TaskStatus represents the current state of a delegated task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been delegated yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is delegated to a remote agent.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the remote agent finished the task.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the delegation or the remote work failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether a task may move from s to next.
// Transitions are monotonic: pending -> running -> terminal, and pending may
// jump straight to a terminal status (submission failure, cancellation).
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() || !next.Valid() || s == next {
		return false
	}
	switch s {
	case TaskStatusPending:
		return next != TaskStatusPending
	case TaskStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// TaskResult holds what the remote agent reported for a task.
type TaskResult struct {
	// RemoteTaskID is the id assigned by the remote execution agent.
	RemoteTaskID string `json:"remote_task_id,omitempty"`
	// Output is the summary returned by the remote agent.
	Output string `json:"output,omitempty"`
	// PRURL is the pull request opened by the agent, if any.
	PRURL string `json:"pr_url,omitempty"`
	// Error is the human-readable failure message.
	Error string `json:"error,omitempty"`
}

// Task represents one unit of delegated work belonging to a session.
type Task struct {
	// ID is unique within the owning session.
	ID string `json:"id"`
	// ParentSessionID is the session that owns this task.
	ParentSessionID string `json:"parent_session_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed instructions for the remote agent.
	Description string `json:"description,omitempty"`
	// AgentKind is the capability kind this task was routed to.
	AgentKind string `json:"agent_kind"`
	// Priority ranges from 1 (lowest) to 10 (highest).
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Files lists file hints for the remote agent.
	Files []string `json:"files,omitempty"`
	// Dependencies lists task IDs that must complete before this task starts.
	Dependencies []string `json:"dependencies,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was delegated.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is set once the task is terminal.
	Result *TaskResult `json:"result,omitempty"`
	// Options are the delegation options chosen by the decision engine.
	Options *DelegationOptions `json:"options,omitempty"`
}

// Clone returns a deep copy of the task, safe to hand to other goroutines.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Files = append([]string(nil), t.Files...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.Options != nil {
		o := t.Options.Clone()
		c.Options = &o
	}
	return &c
}
