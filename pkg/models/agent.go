package models

import "time"

// AgentStatus represents the current state of an in-flight delegation.
type AgentStatus string

const (
	// AgentStatusStarting indicates the submission to the remote agent is in flight.
	AgentStatusStarting AgentStatus = "starting"
	// AgentStatusRunning indicates the remote agent accepted the task.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusCompleted indicates the remote agent finished its work.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the delegation failed.
	AgentStatusFailed AgentStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusStarting, AgentStatusRunning, AgentStatusCompleted, AgentStatusFailed:
		return true
	default:
		return false
	}
}

// AgentInstance is the live handle to a task currently delegated to the
// remote execution agent. At most one live instance exists per task.
type AgentInstance struct {
	// ID is the unique identifier for this instance.
	ID string `json:"id"`
	// TaskID is the task this instance is working on.
	TaskID string `json:"task_id"`
	// RemoteTaskID is set once the remote agent accepted the submission.
	RemoteTaskID string `json:"remote_task_id,omitempty"`
	// Status is the current state of the instance.
	Status AgentStatus `json:"status"`
	// StartedAt is when the instance was created.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the delegation terminated.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the instance.
func (a *AgentInstance) Clone() *AgentInstance {
	if a == nil {
		return nil
	}
	c := *a
	if a.CompletedAt != nil {
		ts := *a.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
