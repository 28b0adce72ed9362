package models

import "time"

// SessionStatus represents the status of a session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionRunning, SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the session can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// Summary aggregates task outcomes for a session.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
}

// Summarize counts tasks by status.
func Summarize(tasks []*Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusCompleted:
			s.Completed++
		case TaskStatusFailed:
			s.Failed++
		case TaskStatusCancelled:
			s.Cancelled++
		case TaskStatusRunning:
			s.Running++
		default:
			s.Pending++
		}
	}
	return s
}

// Session is the outward-facing unit of work for one originating request.
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// OriginID identifies the originating issue-tracker item.
	OriginID string `json:"origin_id"`
	// Title is the originating request title.
	Title string `json:"title"`
	// Description is the originating request body.
	Description string `json:"description,omitempty"`
	// Metadata carries issue-tracker fields (labels, priority, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
	// Status is the current state of the session.
	Status SessionStatus `json:"status"`
	// Strategy is the delegation strategy chosen for the session.
	Strategy Strategy `json:"strategy,omitempty"`
	// Tasks are the delegated tasks, owned by the orchestrator while running.
	Tasks []*Task `json:"tasks,omitempty"`
	// ActiveAgents maps instance id to the live delegation handle.
	ActiveAgents map[string]*AgentInstance `json:"active_agents,omitempty"`
	// Analysis is the classification result.
	Analysis *Analysis `json:"analysis,omitempty"`
	// Summary is set once the session is terminal.
	Summary *Summary `json:"summary,omitempty"`
	// Reason explains terminal outcomes such as "no delegation warranted".
	Reason string `json:"reason,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the session was last persisted.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.Tasks != nil {
		c.Tasks = make([]*Task, len(s.Tasks))
		for i, t := range s.Tasks {
			c.Tasks[i] = t.Clone()
		}
	}
	if s.ActiveAgents != nil {
		c.ActiveAgents = make(map[string]*AgentInstance, len(s.ActiveAgents))
		for k, a := range s.ActiveAgents {
			c.ActiveAgents[k] = a.Clone()
		}
	}
	if s.Analysis != nil {
		a := s.Analysis.Clone()
		c.Analysis = &a
	}
	if s.Summary != nil {
		sum := *s.Summary
		c.Summary = &sum
	}
	return &c
}
