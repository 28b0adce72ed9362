package models

import "time"

// EventKind is the kind of an asynchronous callback from the remote agent.
type EventKind string

const (
	EventKindStarted   EventKind = "task.started"
	EventKindProgress  EventKind = "task.progress"
	EventKindCompleted EventKind = "task.completed"
	EventKindFailed    EventKind = "task.failed"
	EventKindCancelled EventKind = "task.cancelled"
)

// Valid returns true if the kind is a known value.
func (k EventKind) Valid() bool {
	switch k {
	case EventKindStarted, EventKindProgress, EventKindCompleted, EventKindFailed, EventKindCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed, failed and cancelled kinds.
func (k EventKind) Terminal() bool {
	return k == EventKindCompleted || k == EventKindFailed || k == EventKindCancelled
}

// RemoteStatus is the normalized status carried by a ProcessedEvent.
type RemoteStatus string

const (
	RemoteInProgress RemoteStatus = "in_progress"
	RemoteCompleted  RemoteStatus = "completed"
	RemoteFailed     RemoteStatus = "failed"
	RemoteCancelled  RemoteStatus = "cancelled"
)

// TaskStatus maps a terminal remote status onto a task status.
// Non-terminal statuses map to running.
func (s RemoteStatus) TaskStatus() TaskStatus {
	switch s {
	case RemoteCompleted:
		return TaskStatusCompleted
	case RemoteFailed:
		return TaskStatusFailed
	case RemoteCancelled:
		return TaskStatusCancelled
	default:
		return TaskStatusRunning
	}
}

// Progress reports how far the remote agent is through a task.
type Progress struct {
	Percentage  int    `json:"percentage"`
	CurrentStep string `json:"currentStep,omitempty"`
}

// EventError is the failure reported by the remote agent.
type EventError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProcessedEvent is the normalized form of an inbound webhook callback.
// It is transient: dispatched to subscribers, never persisted.
type ProcessedEvent struct {
	RemoteTaskID   string       `json:"remote_task_id"`
	OrganizationID string       `json:"organization_id"`
	Kind           EventKind    `json:"kind"`
	Status         RemoteStatus `json:"status"`
	Progress       *Progress    `json:"progress,omitempty"`
	Result         *TaskResult  `json:"result,omitempty"`
	Error          *EventError  `json:"error,omitempty"`
	ShouldNotify   bool         `json:"should_notify"`
	// Duplicate marks a repeat of an already-terminal remote task.
	Duplicate  bool      `json:"duplicate,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
