package orchestrator

import (
	"time"

	"github.com/ShayCichocki/courier/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates a task was handed to a new agent instance.
	EventTaskStarted EventType = "task:started"
	// EventTaskSubmitted indicates the remote agent accepted a task and
	// assigned it a remote id.
	EventTaskSubmitted EventType = "task:submitted"
	// EventTaskProgress carries a progress report from the remote agent.
	EventTaskProgress EventType = "task:progress"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task:completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task:failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task:cancelled"
	// EventAgentSpawned indicates an agent instance was created.
	EventAgentSpawned EventType = "agent:spawned"
	// EventAgentTerminated indicates an agent instance was removed.
	EventAgentTerminated EventType = "agent:terminated"
	// EventOrchestrationComplete indicates every task reached a terminal status
	// or the orchestrator was stopped.
	EventOrchestrationComplete EventType = "orchestration:complete"
)

// Event is emitted by the orchestrator. Task and Agent are snapshots and may
// be retained by subscribers.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// SessionID is the session that owns the orchestrator.
	SessionID string
	// Task is the related task, if applicable.
	Task *models.Task
	// Agent is the related agent instance, if applicable.
	Agent *models.AgentInstance
	// Summary is set on orchestration:complete.
	Summary *models.Summary
	// Progress is set on task:progress.
	Progress *models.Progress
	// Notify marks events that reporters should forward.
	Notify bool
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// terminalEventType maps a terminal task status to its event.
func terminalEventType(status models.TaskStatus) EventType {
	switch status {
	case models.TaskStatusCompleted:
		return EventTaskCompleted
	case models.TaskStatusCancelled:
		return EventTaskCancelled
	default:
		return EventTaskFailed
	}
}

func agentSnapshot(a *models.AgentInstance) *models.AgentInstance {
	return a.Clone()
}
