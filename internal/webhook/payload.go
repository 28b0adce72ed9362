package webhook

import (
	"time"

	"github.com/ShayCichocki/courier/pkg/models"
)

// Event is an inbound callback from the remote agent as sent on the wire.
type Event struct {
	Type           models.EventKind `json:"type"`
	TaskID         string           `json:"taskId"`
	OrganizationID string           `json:"organizationId"`
	Timestamp      time.Time        `json:"timestamp"`
	Data           EventData        `json:"data"`
}

// EventData is the kind-specific part of an Event. Every field is optional.
type EventData struct {
	Task     *TaskData          `json:"task,omitempty"`
	Result   *ResultData        `json:"result,omitempty"`
	Progress *models.Progress   `json:"progress,omitempty"`
	Error    *models.EventError `json:"error,omitempty"`
}

// TaskData is the remote agent's view of the task at send time.
type TaskData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ResultData is what a completed task produced.
type ResultData struct {
	Summary        string `json:"summary,omitempty"`
	PullRequestURL string `json:"pullRequestUrl,omitempty"`
}
