package delegation

import (
	"time"

	"github.com/ShayCichocki/courier/pkg/models"
)

// RemoteStatus is the status of a task on the remote agent.
type RemoteStatus string

const (
	RemoteQueued    RemoteStatus = "queued"
	RemoteRunning   RemoteStatus = "running"
	RemoteCompleted RemoteStatus = "completed"
	RemoteFailed    RemoteStatus = "failed"
	RemoteCancelled RemoteStatus = "cancelled"
)

// Terminal returns true once the remote agent will not change the status again.
func (s RemoteStatus) Terminal() bool {
	return s == RemoteCompleted || s == RemoteFailed || s == RemoteCancelled
}

// RemoteResult is what the remote agent produced.
type RemoteResult struct {
	Summary        string `json:"summary,omitempty"`
	PullRequestURL string `json:"pullRequestUrl,omitempty"`
}

// RemoteError is the failure the remote agent reported.
type RemoteError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RemoteTask is a task as the remote agent reports it.
type RemoteTask struct {
	ID        string        `json:"id"`
	Status    RemoteStatus  `json:"status"`
	Result    *RemoteResult `json:"result,omitempty"`
	Error     *RemoteError  `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// TaskResult converts the remote view into the result stored on a task.
func (t *RemoteTask) TaskResult() *models.TaskResult {
	r := &models.TaskResult{RemoteTaskID: t.ID}
	if t.Result != nil {
		r.Output = t.Result.Summary
		r.PRURL = t.Result.PullRequestURL
	}
	if t.Error != nil {
		r.Error = t.Error.Message
	}
	if t.Status == RemoteFailed && r.Error == "" {
		r.Error = "remote task failed"
	}
	return r
}

// TaskStatus maps the remote status onto a task status.
func (t *RemoteTask) TaskStatus() models.TaskStatus {
	switch t.Status {
	case RemoteCompleted:
		return models.TaskStatusCompleted
	case RemoteFailed:
		return models.TaskStatusFailed
	case RemoteCancelled:
		return models.TaskStatusCancelled
	default:
		return models.TaskStatusRunning
	}
}

// ListFilter narrows List results. Zero values mean no filter.
type ListFilter struct {
	Status RemoteStatus
	Limit  int
}

// submitRequest is the wire body for task submission.
type submitRequest struct {
	Prompt    string   `json:"prompt"`
	Branch    string   `json:"branch,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	AutoMerge bool     `json:"autoMerge"`
	Priority  string   `json:"priority,omitempty"`
	TimeoutMs int64    `json:"timeoutMs,omitempty"`
	CreatePR  bool     `json:"createPR"`
	Reviewers []string `json:"reviewers,omitempty"`
}

func newSubmitRequest(prompt string, opts models.DelegationOptions) submitRequest {
	return submitRequest{
		Prompt:    prompt,
		Branch:    opts.Branch,
		Labels:    opts.Labels,
		AutoMerge: opts.AutoMerge,
		Priority:  string(opts.Priority),
		TimeoutMs: opts.TimeoutMs,
		CreatePR:  opts.CreatePR,
		Reviewers: opts.Reviewers,
	}
}

type listResponse struct {
	Tasks []RemoteTask `json:"tasks"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
