package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/courier/pkg/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:        srv.URL + "/",
		APIKey:         "test-key-1234567890",
		OrganizationID: "org-1",
		PollInterval:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	c.retryInitial = time.Millisecond
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(ClientConfig{OrganizationID: "org"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(ClientConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSubmit(t *testing.T) {
	var got submitRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/organizations/org-1/tasks", r.URL.Path)
		assert.Equal(t, "Bearer test-key-1234567890", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, RemoteTask{ID: "rt-1", Status: RemoteQueued})
	})

	opts := models.DelegationOptions{
		Branch:    "courier/eng-1-fix-login",
		Labels:    []string{"courier"},
		Priority:  models.PriorityHigh,
		TimeoutMs: 1800000,
		CreatePR:  true,
		Reviewers: []string{"alice"},
	}
	task, err := c.Submit(context.Background(), "do the thing", opts)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", task.ID)
	assert.Equal(t, RemoteQueued, task.Status)

	assert.Equal(t, "do the thing", got.Prompt)
	assert.Equal(t, "courier/eng-1-fix-login", got.Branch)
	assert.Equal(t, "high", got.Priority)
	assert.True(t, got.CreatePR)
	assert.False(t, got.AutoMerge)
	assert.Equal(t, []string{"alice"}, got.Reviewers)
}

func TestSubmitWithoutIDFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	})
	_, err := c.Submit(context.Background(), "p", models.DelegationOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without an id")
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		message   string
	}{
		{"server error", http.StatusInternalServerError, `{"message":"boom"}`, true, "boom"},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, true, "slow down"},
		{"bad request", http.StatusBadRequest, `{"message":"missing prompt"}`, false, "missing prompt"},
		{"plain text", http.StatusBadGateway, "upstream down", true, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Submit(context.Background(), "p", models.DelegationOptions{})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "want *APIError, got %T", err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestGetMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	_, err := c.Get(context.Background(), "rt-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
	assert.False(t, IsTransient(err))
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url, OrganizationID: "org"})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "rt-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCancel(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		path = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	})
	require.NoError(t, c.Cancel(context.Background(), "rt-9"))
	assert.Equal(t, "/v1/organizations/org-1/tasks/rt-9/cancel", path)
}

func TestList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "running", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, listResponse{Tasks: []RemoteTask{{ID: "a", Status: RemoteRunning}, {ID: "b", Status: RemoteRunning}}})
	})
	tasks, err := c.List(context.Background(), ListFilter{Status: RemoteRunning, Limit: 5})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[1].ID)
}

func TestWaitForCompletionRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			writeJSON(w, http.StatusOK, RemoteTask{ID: "rt-1", Status: RemoteRunning})
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			writeJSON(w, http.StatusOK, RemoteTask{
				ID:     "rt-1",
				Status: RemoteCompleted,
				Result: &RemoteResult{Summary: "done", PullRequestURL: "https://example.com/pr/1"},
			})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task, err := c.WaitForCompletion(ctx, "rt-1", 0)
	require.NoError(t, err)
	assert.Equal(t, RemoteCompleted, task.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	res := task.TaskResult()
	assert.Equal(t, "rt-1", res.RemoteTaskID)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "https://example.com/pr/1", res.PRURL)
	assert.Equal(t, models.TaskStatusCompleted, task.TaskStatus())
}

func TestWaitForCompletionStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such task"})
	})

	_, err := c.WaitForCompletion(context.Background(), "missing", time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWaitForCompletionHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, RemoteTask{ID: "rt-1", Status: RemoteRunning})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.WaitForCompletion(ctx, "rt-1", time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteTaskFailedResult(t *testing.T) {
	task := &RemoteTask{ID: "rt-2", Status: RemoteFailed}
	assert.Equal(t, "remote task failed", task.TaskResult().Error)
	assert.Equal(t, models.TaskStatusFailed, task.TaskStatus())

	task.Error = &RemoteError{Message: "tests failed", Code: "E_TESTS"}
	assert.Equal(t, "tests failed", task.TaskResult().Error)

	assert.Equal(t, models.TaskStatusRunning, (&RemoteTask{Status: RemoteQueued}).TaskStatus())
}

func TestBuildPrompt(t *testing.T) {
	task := &models.Task{
		ID:          "t-1",
		Title:       "[backend] Fix login endpoint",
		Description: "The /login endpoint returns 500.",
		AgentKind:   "backend",
		Files:       []string{"internal/auth/login.go"},
		Options: &models.DelegationOptions{
			Branch:   "courier/eng-1-fix-login",
			CreatePR: true,
		},
	}

	prompt := BuildPrompt(task)
	for _, want := range []string{
		"Scope Guidance",
		"Task ID: t-1",
		"Title: [backend] Fix login endpoint",
		"Role: backend specialist",
		"The /login endpoint returns 500.",
		"`internal/auth/login.go`",
		"Work on branch `courier/eng-1-fix-login`",
		"Open a pull request",
		"Do not merge",
	} {
		assert.True(t, strings.Contains(prompt, want), "prompt missing %q", want)
	}

	bare := BuildPrompt(&models.Task{ID: "t-2", Title: "x", AgentKind: models.FallbackAgentKind})
	assert.NotContains(t, bare, "Role:")
	assert.NotContains(t, bare, "## Delivery")
}
