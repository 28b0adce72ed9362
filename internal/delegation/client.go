// Package delegation is the HTTP client for the remote execution agent.
// The client is stateless: every call is a single request scoped to the
// configured organization.
package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/internal/version"
	"github.com/ShayCichocki/courier/pkg/models"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = 10 * time.Second
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// BaseURL is the remote agent API root, e.g. https://agent.example.com.
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// OrganizationID scopes every request.
	OrganizationID string
	// RequestTimeout bounds a single HTTP round trip. Zero selects 30s.
	RequestTimeout time.Duration
	// PollInterval is the WaitForCompletion default. Zero selects 10s.
	PollInterval time.Duration
	// RetryMaxElapsed bounds how long transient Get failures are retried
	// while waiting. Zero retries until the context ends.
	RetryMaxElapsed time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client talks to the remote execution agent.
type Client struct {
	baseURL         string
	apiKey          string
	org             string
	pollInterval    time.Duration
	retryInitial    time.Duration
	retryMaxElapsed time.Duration
	http            *http.Client
}

// NewClient creates a client. BaseURL and OrganizationID are required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base URL is empty", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.OrganizationID) == "" {
		return nil, fmt.Errorf("%w: organization id is empty", ErrNotConfigured)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		org:             cfg.OrganizationID,
		pollInterval:    poll,
		retryInitial:    500 * time.Millisecond,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		http:            httpClient,
	}, nil
}

// NewFromConfig builds a client from loaded configuration.
func NewFromConfig(cfg config.RemoteConfig, apiKey string) (*Client, error) {
	return NewClient(ClientConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         apiKey,
		OrganizationID: cfg.OrganizationID,
		RequestTimeout: cfg.RequestTimeout,
		PollInterval:   cfg.PollInterval,
	})
}

// Submit hands a prompt to the remote agent.
func (c *Client) Submit(ctx context.Context, prompt string, opts models.DelegationOptions) (*RemoteTask, error) {
	var task RemoteTask
	if err := c.do(ctx, http.MethodPost, c.tasksPath(), newSubmitRequest(prompt, opts), &task); err != nil {
		return nil, fmt.Errorf("submitting task: %w", err)
	}
	if task.ID == "" {
		return nil, fmt.Errorf("submitting task: remote agent returned a task without an id")
	}
	return &task, nil
}

// Get fetches the current state of a remote task.
func (c *Client) Get(ctx context.Context, id string) (*RemoteTask, error) {
	var task RemoteTask
	if err := c.do(ctx, http.MethodGet, c.taskPath(id), nil, &task); err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return &task, nil
}

// Cancel asks the remote agent to stop a task. Cancellation is cooperative:
// callers must Get the task to learn whether it actually stopped.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, c.taskPath(id)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancelling task %s: %w", id, err)
	}
	return nil
}

// List returns the organization's tasks.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]RemoteTask, error) {
	path := c.tasksPath()
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return resp.Tasks, nil
}

// WaitForCompletion polls a task until it reaches a terminal status or ctx
// ends. Transient Get failures are retried with exponential backoff; any
// other failure ends the wait. A non-positive interval selects the
// configured poll interval.
func (c *Client) WaitForCompletion(ctx context.Context, id string, interval time.Duration) (*RemoteTask, error) {
	if interval <= 0 {
		interval = c.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.getWithRetry(ctx, id, interval)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getWithRetry(ctx context.Context, id string, maxInterval time.Duration) (*RemoteTask, error) {
	var task *RemoteTask
	op := func() error {
		t, err := c.Get(ctx, id)
		if err != nil {
			if ctx.Err() == nil && IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		task = t
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	if maxInterval > b.InitialInterval {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = c.retryMaxElapsed

	notify := func(err error, next time.Duration) {
		log.Printf("[delegation] poll of %s failed, retrying in %v: %v", id, next, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return task, nil
}

func (c *Client) tasksPath() string {
	return "/v1/organizations/" + url.PathEscape(c.org) + "/tasks"
}

func (c *Client) taskPath(id string) string {
	return c.tasksPath() + "/" + url.PathEscape(id)
}

// do performs one JSON round trip. in is marshaled as the request body when
// non-nil; out receives the decoded 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "courier/"+version.Get())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts a message from an error body, falling back to the
// raw text.
func errorMessage(data []byte) string {
	var e errorResponse
	if json.Unmarshal(data, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
