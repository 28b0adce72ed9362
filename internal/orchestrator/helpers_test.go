package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/courier/internal/delegation"
	"github.com/ShayCichocki/courier/pkg/models"
)

// fakeClock only moves when the test advances it. Its tickers never fire on
// their own; tests call tick directly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// fakeDelegator records calls and answers from configurable tables. Remote
// ids are "rt-" + task id.
type fakeDelegator struct {
	mu sync.Mutex
	// submitErrs are returned in order for a task id, then success.
	submitErrs map[string][]error
	submits    map[string]int
	// cancelTo is the status a remote task reports after Cancel. Missing
	// entries stay running.
	cancelTo  map[string]delegation.RemoteStatus
	cancelErr map[string]error
	cancelled []string
	status    map[string]*delegation.RemoteTask
	// finals feeds WaitForCompletion per remote id.
	finals map[string]chan *delegation.RemoteTask
	// submitGate, when set, blocks every Submit until closed or ctx ends.
	submitGate chan struct{}
}

func newFakeDelegator() *fakeDelegator {
	return &fakeDelegator{
		submitErrs: make(map[string][]error),
		submits:    make(map[string]int),
		cancelTo:   make(map[string]delegation.RemoteStatus),
		cancelErr:  make(map[string]error),
		status:     make(map[string]*delegation.RemoteTask),
		finals:     make(map[string]chan *delegation.RemoteTask),
	}
}

func taskIDFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "Task ID: "); ok {
			return id
		}
	}
	return ""
}

func (d *fakeDelegator) Submit(ctx context.Context, prompt string, _ models.DelegationOptions) (*delegation.RemoteTask, error) {
	if d.submitGate != nil {
		select {
		case <-d.submitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	id := taskIDFromPrompt(prompt)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submits[id]++
	if errs := d.submitErrs[id]; len(errs) > 0 {
		d.submitErrs[id] = errs[1:]
		return nil, errs[0]
	}
	rt := &delegation.RemoteTask{ID: "rt-" + id, Status: delegation.RemoteQueued}
	d.status[rt.ID] = rt
	c := *rt
	return &c, nil
}

func (d *fakeDelegator) Get(_ context.Context, id string) (*delegation.RemoteTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rt, ok := d.status[id]
	if !ok {
		return nil, &delegation.APIError{StatusCode: 404, Message: "not found"}
	}
	c := *rt
	return &c, nil
}

func (d *fakeDelegator) Cancel(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, id)
	if err := d.cancelErr[id]; err != nil {
		return err
	}
	if to, ok := d.cancelTo[id]; ok {
		if rt, ok := d.status[id]; ok {
			rt.Status = to
		}
	}
	return nil
}

func (d *fakeDelegator) WaitForCompletion(ctx context.Context, id string, _ time.Duration) (*delegation.RemoteTask, error) {
	d.mu.Lock()
	ch, ok := d.finals[id]
	if !ok {
		ch = make(chan *delegation.RemoteTask, 1)
		d.finals[id] = ch
	}
	d.mu.Unlock()

	select {
	case rt := <-ch:
		return rt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDelegator) finish(rt *delegation.RemoteTask) {
	d.mu.Lock()
	ch, ok := d.finals[rt.ID]
	if !ok {
		ch = make(chan *delegation.RemoteTask, 1)
		d.finals[rt.ID] = ch
	}
	d.mu.Unlock()
	ch <- rt
}

func (d *fakeDelegator) submitCount(taskID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits[taskID]
}

func (d *fakeDelegator) cancelCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.cancelled...)
}

func newTask(id string, priority int, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Title:        "task " + id,
		Priority:     priority,
		Status:       models.TaskStatusPending,
		Dependencies: deps,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitAccepted waits until the remote agent accepted a task.
func waitAccepted(t *testing.T, o *Orchestrator, taskID string) {
	t.Helper()
	waitFor(t, "acceptance of "+taskID, func() bool { return o.Owns("rt-" + taskID) })
}

func taskByID(o *Orchestrator, id string) *models.Task {
	for _, task := range o.Tasks() {
		if task.ID == id {
			return task
		}
	}
	return nil
}

func terminalEvent(taskID string, kind models.EventKind, status models.RemoteStatus) models.ProcessedEvent {
	return models.ProcessedEvent{
		RemoteTaskID: "rt-" + taskID,
		Kind:         kind,
		Status:       status,
		ShouldNotify: true,
		Result:       &models.TaskResult{Output: fmt.Sprintf("%s done", taskID)},
	}
}

// drain reads events until the channel closes.
func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("event channel not closed; got %d events", len(events))
		}
	}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
