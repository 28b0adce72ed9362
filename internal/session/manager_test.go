package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/courier/internal/classify"
	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/internal/decision"
	"github.com/ShayCichocki/courier/internal/delegation"
	"github.com/ShayCichocki/courier/internal/graph"
	"github.com/ShayCichocki/courier/internal/notify"
	"github.com/ShayCichocki/courier/internal/orchestrator"
	"github.com/ShayCichocki/courier/internal/state"
	"github.com/ShayCichocki/courier/internal/webhook"
	"github.com/ShayCichocki/courier/pkg/models"
)

// fakeDelegator hands out remote ids "rt-1", "rt-2", ... in submission order.
type fakeDelegator struct {
	mu        sync.Mutex
	next      int
	byTask    map[string]string
	options   map[string]models.DelegationOptions
	status    map[string]delegation.RemoteStatus
	cancelTo  delegation.RemoteStatus
	cancelled []string
	// gate, when set, blocks every Submit until closed.
	gate chan struct{}
}

func newFakeDelegator() *fakeDelegator {
	return &fakeDelegator{
		byTask:  make(map[string]string),
		options: make(map[string]models.DelegationOptions),
		status:  make(map[string]delegation.RemoteStatus),
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

func (d *fakeDelegator) Submit(ctx context.Context, prompt string, opts models.DelegationOptions) (*delegation.RemoteTask, error) {
	d.mu.Lock()
	d.next++
	id := fmt.Sprintf("rt-%d", d.next)
	taskID := taskIDFromPrompt(prompt)
	d.byTask[taskID] = id
	d.options[taskID] = opts
	d.status[id] = delegation.RemoteQueued
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &delegation.RemoteTask{ID: id, Status: delegation.RemoteQueued}, nil
}

func (d *fakeDelegator) Get(_ context.Context, id string) (*delegation.RemoteTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.status[id]
	if !ok {
		return nil, &delegation.APIError{StatusCode: 404, Message: "not found"}
	}
	return &delegation.RemoteTask{ID: id, Status: st}, nil
}

func (d *fakeDelegator) Cancel(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, id)
	if d.cancelTo != "" {
		d.status[id] = d.cancelTo
	}
	return nil
}

func (d *fakeDelegator) WaitForCompletion(ctx context.Context, _ string, _ time.Duration) (*delegation.RemoteTask, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDelegator) remoteID(taskID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byTask[taskID]
}

func (d *fakeDelegator) submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// stubClassifier returns a fixed analysis.
type stubClassifier struct {
	analysis models.Analysis
}

func (s stubClassifier) Classify(string, classify.Metadata) models.Analysis {
	return s.analysis
}

// kindDecider delegates every item except the declined kinds.
type kindDecider struct {
	declined map[string]bool
}

func (k kindDecider) Decide(a models.Analysis, origin decision.Origin) models.Decision {
	if len(a.RecommendedAgentKinds) == 1 && k.declined[a.RecommendedAgentKinds[0]] {
		return models.Decision{Reason: "kind declined"}
	}
	return models.Decision{
		ShouldDelegate: true,
		Executor:       models.ExecutorRemote,
		Strategy:       models.StrategyParallel,
		Options:        models.DelegationOptions{Branch: "courier/" + origin.ID + "-" + origin.Step, CreatePR: true},
	}
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (r *recordingReporter) Name() string { return "recording" }

func (r *recordingReporter) Report(_ context.Context, u notify.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingReporter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.updates {
		out = append(out, u.Kind)
	}
	return out
}

type fixture struct {
	m         *Manager
	store     *state.MemoryStore
	delegator *fakeDelegator
	reporter  *recordingReporter
	notifier  *notify.Dispatcher
}

func newFixture(t *testing.T, classifier Classifier, decider Decider) *fixture {
	t.Helper()
	f := &fixture{
		store:     state.NewMemoryStore(),
		delegator: newFakeDelegator(),
		reporter:  &recordingReporter{},
	}
	f.notifier = notify.NewDispatcher(1, f.reporter)
	if classifier == nil {
		classifier = classify.New(nil)
	}
	if decider == nil {
		decider = decision.New(config.Default().Decision, nil)
	}
	cfg := orchestrator.Config{
		MaxConcurrent:        3,
		TickInterval:         5 * time.Millisecond,
		RetryInitialInterval: time.Millisecond,
	}
	m, err := NewManager(f.store, classifier, decider, f.delegator, cfg, WithNotifier(f.notifier))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	f.m = m
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) waitStatus(t *testing.T, id string, want models.SessionStatus) *models.Session {
	t.Helper()
	var got *models.Session
	waitFor(t, "session "+string(want), func() bool {
		s, err := f.store.Load(id)
		if err != nil {
			return false
		}
		got = s
		return s.Status == want
	})
	return got
}

func (f *fixture) waitRemote(t *testing.T, taskID string) string {
	t.Helper()
	var id string
	waitFor(t, "submission of "+taskID, func() bool {
		id = f.delegator.remoteID(taskID)
		return id != ""
	})
	return id
}

func completed(remoteID string) models.ProcessedEvent {
	return models.ProcessedEvent{
		RemoteTaskID: remoteID,
		Kind:         models.EventKindCompleted,
		Status:       models.RemoteCompleted,
		Result:       &models.TaskResult{Output: "done", PRURL: "https://example.com/pr/1"},
		ShouldNotify: true,
	}
}

func failed(remoteID, msg string) models.ProcessedEvent {
	return models.ProcessedEvent{
		RemoteTaskID: remoteID,
		Kind:         models.EventKindFailed,
		Status:       models.RemoteFailed,
		Error:        &models.EventError{Message: msg},
		ShouldNotify: true,
	}
}

func backendRequest() Request {
	return Request{
		OriginID:    "ENG-42",
		Title:       "Add API endpoint for user export",
		Description: "Expose a new endpoint on the backend service.",
	}
}

func TestCreateSession_IdempotentPerOrigin(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	first, err := f.m.CreateSession(ctx, backendRequest())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if first.Status != models.SessionCreated {
		t.Errorf("status = %s, want created", first.Status)
	}

	again, err := f.m.CreateSession(ctx, backendRequest())
	if err != nil {
		t.Fatalf("second CreateSession failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second intake created %s, want existing %s", again.ID, first.ID)
	}

	if err := f.store.UpdateStatus(first.ID, models.SessionCompleted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	next, err := f.m.CreateSession(ctx, backendRequest())
	if err != nil {
		t.Fatalf("third CreateSession failed: %v", err)
	}
	if next.ID == first.ID {
		t.Error("a terminal session must not be reused")
	}
}

func TestCreateSession_RequiresOrigin(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.m.CreateSession(context.Background(), Request{Title: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestStart_NoDelegationWarranted(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	s, err := f.m.CreateSession(ctx, Request{OriginID: "ENG-1", Title: "Fix typo in comment"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got, err := f.store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != models.SessionCompleted || got.Reason != ReasonNoDelegation {
		t.Errorf("status/reason = %s/%q", got.Status, got.Reason)
	}
	if got.Analysis == nil {
		t.Error("analysis not persisted")
	}
	if len(got.Tasks) != 0 {
		t.Errorf("tasks = %d, want 0", len(got.Tasks))
	}
	if f.delegator.submitted() != 0 {
		t.Error("nothing should be submitted")
	}

	if err := f.m.Start(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("restart err = %v, want ErrInvalidState", err)
	}
}

func TestSessionLifecycle_Completed(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	s, err := f.m.CreateSession(ctx, backendRequest())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	running := f.waitStatus(t, s.ID, models.SessionRunning)
	if len(running.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1 backend task", len(running.Tasks))
	}
	task := running.Tasks[0]
	if task.AgentKind != "backend" || task.ParentSessionID != s.ID {
		t.Errorf("task = %+v", task)
	}
	if task.Options == nil || !strings.HasPrefix(task.Options.Branch, "courier/eng-42-") {
		t.Errorf("task options = %+v", task.Options)
	}

	remote := f.waitRemote(t, task.ID)
	waitFor(t, "correlation", func() bool {
		got, _ := f.m.Get(s.ID)
		return got != nil && len(got.ActiveAgents) == 1 && anyRemote(got.ActiveAgents, remote)
	})

	if err := f.m.HandleEvent(ctx, completed(remote)); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	done := f.waitStatus(t, s.ID, models.SessionCompleted)
	if done.Summary == nil || done.Summary.Total != 1 || done.Summary.Completed != 1 {
		t.Errorf("summary = %+v", done.Summary)
	}
	if r := done.Tasks[0].Result; r == nil || r.PRURL != "https://example.com/pr/1" || r.RemoteTaskID != remote {
		t.Errorf("result = %+v", r)
	}
	if len(done.ActiveAgents) != 0 {
		t.Errorf("active agents = %d, want 0", len(done.ActiveAgents))
	}
	if len(f.m.Running()) != 0 {
		t.Errorf("running = %v, want none", f.m.Running())
	}

	f.notifier.Wait()
	kinds := strings.Join(f.reporter.kinds(), ",")
	if !strings.Contains(kinds, string(orchestrator.EventTaskCompleted)) ||
		!strings.Contains(kinds, string(orchestrator.EventOrchestrationComplete)) {
		t.Errorf("notified kinds = %s", kinds)
	}
}

func anyRemote(agents map[string]*models.AgentInstance, remote string) bool {
	for _, a := range agents {
		if a.RemoteTaskID == remote {
			return true
		}
	}
	return false
}

func TestSessionLifecycle_FailedTaskFailsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	remote := f.waitRemote(t, "step-1")
	waitFor(t, "ownership", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.ownerLocked(remote) != nil
	})

	if err := f.m.HandleEvent(ctx, failed(remote, "tests do not compile")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	got := f.waitStatus(t, s.ID, models.SessionFailed)
	if got.Summary == nil || got.Summary.Failed != 1 || got.Summary.Total != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if !strings.Contains(got.Reason, "tests do not compile") {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestHandleEvent_BuffersEarlyEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.delegator.gate = make(chan struct{})
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The remote id is assigned but Submit has not returned yet.
	remote := f.waitRemote(t, "step-1")
	if err := f.m.HandleEvent(ctx, completed(remote)); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if f.m.pending.Len() != 1 {
		t.Fatalf("pending = %d, want the early event buffered", f.m.pending.Len())
	}

	close(f.delegator.gate)

	got := f.waitStatus(t, s.ID, models.SessionCompleted)
	if got.Summary.Completed != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if f.m.pending.Len() != 0 {
		t.Errorf("pending = %d after replay, want 0", f.m.pending.Len())
	}
}

func TestHandleEvent_ReplaysBufferedBeforeLaterEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	remote := f.waitRemote(t, "step-1")
	waitFor(t, "acknowledgement", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		_, ok := f.m.byRemote[remote]
		return ok
	})

	// The index has not caught up and an earlier event is still buffered,
	// so ownership is found through the orchestrator.
	f.m.mu.Lock()
	delete(f.m.byRemote, remote)
	f.m.pending.Add(remote, []models.ProcessedEvent{completed(remote)})
	f.m.mu.Unlock()

	if err := f.m.HandleEvent(ctx, failed(remote, "late failure")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	got := f.waitStatus(t, s.ID, models.SessionCompleted)
	if got.Summary == nil || got.Summary.Completed != 1 {
		t.Errorf("summary = %+v, want the buffered completion applied first", got.Summary)
	}
	if f.m.pending.Len() != 0 {
		t.Errorf("pending = %d, want the buffer drained", f.m.pending.Len())
	}
}

func TestHandleEvent_DuplicateAndUnknown(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	dup := completed("rt-x")
	dup.Duplicate = true
	if err := f.m.HandleEvent(ctx, dup); err != nil {
		t.Fatalf("HandleEvent(duplicate) = %v", err)
	}
	if f.m.pending.Len() != 0 {
		t.Error("duplicates must not be buffered")
	}

	if err := f.m.HandleEvent(ctx, completed("rt-unknown")); err != nil {
		t.Fatalf("HandleEvent(unknown) = %v", err)
	}
	if f.m.pending.Len() != 1 {
		t.Errorf("pending = %d, want 1", f.m.pending.Len())
	}
}

func TestCancel_RunningSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.delegator.cancelTo = delegation.RemoteCancelled
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	remote := f.waitRemote(t, "step-1")
	waitFor(t, "ownership", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.ownerLocked(remote) != nil
	})

	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := f.m.Cancel(cctx, s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, err := f.store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != models.SessionCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.Summary == nil || got.Summary.Cancelled != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}

	if err := f.m.Cancel(cctx, s.ID); err != nil {
		t.Errorf("second Cancel = %v, want no-op", err)
	}
}

func TestCancel_CreatedSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got, _ := f.store.Load(s.ID)
	if got.Status != models.SessionCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if err := f.m.Start(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start after cancel = %v, want ErrInvalidState", err)
	}
}

func TestStart_CycleFailsSession(t *testing.T) {
	classifier := stubClassifier{analysis: models.Analysis{
		Type:            models.RequestFeature,
		ComplexityScore: 5,
		Priority:        5,
		TaskBreakdown: []models.BreakdownItem{
			{ID: "step-1", AgentKind: "backend", Priority: 8, Dependencies: []string{"step-2"}},
			{ID: "step-2", AgentKind: "frontend", Priority: 8, Dependencies: []string{"step-1"}},
		},
	}}
	f := newFixture(t, classifier, kindDecider{})
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	err := f.m.Start(ctx, s.ID)
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("Start err = %v, want ErrCycleDetected", err)
	}

	got, _ := f.store.Load(s.ID)
	if got.Status != models.SessionFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Summary == nil || got.Summary.Total != 2 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if f.delegator.submitted() != 0 {
		t.Error("nothing should be submitted for a cyclic graph")
	}
	if len(f.m.Running()) != 0 {
		t.Error("failed session still registered as running")
	}
}

func TestStart_PrunesDeclinedDependencies(t *testing.T) {
	classifier := stubClassifier{analysis: models.Analysis{
		Type:            models.RequestFeature,
		ComplexityScore: 5,
		Priority:        5,
		TaskBreakdown: []models.BreakdownItem{
			{ID: "step-1", AgentKind: "backend", Priority: 8},
			{ID: "step-2", AgentKind: "frontend", Priority: 8},
			{ID: "step-3", AgentKind: "documentation", Priority: 3, Dependencies: []string{"step-1", "step-2"}},
		},
	}}
	f := newFixture(t, classifier, kindDecider{declined: map[string]bool{"backend": true}})
	ctx := context.Background()

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got, err := f.m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got.Tasks))
	}
	var docs *models.Task
	for _, task := range got.Tasks {
		if task.ID == "step-3" {
			docs = task
		}
	}
	if docs == nil || len(docs.Dependencies) != 1 || docs.Dependencies[0] != "step-2" {
		t.Errorf("documentation task = %+v, want dependency on step-2 only", docs)
	}
	if got.Strategy != models.StrategyParallel {
		t.Errorf("strategy = %s", got.Strategy)
	}

	// Items of a multi-item breakdown get a step suffix in their branch.
	remote := f.waitRemote(t, "step-2")
	f.delegator.mu.Lock()
	branch := f.delegator.options["step-2"].Branch
	f.delegator.mu.Unlock()
	if !strings.HasSuffix(branch, "-step-2") {
		t.Errorf("branch = %q, want step suffix", branch)
	}

	// The documentation item waits for the frontend item.
	if id := f.delegator.remoteID("step-3"); id != "" {
		t.Errorf("step-3 submitted before its dependency completed")
	}
	waitFor(t, "ownership", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.ownerLocked(remote) != nil
	})
	_ = f.m.HandleEvent(ctx, completed(remote))
	docsRemote := f.waitRemote(t, "step-3")
	waitFor(t, "ownership of step-3", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.ownerLocked(docsRemote) != nil
	})
	_ = f.m.HandleEvent(ctx, completed(docsRemote))

	done := f.waitStatus(t, s.ID, models.SessionCompleted)
	if done.Summary.Total != 2 || done.Summary.Completed != 2 {
		t.Errorf("summary = %+v", done.Summary)
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t, nil, nil)
	stale := &models.Session{ID: "stale", OriginID: "ENG-1", Status: models.SessionRunning,
		Tasks: []*models.Task{{ID: "step-1", Status: models.TaskStatusRunning}}}
	created := &models.Session{ID: "fresh", OriginID: "ENG-2", Status: models.SessionCreated}
	for _, s := range []*models.Session{stale, created} {
		if err := f.store.Save(s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := f.m.Recover()
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
	got, _ := f.store.Load("stale")
	if got.Status != models.SessionFailed || got.Reason != ReasonInterrupted {
		t.Errorf("stale session = %s/%q", got.Status, got.Reason)
	}
	if got.Summary == nil || got.Summary.Running != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
	fresh, _ := f.store.Load("fresh")
	if fresh.Status != models.SessionCreated {
		t.Errorf("created session touched: %s", fresh.Status)
	}
}

func TestAttach_RoutesCorrelatorEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	c, err := webhook.NewCorrelator("", 16)
	if err != nil {
		t.Fatalf("NewCorrelator failed: %v", err)
	}
	f.m.Attach(c)

	s, _ := f.m.CreateSession(ctx, backendRequest())
	if err := f.m.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	remote := f.waitRemote(t, "step-1")
	waitFor(t, "ownership", func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.ownerLocked(remote) != nil
	})

	if n := c.Dispatch(ctx, completed(remote)); n != 1 {
		t.Errorf("Dispatch reached %d callbacks, want 1", n)
	}
	f.waitStatus(t, s.ID, models.SessionCompleted)
}

func TestClose_RejectsNewWork(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.m.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.m.CreateSession(context.Background(), backendRequest()); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateSession after Close = %v, want ErrClosed", err)
	}
}
