// Package session owns the outward-facing lifecycle of a delegation
// session: intake of a request, classification and per-item decisions,
// orchestration of the resulting tasks, correlation of remote agent events,
// persistence of snapshots and forwarding of notify-worthy updates.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShayCichocki/courier/internal/classify"
	"github.com/ShayCichocki/courier/internal/decision"
	"github.com/ShayCichocki/courier/internal/notify"
	"github.com/ShayCichocki/courier/internal/orchestrator"
	"github.com/ShayCichocki/courier/internal/state"
	"github.com/ShayCichocki/courier/internal/webhook"
	"github.com/ShayCichocki/courier/pkg/models"
)

var (
	// ErrInvalidRequest is returned for requests without an origin id.
	ErrInvalidRequest = errors.New("invalid session request")
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current status.
	ErrInvalidState = errors.New("invalid session state")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session manager closed")
)

// ReasonNoDelegation is recorded when every breakdown item was declined.
const ReasonNoDelegation = "no delegation warranted"

// ReasonInterrupted is recorded by Recover for sessions left running by a
// previous process.
const ReasonInterrupted = "interrupted before completion"

const defaultPendingEvents = 1024

// Classifier analyzes request text.
type Classifier interface {
	Classify(text string, meta classify.Metadata) models.Analysis
}

// Decider turns an analysis into a delegation decision.
type Decider interface {
	Decide(a models.Analysis, origin decision.Origin) models.Decision
}

// Request is one inbound unit of work from an issue tracker.
type Request struct {
	OriginID    string
	Title       string
	Description string
	Metadata    map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier forwards notify-worthy updates to d.
func WithNotifier(d *notify.Dispatcher) Option {
	return func(m *Manager) { m.notifier = d }
}

// WithOrchestratorOptions passes options to every orchestrator the manager
// creates. Do not pass orchestrator.WithEventBus; each session owns its bus.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(m *Manager) { m.orchOpts = append(m.orchOpts, opts...) }
}

// WithPendingEvents bounds the number of remote tasks whose early events
// are buffered until their submission is acknowledged.
func WithPendingEvents(n int) Option {
	return func(m *Manager) { m.pendingSize = n }
}

// run is the in-memory state of a started session.
type run struct {
	orch     *orchestrator.Orchestrator
	finished chan struct{}

	// mu guards everything below.
	mu        sync.Mutex
	session   *models.Session
	cancelled bool
	finalized bool
}

// Manager drives sessions from intake to a terminal status.
type Manager struct {
	store      state.SessionStorage
	classifier Classifier
	decider    Decider
	delegator  orchestrator.Delegator
	cfg        orchestrator.Config
	orchOpts   []orchestrator.Option
	notifier   *notify.Dispatcher

	pendingSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// createMu serializes intake and the status changes of sessions with no
	// orchestrator, so one origin never gets two live sessions and a session
	// is started at most once.
	createMu sync.Mutex

	// mu guards everything below.
	mu       sync.Mutex
	closed   bool
	running  map[string]*run
	byRemote map[string]string
	// pending holds events for remote ids no session has acknowledged yet.
	pending *lru.Cache[string, []models.ProcessedEvent]
}

// NewManager creates a session manager.
func NewManager(store state.SessionStorage, classifier Classifier, decider Decider, delegator orchestrator.Delegator, cfg orchestrator.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       store,
		classifier:  classifier,
		decider:     decider,
		delegator:   delegator,
		cfg:         cfg,
		pendingSize: defaultPendingEvents,
		running:     make(map[string]*run),
		byRemote:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pendingSize <= 0 {
		m.pendingSize = defaultPendingEvents
	}
	pending, err := lru.New[string, []models.ProcessedEvent](m.pendingSize)
	if err != nil {
		return nil, fmt.Errorf("create pending event buffer: %w", err)
	}
	m.pending = pending
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Attach subscribes the manager to every event the correlator dispatches.
func (m *Manager) Attach(c *webhook.Correlator) webhook.SubscriptionID {
	return c.Subscribe(webhook.Wildcard, m.HandleEvent)
}

// CreateSession persists a new session for req, or returns the existing
// non-terminal session for the same origin.
func (m *Manager) CreateSession(_ context.Context, req Request) (*models.Session, error) {
	if req.OriginID == "" {
		return nil, fmt.Errorf("%w: origin id is required", ErrInvalidRequest)
	}
	if m.isClosed() {
		return nil, ErrClosed
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	existing, err := m.store.LoadByOrigin(req.OriginID)
	switch {
	case err == nil && !existing.Status.Terminal():
		log.Printf("[session] origin %s already has session %s (%s)", req.OriginID, existing.ID, existing.Status)
		return existing, nil
	case err != nil && !errors.Is(err, state.ErrSessionNotFound):
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := time.Now()
	s := &models.Session{
		ID:          uuid.New().String(),
		OriginID:    req.OriginID,
		Title:       req.Title,
		Description: req.Description,
		Metadata:    copyMetadata(req.Metadata),
		Status:      models.SessionCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Save(s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("[session] created session %s for origin %s", s.ID, s.OriginID)
	return s.Clone(), nil
}

// Start classifies the session's request, decides each breakdown item and
// hands the delegated tasks to a new orchestrator. A session whose items
// are all declined completes immediately. A task graph with a cycle fails
// the session and Start returns the validation error.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	if m.isClosed() {
		return ErrClosed
	}
	r, err := m.begin(ctx, sessionID)
	if err != nil || r == nil {
		return err
	}

	if err := r.orch.Start(m.ctx); err != nil {
		<-r.finished
		m.fail(ctx, r, err.Error())
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}
	return nil
}

// begin moves a created session to running and registers its
// orchestrator. It returns a nil run when nothing was delegated.
func (m *Manager) begin(ctx context.Context, sessionID string) (*run, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	s, err := m.store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if s.Status != models.SessionCreated {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, s.Status)
	}

	analysis := m.classifier.Classify(requestText(s), classificationMetadata(s))
	s.Analysis = &analysis
	tasks, strategy, declined := m.plan(s, analysis)
	s.Strategy = strategy
	s.Tasks = tasks

	if len(tasks) == 0 {
		s.Status = models.SessionCompleted
		s.Reason = ReasonNoDelegation
		s.Summary = &models.Summary{}
		s.UpdatedAt = time.Now()
		if err := m.store.Save(s); err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
		log.Printf("[session] session %s: %s (%d items declined)", s.ID, ReasonNoDelegation, declined)
		m.notify(ctx, s, notify.Update{Kind: string(orchestrator.EventOrchestrationComplete), Status: string(s.Status), Message: s.Reason, Summary: s.Summary})
		return nil, nil
	}

	orch := orchestrator.New(s.ID, tasks, m.delegator, m.cfg, m.orchOpts...)
	events, unsubscribe := orch.Subscribe()

	s.Status = models.SessionRunning
	s.UpdatedAt = time.Now()
	if err := m.store.Save(s); err != nil {
		unsubscribe()
		return nil, fmt.Errorf("start session: %w", err)
	}

	r := &run{orch: orch, session: s, finished: make(chan struct{})}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return nil, ErrClosed
	}
	m.running[s.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(r, events, unsubscribe)

	log.Printf("[session] session %s starting %d tasks (%s strategy, %d items declined)", s.ID, len(tasks), strategy, declined)
	return r, nil
}

// plan decides each breakdown item and builds the delegated tasks. The
// session strategy is the request-level decision's strategy when it
// delegates, else the first delegated item's.
func (m *Manager) plan(s *models.Session, analysis models.Analysis) ([]*models.Task, models.Strategy, int) {
	now := time.Now()
	origin := decision.Origin{ID: s.OriginID, Title: s.Title}

	var strategy models.Strategy
	if overall := m.decider.Decide(analysis, origin); overall.ShouldDelegate {
		strategy = overall.Strategy
	}

	declined := make(map[string]bool)
	var tasks []*models.Task
	for _, item := range analysis.TaskBreakdown {
		itemOrigin := origin
		if len(analysis.TaskBreakdown) > 1 {
			itemOrigin.Step = item.ID
		}
		d := m.decider.Decide(analysis.ForItem(item), itemOrigin)
		if !d.ShouldDelegate {
			declined[item.ID] = true
			log.Printf("[session] session %s: item %s declined: %s", s.ID, item.ID, d.Reason)
			continue
		}
		if strategy == "" {
			strategy = d.Strategy
		}
		opts := d.Options.Clone()
		tasks = append(tasks, &models.Task{
			ID:              item.ID,
			ParentSessionID: s.ID,
			Title:           item.Title,
			Description:     item.Description,
			AgentKind:       item.AgentKind,
			Priority:        item.Priority,
			Status:          models.TaskStatusPending,
			Files:           append([]string(nil), analysis.Files...),
			Dependencies:    append([]string(nil), item.Dependencies...),
			CreatedAt:       now,
			Options:         &opts,
		})
	}

	// Declined items never run, so references to them are pruned rather
	// than left to block their dependents.
	for _, t := range tasks {
		kept := t.Dependencies[:0]
		for _, dep := range t.Dependencies {
			if !declined[dep] {
				kept = append(kept, dep)
			}
		}
		t.Dependencies = kept
	}
	return tasks, strategy, len(declined)
}

// HandleEvent routes a processed webhook event to the session that owns its
// remote task. Events that arrive before the owning submission is
// acknowledged are buffered and replayed once it is, ahead of any later
// event for the same remote task.
func (m *Manager) HandleEvent(_ context.Context, ev models.ProcessedEvent) error {
	if ev.Duplicate {
		return nil
	}

	m.mu.Lock()
	r := m.ownerLocked(ev.RemoteTaskID)
	if r == nil {
		buffered, _ := m.pending.Get(ev.RemoteTaskID)
		m.pending.Add(ev.RemoteTaskID, append(buffered, ev))
		m.mu.Unlock()
		log.Printf("[session] buffered %s for unknown remote task %s", ev.Kind, ev.RemoteTaskID)
		return nil
	}
	buffered, ok := m.pending.Get(ev.RemoteTaskID)
	if ok {
		m.pending.Remove(ev.RemoteTaskID)
	}
	m.mu.Unlock()

	for _, pe := range buffered {
		log.Printf("[session] replaying buffered %s for remote task %s", pe.Kind, ev.RemoteTaskID)
		r.orch.ApplyEvent(pe)
	}
	if !r.orch.ApplyEvent(ev) {
		log.Printf("[session] %s for remote task %s had no effect", ev.Kind, ev.RemoteTaskID)
	}
	return nil
}

// ownerLocked finds the running session for a remote id. The orchestrator
// records a remote id before announcing it, so it is asked when the index
// has not caught up yet.
func (m *Manager) ownerLocked(remoteID string) *run {
	if id, ok := m.byRemote[remoteID]; ok {
		if r, ok := m.running[id]; ok {
			return r
		}
	}
	for id, r := range m.running {
		if r.orch.Owns(remoteID) {
			m.byRemote[remoteID] = id
			return r
		}
	}
	return nil
}

// Cancel stops a session. Running sessions drain their orchestrator and
// finish cancelled; sessions that never started are cancelled directly.
// Cancelling a terminal session is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	r, err := m.cancelIdle(sessionID)
	if err != nil || r == nil {
		return err
	}

	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()

	err = r.orch.Stop(ctx)
	select {
	case <-r.finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	return nil
}

// cancelIdle cancels a session that has no orchestrator. It returns the
// run instead when the session is live.
func (m *Manager) cancelIdle(sessionID string) (*run, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.Lock()
	r, ok := m.running[sessionID]
	m.mu.Unlock()
	if ok {
		return r, nil
	}

	s, err := m.store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	if s.Status.Terminal() {
		return nil, nil
	}
	s.Status = models.SessionCancelled
	s.Reason = "cancelled before start"
	s.UpdatedAt = time.Now()
	if err := m.store.Save(s); err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	log.Printf("[session] session %s cancelled", sessionID)
	m.notify(context.Background(), s, notify.Update{Kind: string(orchestrator.EventOrchestrationComplete), Status: string(s.Status), Message: s.Reason})
	return nil, nil
}

// Get returns the current state of a session: the live snapshot while it
// runs, else the stored one.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	m.mu.Lock()
	r, ok := m.running[sessionID]
	m.mu.Unlock()
	if ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		s := r.session.Clone()
		if !r.finalized {
			s.Tasks = r.orch.Tasks()
			s.ActiveAgents = r.orch.ActiveAgents()
		}
		return s, nil
	}
	return m.store.Load(sessionID)
}

// Wait blocks until a running session reaches a terminal status. It
// returns immediately for sessions that are not running.
func (m *Manager) Wait(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	r, ok := m.running[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the ids of sessions with a live orchestrator.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// Recover fails sessions that a previous process left running. Their
// orchestrators are gone, so no further events can be applied to them.
func (m *Manager) Recover() (int, error) {
	active, err := m.store.ListActive()
	if err != nil {
		return 0, fmt.Errorf("recover sessions: %w", err)
	}
	m.mu.Lock()
	live := make(map[string]bool, len(m.running))
	for id := range m.running {
		live[id] = true
	}
	m.mu.Unlock()

	n := 0
	for _, s := range active {
		if s.Status != models.SessionRunning || live[s.ID] {
			continue
		}
		s.Status = models.SessionFailed
		s.Reason = ReasonInterrupted
		s.Summary = summaryPtr(models.Summarize(s.Tasks))
		s.UpdatedAt = time.Now()
		if err := m.store.Save(s); err != nil {
			return n, fmt.Errorf("recover session %s: %w", s.ID, err)
		}
		log.Printf("[session] session %s marked failed: %s", s.ID, ReasonInterrupted)
		n++
	}
	return n, nil
}

// Close cancels every running session and waits for them to finish.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := m.Cancel(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if first == nil {
			first = ctx.Err()
		}
	}
	return first
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fail records a session that could not run.
func (m *Manager) fail(ctx context.Context, r *run, reason string) {
	r.mu.Lock()
	s := r.session
	s.Status = models.SessionFailed
	s.Reason = reason
	s.Tasks = r.orch.Tasks()
	s.ActiveAgents = nil
	s.Summary = summaryPtr(models.Summarize(s.Tasks))
	s.UpdatedAt = time.Now()
	snapshot := s.Clone()
	r.finalized = true
	r.mu.Unlock()

	m.forget(snapshot.ID)
	if err := m.store.Save(snapshot); err != nil {
		log.Printf("[session] failed to persist session %s: %v", snapshot.ID, err)
	}
	log.Printf("[session] session %s failed: %s", snapshot.ID, reason)
	m.notify(ctx, snapshot, notify.Update{Kind: string(orchestrator.EventOrchestrationComplete), Status: string(snapshot.Status), Message: reason, Summary: snapshot.Summary})
}

// forget drops a session from the running set and the correlation index.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, sessionID)
	for remote, id := range m.byRemote {
		if id == sessionID {
			delete(m.byRemote, remote)
		}
	}
}

func (m *Manager) notify(ctx context.Context, s *models.Session, u notify.Update) {
	if m.notifier == nil {
		return
	}
	u.SessionID = s.ID
	u.OriginID = s.OriginID
	u.Title = s.Title
	m.notifier.Notify(ctx, u)
}

func requestText(s *models.Session) string {
	if s.Description == "" {
		return s.Title
	}
	return s.Title + "\n\n" + s.Description
}

func classificationMetadata(s *models.Session) classify.Metadata {
	meta := classify.Metadata(copyMetadata(s.Metadata))
	if meta == nil {
		meta = classify.Metadata{}
	}
	if meta[classify.MetaTitle] == "" && s.Title != "" {
		meta[classify.MetaTitle] = s.Title
	}
	return meta
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func summaryPtr(s models.Summary) *models.Summary {
	return &s
}
