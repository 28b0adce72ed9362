package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/courier/internal/delegation"
	"github.com/ShayCichocki/courier/internal/graph"
	"github.com/ShayCichocki/courier/pkg/models"
)

var (
	// ErrAlreadyStarted is returned by Start on an orchestrator that left idle.
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// ErrOrchestratorStopped is returned when work is offered to a finished orchestrator.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// stopTimeout bounds remote cancellation when Start's context ends.
const stopTimeout = 30 * time.Second

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateFinished State = "finished"
)

// Delegator is the subset of the delegation client the orchestrator uses.
type Delegator interface {
	Submit(ctx context.Context, prompt string, opts models.DelegationOptions) (*delegation.RemoteTask, error)
	Get(ctx context.Context, id string) (*delegation.RemoteTask, error)
	Cancel(ctx context.Context, id string) error
	WaitForCompletion(ctx context.Context, id string, interval time.Duration) (*delegation.RemoteTask, error)
}

// Orchestrator drives one session's tasks to terminal statuses. It owns the
// task records and the active agent set; all mutation happens under mu, and
// events are published in the order their state changes were made.
type Orchestrator struct {
	sessionID string
	cfg       Config
	delegator Delegator
	clock     Clock
	bus       *EventBus
	ownsBus   bool
	metrics   *Metrics
	logger    *DebugLogger

	// mu guards everything below.
	mu        sync.Mutex
	state     State
	tasks     []*models.Task
	byID      map[string]*models.Task
	byRemote  map[string]string
	scheduler *Scheduler
	// lastProgress is the last time a task started, progressed or finished.
	lastProgress time.Time
	summary      *models.Summary

	// pubMu orders publication; it is taken before mu is released.
	pubMu sync.Mutex

	runCtx    context.Context
	cancelRun context.CancelFunc
	// loop tracks the run goroutine, inflight the delegation goroutines.
	loop      sync.WaitGroup
	inflight  sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
}

// New creates an orchestrator for a session's tasks. The tasks are copied;
// use Tasks to read their current state.
func New(sessionID string, tasks []*models.Task, delegator Delegator, cfg Config, opts ...Option) *Orchestrator {
	options := &orchestratorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	owned := make([]*models.Task, 0, len(tasks))
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		c := t.Clone()
		owned = append(owned, c)
		byID[c.ID] = c
	}

	cfg = cfg.withDefaults()
	o := &Orchestrator{
		sessionID: sessionID,
		cfg:       cfg,
		delegator: delegator,
		clock:     options.clock,
		bus:       options.bus,
		metrics:   options.metrics,
		logger:    options.logger,
		state:     StateIdle,
		tasks:     owned,
		byID:      byID,
		byRemote:  make(map[string]string),
		scheduler: NewScheduler(owned, cfg.MaxConcurrent),
		done:      make(chan struct{}),
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.bus == nil {
		o.bus = NewEventBus(DefaultSubscriberBuffer)
		o.bus.onDrop = o.metrics.eventDropped
		o.ownsBus = true
	}
	o.runCtx, o.cancelRun = context.WithCancel(context.Background())
	return o
}

// SessionID returns the owning session id.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Subscribe registers for events of the given types (all when none given).
func (o *Orchestrator) Subscribe(kinds ...EventType) (<-chan Event, func()) {
	return o.bus.Subscribe(kinds...)
}

// Start validates the task graph, runs the first tick and starts the loop.
// Cancelling ctx later is equivalent to calling Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
	case StateFinished:
		o.mu.Unlock()
		return ErrOrchestratorStopped
	default:
		o.mu.Unlock()
		return ErrAlreadyStarted
	}

	g := graph.New(o.tasks)
	g.SetDebugLog(debugLog)
	for taskID, deps := range g.Unknown() {
		log.Printf("[orchestrator] session %s: task %s depends on unknown tasks %v; it will stay blocked", o.sessionID, taskID, deps)
	}
	if err := g.Validate(); err != nil {
		o.state = StateFinished
		o.mu.Unlock()
		o.closeDone()
		return fmt.Errorf("validating task graph: %w", err)
	}

	o.state = StateRunning
	o.lastProgress = o.clock.Now()
	o.logger.Log("[orchestrator] session %s starting with %d tasks, max concurrent %d", o.sessionID, len(o.tasks), o.cfg.MaxConcurrent)
	events := o.tickLocked()
	o.unlockAndPublish(events)

	o.loop.Add(1)
	go o.run(ctx)
	return nil
}

// Done is closed once the orchestrator reaches finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the run loop and every delegation goroutine returned.
func (o *Orchestrator) Wait() {
	o.loop.Wait()
	o.inflight.Wait()
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Tasks returns snapshots of every task in arrival order.
func (o *Orchestrator) Tasks() []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.Task, len(o.tasks))
	for i, t := range o.tasks {
		out[i] = t.Clone()
	}
	return out
}

// ActiveAgents returns snapshots of the live agent instances keyed by id.
func (o *Orchestrator) ActiveAgents() map[string]*models.AgentInstance {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*models.AgentInstance, o.scheduler.Running())
	for _, inst := range o.scheduler.Instances() {
		out[inst.ID] = agentSnapshot(inst)
	}
	return out
}

// Summary returns the final summary once finished, else nil.
func (o *Orchestrator) Summary() *models.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return nil
	}
	s := *o.summary
	return &s
}

// Owns reports whether a remote task id belongs to this orchestrator.
func (o *Orchestrator) Owns(remoteTaskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byRemote[remoteTaskID]
	return ok
}

// ApplyEvent applies a webhook event to the task it correlates with. It
// returns false when the event is unknown, the task is already terminal,
// or the orchestrator is not running. Applying the same terminal event
// twice leaves the task unchanged.
func (o *Orchestrator) ApplyEvent(ev models.ProcessedEvent) bool {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StateDraining {
		o.mu.Unlock()
		return false
	}
	taskID, ok := o.byRemote[ev.RemoteTaskID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	task := o.byID[taskID]
	if task.Status.Terminal() {
		o.mu.Unlock()
		debugLog("[orchestrator] ignoring %s for terminal task %s", ev.Kind, taskID)
		return false
	}

	now := o.clock.Now()
	var events []Event
	if ev.Kind.Terminal() {
		events = o.completeLocked(task, ev.Status.TaskStatus(), eventResult(ev), now)
	} else {
		o.lastProgress = now
		if inst := o.scheduler.Instance(taskID); inst != nil && inst.Status == models.AgentStatusStarting {
			inst.Status = models.AgentStatusRunning
		}
		if ev.Kind == models.EventKindProgress {
			events = append(events, Event{
				Type:      EventTaskProgress,
				Task:      task.Clone(),
				Progress:  ev.Progress,
				Notify:    ev.ShouldNotify,
				Timestamp: now,
			})
		}
	}
	o.unlockAndPublish(events)
	return true
}

func eventResult(ev models.ProcessedEvent) *models.TaskResult {
	r := &models.TaskResult{RemoteTaskID: ev.RemoteTaskID}
	if ev.Result != nil {
		r.Output = ev.Result.Output
		r.PRURL = ev.Result.PRURL
		r.Error = ev.Result.Error
	}
	if ev.Error != nil {
		r.Error = ev.Error.Message
	}
	if ev.Status == models.RemoteFailed && r.Error == "" {
		r.Error = "remote task failed"
	}
	return r
}

// Stop drains the orchestrator: no new tasks start, every live remote task
// is asked to cancel, and never-started tasks are cancelled. A running task
// becomes cancelled only when the remote agent confirms it; otherwise it
// keeps its last known status. Stop returns the first remote error, after
// the orchestrator has finished regardless.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateDraining, StateFinished:
		o.mu.Unlock()
		return nil
	case StateIdle:
		now := o.clock.Now()
		var events []Event
		for _, task := range o.tasks {
			events = append(events, o.completeLocked(task, models.TaskStatusCancelled, &models.TaskResult{Error: "session cancelled"}, now)...)
		}
		if o.state != StateFinished {
			events = append(events, o.finishLocked(now)...)
		}
		o.unlockAndPublish(events)
		return nil
	}

	o.state = StateDraining
	now := o.clock.Now()
	log.Printf("[orchestrator] session %s draining", o.sessionID)

	type live struct{ taskID, remoteID string }
	var remotes []live
	for _, inst := range o.scheduler.Instances() {
		if inst.RemoteTaskID != "" {
			remotes = append(remotes, live{inst.TaskID, inst.RemoteTaskID})
		}
	}
	var events []Event
	for _, task := range o.tasks {
		if task.Status == models.TaskStatusPending {
			events = append(events, o.completeLocked(task, models.TaskStatusCancelled, &models.TaskResult{Error: "session cancelled before start"}, now)...)
		}
	}
	o.unlockAndPublish(events)

	// Abort submissions and polls still in flight.
	o.cancelRun()

	var g errgroup.Group
	for _, r := range remotes {
		g.Go(func() error {
			return o.cancelRemote(ctx, r.taskID, r.remoteID)
		})
	}
	err := g.Wait()
	o.inflight.Wait()

	o.mu.Lock()
	now = o.clock.Now()
	events = nil
	instances := o.scheduler.Instances()
	sort.Slice(instances, func(i, j int) bool { return instances[i].TaskID < instances[j].TaskID })
	for _, inst := range instances {
		events = append(events, o.terminateLocked(inst, models.AgentStatusFailed, now)...)
	}
	if o.state != StateFinished {
		events = append(events, o.finishLocked(now)...)
	}
	o.unlockAndPublish(events)
	return err
}

// cancelRemote asks the remote agent to cancel and applies what it reports.
func (o *Orchestrator) cancelRemote(ctx context.Context, taskID, remoteID string) error {
	if err := o.delegator.Cancel(ctx, remoteID); err != nil {
		if delegation.IsNotFound(err) {
			o.forgetRemote(taskID, remoteID)
			return nil
		}
		log.Printf("[orchestrator] session %s: cancel of %s failed: %v", o.sessionID, remoteID, err)
		return fmt.Errorf("cancelling task %s: %w", taskID, err)
	}
	remote, err := o.delegator.Get(ctx, remoteID)
	if err != nil {
		if delegation.IsNotFound(err) {
			o.forgetRemote(taskID, remoteID)
			return nil
		}
		return fmt.Errorf("confirming cancellation of task %s: %w", taskID, err)
	}
	if !remote.Status.Terminal() {
		log.Printf("[orchestrator] session %s: %s still %s after cancel; leaving task %s running", o.sessionID, remoteID, remote.Status, taskID)
		return nil
	}
	o.applyRemote(taskID, remote)
	return nil
}

// forgetRemote cancels a task whose remote counterpart no longer exists.
func (o *Orchestrator) forgetRemote(taskID, remoteID string) {
	log.Printf("[orchestrator] session %s: remote %s not found; cancelling task %s", o.sessionID, remoteID, taskID)
	o.finishTask(taskID, models.TaskStatusCancelled, &models.TaskResult{
		RemoteTaskID: remoteID,
		Error:        "remote task not found",
	})
}

// terminateLocked removes a live instance and returns its event.
func (o *Orchestrator) terminateLocked(inst *models.AgentInstance, status models.AgentStatus, now time.Time) []Event {
	if o.scheduler.Release(inst.TaskID) == nil {
		return nil
	}
	inst.Status = status
	inst.CompletedAt = &now
	taskStatus := models.TaskStatusFailed
	if task := o.byID[inst.TaskID]; task != nil {
		taskStatus = task.Status
	}
	o.metrics.agentTerminated(taskStatus, now.Sub(inst.StartedAt))
	o.logger.Log("[orchestrator] agent %s for task %s terminated (%s)", inst.ID, inst.TaskID, status)
	return []Event{{Type: EventAgentTerminated, Agent: agentSnapshot(inst), Timestamp: now}}
}

// completeLocked moves a task to a terminal status. Transitions out of a
// terminal status are ignored.
func (o *Orchestrator) completeLocked(task *models.Task, status models.TaskStatus, result *models.TaskResult, now time.Time) []Event {
	if !task.Status.CanTransition(status) {
		return nil
	}
	inst := o.scheduler.Instance(task.ID)
	if result == nil {
		result = &models.TaskResult{}
	}
	if result.RemoteTaskID == "" && inst != nil {
		result.RemoteTaskID = inst.RemoteTaskID
	}

	task.Status = status
	task.CompletedAt = &now
	task.Result = result
	o.lastProgress = now
	o.metrics.taskOutcome(status)
	o.logger.Log("[orchestrator] task %s -> %s %s", task.ID, status, result.Error)

	events := []Event{{
		Type:      terminalEventType(status),
		Task:      task.Clone(),
		Notify:    true,
		Message:   result.Error,
		Timestamp: now,
	}}
	if inst != nil {
		agentStatus := models.AgentStatusCompleted
		if status != models.TaskStatusCompleted {
			agentStatus = models.AgentStatusFailed
		}
		events = append(events, o.terminateLocked(inst, agentStatus, now)...)
	}
	return append(events, o.maybeFinishLocked(now)...)
}

// maybeFinishLocked finishes once every task is terminal.
func (o *Orchestrator) maybeFinishLocked(now time.Time) []Event {
	if o.state != StateRunning && o.state != StateDraining {
		return nil
	}
	for _, t := range o.tasks {
		if !t.Status.Terminal() {
			return nil
		}
	}
	return o.finishLocked(now)
}

func (o *Orchestrator) finishLocked(now time.Time) []Event {
	summary := models.Summarize(o.tasks)
	o.summary = &summary
	o.state = StateFinished
	log.Printf("[orchestrator] session %s finished: %d total, %d completed, %d failed, %d cancelled",
		o.sessionID, summary.Total, summary.Completed, summary.Failed, summary.Cancelled)
	s := summary
	return []Event{{Type: EventOrchestrationComplete, Summary: &s, Notify: true, Timestamp: now}}
}

// unlockAndPublish releases mu and publishes events in order. pubMu is
// taken before mu is released so batches cannot interleave.
func (o *Orchestrator) unlockAndPublish(events []Event) {
	if len(events) == 0 {
		o.mu.Unlock()
		return
	}
	o.pubMu.Lock()
	o.mu.Unlock()
	defer o.pubMu.Unlock()

	for _, e := range events {
		e.SessionID = o.sessionID
		o.bus.Publish(e)
		if e.Type == EventOrchestrationComplete {
			o.closeDone()
		}
	}
}

func (o *Orchestrator) closeDone() {
	o.doneOnce.Do(func() {
		o.cancelRun()
		close(o.done)
		if o.ownsBus {
			o.bus.Close()
		}
	})
}
