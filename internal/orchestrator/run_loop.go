package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/internal/delegation"
	"github.com/ShayCichocki/courier/pkg/models"
)

// stallMessage is recorded on tasks failed by the stall timeout.
const stallMessage = "dependencies unsatisfiable"

// run ticks until the orchestrator finishes or ctx ends.
func (o *Orchestrator) run(ctx context.Context) {
	defer o.loop.Done()

	ticker := o.clock.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			if err := o.Stop(stopCtx); err != nil {
				log.Printf("[orchestrator] session %s: stop after context end: %v", o.sessionID, err)
			}
			cancel()
			return
		case <-ticker.C():
			o.tick()
		}
	}
}

// tick runs one scheduling pass.
func (o *Orchestrator) tick() {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	events := o.tickLocked()
	o.unlockAndPublish(events)
}

func (o *Orchestrator) tickLocked() []Event {
	now := o.clock.Now()
	var events []Event

	ready := o.scheduler.Schedule()
	for _, task := range ready {
		if o.scheduler.Available() <= 0 {
			break
		}
		events = append(events, o.startTaskLocked(task, now)...)
	}

	if len(ready) > 0 || o.scheduler.Running() > 0 {
		o.lastProgress = now
	} else {
		events = append(events, o.checkStallLocked(now)...)
	}

	return append(events, o.maybeFinishLocked(now)...)
}

// checkStallLocked fails every pending task once nothing has run or become
// ready for StallTimeout.
func (o *Orchestrator) checkStallLocked(now time.Time) []Event {
	if o.cfg.StallTimeout <= 0 || now.Sub(o.lastProgress) < o.cfg.StallTimeout {
		return nil
	}
	var events []Event
	for _, task := range o.tasks {
		if task.Status == models.TaskStatusPending {
			log.Printf("[orchestrator] session %s: task %s blocked for %v, failing it", o.sessionID, task.ID, o.cfg.StallTimeout)
			events = append(events, o.completeLocked(task, models.TaskStatusFailed, &models.TaskResult{Error: stallMessage}, now)...)
		}
	}
	return events
}

// startTaskLocked marks a task running, creates its instance and launches
// the delegation goroutine.
func (o *Orchestrator) startTaskLocked(task *models.Task, now time.Time) []Event {
	task.Status = models.TaskStatusRunning
	started := now
	task.StartedAt = &started

	inst := &models.AgentInstance{
		ID:        "agent-" + uuid.New().String()[:8],
		TaskID:    task.ID,
		Status:    models.AgentStatusStarting,
		StartedAt: now,
	}
	o.scheduler.Track(inst)
	o.metrics.agentStarted()
	o.logger.Log("[orchestrator] starting task %s (priority %d) as %s", task.ID, task.Priority, inst.ID)

	snapshot := task.Clone()
	o.inflight.Add(1)
	go o.delegate(snapshot, inst.ID)

	return []Event{
		{Type: EventAgentSpawned, Agent: agentSnapshot(inst), Task: snapshot, Timestamp: now},
		{Type: EventTaskStarted, Task: snapshot, Timestamp: now},
	}
}

// delegate submits one task and, in poll mode, waits for it. It never
// blocks the run loop.
func (o *Orchestrator) delegate(task *models.Task, instID string) {
	defer o.inflight.Done()
	ctx := o.runCtx

	remote, err := o.submit(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			o.finishTask(task.ID, models.TaskStatusCancelled, &models.TaskResult{Error: "cancelled before the remote agent accepted the task"})
			return
		}
		log.Printf("[orchestrator] session %s: task %s submission failed: %v", o.sessionID, task.ID, err)
		o.finishTask(task.ID, models.TaskStatusFailed, &models.TaskResult{Error: err.Error()})
		return
	}

	if !o.accept(task.ID, instID, remote.ID) {
		// Stopped while the submission was in flight.
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := o.cancelRemote(stopCtx, task.ID, remote.ID); err != nil {
			log.Printf("[orchestrator] session %s: %v", o.sessionID, err)
		}
		return
	}

	if remote.Status.Terminal() {
		o.applyRemote(task.ID, remote)
		return
	}
	if o.cfg.Completion != config.CompletionPoll {
		return
	}

	final, err := o.delegator.WaitForCompletion(ctx, remote.ID, o.cfg.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.finishTask(task.ID, models.TaskStatusFailed, &models.TaskResult{RemoteTaskID: remote.ID, Error: err.Error()})
		return
	}
	o.applyRemote(task.ID, final)
}

// submit sends the task, retrying transient failures when the task's
// options allow it.
func (o *Orchestrator) submit(ctx context.Context, task *models.Task) (*delegation.RemoteTask, error) {
	prompt := delegation.BuildPrompt(task)
	var opts models.DelegationOptions
	if task.Options != nil {
		opts = task.Options.Clone()
	}
	if !opts.RetryOnFailure || opts.MaxRetries <= 0 {
		return o.delegator.Submit(ctx, prompt, opts)
	}

	var remote *delegation.RemoteTask
	op := func() error {
		r, err := o.delegator.Submit(ctx, prompt, opts)
		if err != nil {
			if ctx.Err() == nil && delegation.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		remote = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInitialInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxRetries)), ctx)

	notify := func(err error, next time.Duration) {
		o.metrics.submitRetried()
		log.Printf("[orchestrator] session %s: task %s submission failed, retrying in %v: %v", o.sessionID, task.ID, next, err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return remote, nil
}

// accept records the remote id. It returns false if the task can no longer
// be tracked because the orchestrator stopped scheduling it.
func (o *Orchestrator) accept(taskID, instID, remoteID string) bool {
	o.mu.Lock()
	task := o.byID[taskID]
	inst := o.scheduler.Instance(taskID)
	if o.state != StateRunning || task.Status.Terminal() || inst == nil || inst.ID != instID {
		// Still correlate so a confirmed cancel can be applied.
		o.byRemote[remoteID] = taskID
		o.mu.Unlock()
		return false
	}

	o.byRemote[remoteID] = taskID
	inst.RemoteTaskID = remoteID
	if inst.Status == models.AgentStatusStarting {
		inst.Status = models.AgentStatusRunning
	}
	o.lastProgress = o.clock.Now()
	o.logger.Log("[orchestrator] task %s accepted as remote %s", taskID, remoteID)

	snapshot := task.Clone()
	snapshot.Result = &models.TaskResult{RemoteTaskID: remoteID}
	events := []Event{{Type: EventTaskSubmitted, Task: snapshot, Agent: agentSnapshot(inst), Timestamp: o.lastProgress}}
	o.unlockAndPublish(events)
	return true
}

// applyRemote applies a terminal remote view to a task.
func (o *Orchestrator) applyRemote(taskID string, remote *delegation.RemoteTask) {
	if !remote.Status.Terminal() {
		return
	}
	o.finishTask(taskID, remote.TaskStatus(), remote.TaskResult())
}

func (o *Orchestrator) finishTask(taskID string, status models.TaskStatus, result *models.TaskResult) {
	o.mu.Lock()
	task, ok := o.byID[taskID]
	if !ok || task.Status.Terminal() || o.state == StateFinished {
		o.mu.Unlock()
		return
	}
	events := o.completeLocked(task, status, result, o.clock.Now())
	o.unlockAndPublish(events)
}
