package session

import (
	"log"
	"time"

	"github.com/ShayCichocki/courier/internal/notify"
	"github.com/ShayCichocki/courier/internal/orchestrator"
	"github.com/ShayCichocki/courier/pkg/models"
)

// watch consumes one orchestrator's events until it finishes. If the
// aggregate event was dropped by the bus, the session is finalized from
// the orchestrator's own summary.
func (m *Manager) watch(r *run, events <-chan orchestrator.Event, unsubscribe func()) {
	defer m.wg.Done()
	defer close(r.finished)
	defer unsubscribe()

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			m.handle(r, ev)
		case <-r.orch.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						break loop
					}
					m.handle(r, ev)
				default:
					break loop
				}
			}
		}
	}

	r.mu.Lock()
	finalized := r.finalized
	r.mu.Unlock()
	if summary := r.orch.Summary(); !finalized && summary != nil {
		m.finalize(r, summary)
	}
}

func (m *Manager) handle(r *run, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventTaskSubmitted:
		m.acknowledge(r, ev)
		m.persist(r)
	case orchestrator.EventTaskStarted,
		orchestrator.EventTaskCompleted,
		orchestrator.EventTaskFailed,
		orchestrator.EventTaskCancelled:
		m.persist(r)
	case orchestrator.EventOrchestrationComplete:
		m.finalize(r, ev.Summary)
		return
	}

	if ev.Notify {
		r.mu.Lock()
		s := r.session.Clone()
		r.mu.Unlock()
		m.notify(m.ctx, s, updateFrom(ev))
	}
}

// acknowledge indexes a newly accepted remote id and replays any events
// that arrived before it.
func (m *Manager) acknowledge(r *run, ev orchestrator.Event) {
	if ev.Task == nil || ev.Task.Result == nil || ev.Task.Result.RemoteTaskID == "" {
		return
	}
	remoteID := ev.Task.Result.RemoteTaskID

	m.mu.Lock()
	m.byRemote[remoteID] = r.orch.SessionID()
	buffered, ok := m.pending.Get(remoteID)
	if ok {
		m.pending.Remove(remoteID)
	}
	m.mu.Unlock()

	for _, pe := range buffered {
		log.Printf("[session] replaying buffered %s for remote task %s", pe.Kind, remoteID)
		r.orch.ApplyEvent(pe)
	}
}

// persist saves a snapshot of the running session.
func (m *Manager) persist(r *run) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.session.Tasks = r.orch.Tasks()
	r.session.ActiveAgents = r.orch.ActiveAgents()
	r.session.UpdatedAt = time.Now()
	snapshot := r.session.Clone()
	r.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		log.Printf("[session] failed to persist session %s: %v", snapshot.ID, err)
	}
}

// finalize records the terminal status once every task is terminal or the
// orchestrator was stopped. A cancel request that arrives after all tasks
// already finished does not rewrite the outcome.
func (m *Manager) finalize(r *run, summary *models.Summary) {
	if summary == nil {
		summary = r.orch.Summary()
	}
	if summary == nil {
		return
	}

	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.finalized = true
	s := r.session
	s.Tasks = r.orch.Tasks()
	s.ActiveAgents = nil
	sum := *summary
	s.Summary = &sum
	unfinished := sum.Cancelled > 0 || sum.Running > 0 || sum.Pending > 0
	switch {
	case r.cancelled && unfinished:
		s.Status = models.SessionCancelled
		s.Reason = "cancelled"
	case sum.Failed > 0:
		s.Status = models.SessionFailed
		s.Reason = failureReason(s.Tasks)
	default:
		s.Status = models.SessionCompleted
	}
	s.UpdatedAt = time.Now()
	snapshot := s.Clone()
	r.mu.Unlock()

	m.forget(snapshot.ID)
	if err := m.store.Save(snapshot); err != nil {
		log.Printf("[session] failed to persist session %s: %v", snapshot.ID, err)
	}
	log.Printf("[session] session %s %s: %d total, %d completed, %d failed, %d cancelled",
		snapshot.ID, snapshot.Status, sum.Total, sum.Completed, sum.Failed, sum.Cancelled)
	m.notify(m.ctx, snapshot, notify.Update{
		Kind:    string(orchestrator.EventOrchestrationComplete),
		Status:  string(snapshot.Status),
		Message: snapshot.Reason,
		Summary: snapshot.Summary,
	})
}

// failureReason names the first failed task.
func failureReason(tasks []*models.Task) string {
	for _, t := range tasks {
		if t.Status != models.TaskStatusFailed {
			continue
		}
		if t.Result != nil && t.Result.Error != "" {
			return "task " + t.ID + " failed: " + t.Result.Error
		}
		return "task " + t.ID + " failed"
	}
	return ""
}

func updateFrom(ev orchestrator.Event) notify.Update {
	u := notify.Update{
		Kind:      string(ev.Type),
		Message:   ev.Message,
		Progress:  ev.Progress,
		Summary:   ev.Summary,
		Timestamp: ev.Timestamp,
	}
	if ev.Task != nil {
		u.TaskID = ev.Task.ID
		u.TaskTitle = ev.Task.Title
		u.Status = string(ev.Task.Status)
		if ev.Task.Result != nil {
			u.PRURL = ev.Task.Result.PRURL
		}
	}
	return u
}
