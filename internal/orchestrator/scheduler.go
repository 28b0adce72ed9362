package orchestrator

import (
	"github.com/ShayCichocki/courier/internal/graph"
	"github.com/ShayCichocki/courier/pkg/models"
)

// Scheduler picks ready tasks for free agent slots. It is not safe for
// concurrent use; the orchestrator serializes access under its lock.
type Scheduler struct {
	// tasks is the session's task list in arrival order.
	tasks []*models.Task
	// running maps task IDs to their live agent instances.
	running map[string]*models.AgentInstance
	// maxConcurrent is the maximum number of live instances allowed.
	maxConcurrent int
}

// NewScheduler creates a Scheduler over tasks with the given slot limit.
func NewScheduler(tasks []*models.Task, maxConcurrent int) *Scheduler {
	return &Scheduler{
		tasks:         tasks,
		running:       make(map[string]*models.AgentInstance),
		maxConcurrent: maxConcurrent,
	}
}

// Schedule returns the ready tasks that fit in the free slots, highest
// priority first. Selection stops once the slots are filled.
func (s *Scheduler) Schedule() []*models.Task {
	available := s.Available()
	if available <= 0 {
		debugLog("[scheduler] no available slots: max=%d, running=%d", s.maxConcurrent, len(s.running))
		return nil
	}

	var selected []*models.Task
	for _, task := range graph.Ready(s.tasks) {
		if _, busy := s.running[task.ID]; busy {
			continue
		}
		selected = append(selected, task)
		if len(selected) == available {
			break
		}
	}
	debugLog("[scheduler] selected %d of %d free slots", len(selected), available)
	return selected
}

// Available returns the number of free slots.
func (s *Scheduler) Available() int {
	return s.maxConcurrent - len(s.running)
}

// Track records a live instance.
func (s *Scheduler) Track(inst *models.AgentInstance) {
	s.running[inst.TaskID] = inst
}

// Instance returns the live instance for a task, or nil.
func (s *Scheduler) Instance(taskID string) *models.AgentInstance {
	return s.running[taskID]
}

// Release removes and returns the live instance for a task, or nil.
func (s *Scheduler) Release(taskID string) *models.AgentInstance {
	inst, ok := s.running[taskID]
	if !ok {
		return nil
	}
	delete(s.running, taskID)
	return inst
}

// Running returns the number of live instances.
func (s *Scheduler) Running() int {
	return len(s.running)
}

// Instances returns the live instances.
func (s *Scheduler) Instances() []*models.AgentInstance {
	out := make([]*models.AgentInstance, 0, len(s.running))
	for _, inst := range s.running {
		out = append(out, inst)
	}
	return out
}
