package orchestrator

import (
	"testing"

	"github.com/ShayCichocki/courier/pkg/models"
)

func TestSchedulerScheduleEmpty(t *testing.T) {
	s := NewScheduler(nil, 4)
	if ready := s.Schedule(); len(ready) != 0 {
		t.Errorf("expected 0 ready tasks, got %d", len(ready))
	}
}

func TestSchedulerRespectsSlotsAndPriority(t *testing.T) {
	tasks := []*models.Task{
		newTask("low", 2),
		newTask("high", 9),
		newTask("mid", 5),
	}
	s := NewScheduler(tasks, 2)

	ready := s.Schedule()
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != "high" || ready[1].ID != "mid" {
		t.Errorf("expected [high mid], got [%s %s]", ready[0].ID, ready[1].ID)
	}
}

func TestSchedulerSkipsRunningAndBlocked(t *testing.T) {
	tasks := []*models.Task{
		newTask("a", 5),
		newTask("b", 5, "a"),
		newTask("c", 5),
	}
	s := NewScheduler(tasks, 4)
	s.Track(&models.AgentInstance{ID: "agent-1", TaskID: "a"})

	ready := s.Schedule()
	if len(ready) != 1 || ready[0].ID != "c" {
		t.Fatalf("expected only c ready, got %v", ready)
	}
	if s.Available() != 3 {
		t.Errorf("expected 3 free slots, got %d", s.Available())
	}
}

func TestSchedulerNoSlots(t *testing.T) {
	tasks := []*models.Task{newTask("a", 5), newTask("b", 5)}
	s := NewScheduler(tasks, 1)
	s.Track(&models.AgentInstance{ID: "agent-1", TaskID: "x"})

	if ready := s.Schedule(); ready != nil {
		t.Errorf("expected nil with no free slots, got %v", ready)
	}
}

func TestSchedulerRelease(t *testing.T) {
	s := NewScheduler(nil, 2)
	inst := &models.AgentInstance{ID: "agent-1", TaskID: "a"}
	s.Track(inst)

	if got := s.Instance("a"); got != inst {
		t.Fatal("Instance() did not return tracked instance")
	}
	if got := s.Release("a"); got != inst {
		t.Fatal("Release() did not return tracked instance")
	}
	if s.Release("a") != nil {
		t.Error("second Release() should return nil")
	}
	if s.Running() != 0 {
		t.Errorf("expected 0 running, got %d", s.Running())
	}
}
