// Package graph provides the dependency view over a session's tasks: the
// readiness predicate, candidate ordering and cycle detection.
//
// Ordering and gating are separate concerns. Ready filters on dependencies;
// the priority sort only decides which ready tasks fill free slots first.
// There is no topological sort.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/courier/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph indexes tasks by ID with their "blocked by" edges.
// It does not copy tasks; callers synchronize access to task status.
type DependencyGraph struct {
	// order preserves arrival order of task IDs.
	order []string
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// unknown maps task ID to dependency IDs that name no task.
	unknown map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New builds a dependency graph over tasks. Dependencies on unknown IDs are
// recorded, not rejected: such tasks simply never become ready.
func New(tasks []*models.Task) *DependencyGraph {
	g := &DependencyGraph{
		nodes:    make(map[string]*models.Task, len(tasks)),
		edges:    make(map[string][]string, len(tasks)),
		unknown:  make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {},
	}

	for _, task := range tasks {
		if _, dup := g.nodes[task.ID]; !dup {
			g.order = append(g.order, task.ID)
		}
		g.nodes[task.ID] = task
	}
	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				g.unknown[task.ID] = append(g.unknown[task.ID], depID)
				continue
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}
	return g
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Unknown returns, per task ID, the dependency IDs that name no task.
func (g *DependencyGraph) Unknown() map[string][]string {
	out := make(map[string][]string, len(g.unknown))
	for id, deps := range g.unknown {
		out[id] = append([]string(nil), deps...)
	}
	return out
}

// Cycle returns one dependency cycle as a path of task IDs that starts and
// ends with the same ID, or nil if the graph is acyclic. Traversal follows
// arrival order, so the result is deterministic.
func (g *DependencyGraph) Cycle() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: the cycle is the stack suffix starting at depID.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == depID {
						cycle = append(append([]string(nil), stack[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// Validate returns ErrCycleDetected, wrapped with the offending path, if the
// graph has a cycle among known tasks.
func (g *DependencyGraph) Validate() error {
	if cycle := g.Cycle(); cycle != nil {
		g.debugLog("[graph.Validate] cycle: %v", cycle)
		return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}
	return nil
}

// Index maps tasks by ID. A later duplicate ID replaces an earlier one.
func Index(tasks []*models.Task) map[string]*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

// IsReady reports whether task may start: it is pending and every
// dependency resolves to a completed task. An unknown dependency ID counts
// as unsatisfied.
func IsReady(task *models.Task, byID map[string]*models.Task) bool {
	if task.Status != models.TaskStatusPending {
		return false
	}
	for _, depID := range task.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// IsBlocked reports whether a pending task is waiting on dependencies.
// Blocked is a view over stored status, never a stored status itself.
func IsBlocked(task *models.Task, byID map[string]*models.Task) bool {
	return task.Status == models.TaskStatusPending && !IsReady(task, byID)
}

// Ready filters tasks down to the ready set and orders it by descending
// priority. Ties keep input order.
func Ready(tasks []*models.Task) []*models.Task {
	byID := Index(tasks)
	var ready []*models.Task
	for _, t := range tasks {
		if IsReady(t, byID) {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

// Blocked returns the pending tasks that are not ready, in input order.
func Blocked(tasks []*models.Task) []*models.Task {
	byID := Index(tasks)
	var blocked []*models.Task
	for _, t := range tasks {
		if IsBlocked(t, byID) {
			blocked = append(blocked, t)
		}
	}
	return blocked
}
