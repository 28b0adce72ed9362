// Package orchestrator drives one session's delegated tasks to completion.
//
// An Orchestrator moves through idle, running, draining and finished. While
// running it ticks on a fixed interval; each tick asks the Scheduler for
// ready tasks (pending, every dependency completed, highest priority first)
// and starts them until the concurrency cap is reached. Each started task is
// submitted to the remote agent on its own goroutine, so a slow submission
// never delays the loop.
//
// Completion arrives one of two ways:
//   - webhook mode: the session layer calls ApplyEvent with correlated
//     webhook events
//   - poll mode: each task goroutine long-polls the remote agent
//
// Terminal statuses are final. Events are published on an EventBus in the
// order the state changes were made, and orchestration:complete is always
// the last event of a session.
//
// Example usage:
//
//	o := orchestrator.New(sessionID, tasks, client, orchestrator.Config{MaxConcurrent: 2})
//	events, unsubscribe := o.Subscribe()
//	defer unsubscribe()
//	if err := o.Start(ctx); err != nil {
//		return err
//	}
//	<-o.Done()
package orchestrator
