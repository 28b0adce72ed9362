// Package notify forwards session progress to external sinks. Delivery is
// best effort: failures are retried with bounded exponential backoff, then
// logged, and never affect task state.
package notify

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/pkg/models"
)

// Update is one notify-worthy change in a session.
type Update struct {
	SessionID string           `json:"session_id"`
	OriginID  string           `json:"origin_id,omitempty"`
	Title     string           `json:"title,omitempty"`
	Kind      string           `json:"kind"`
	TaskID    string           `json:"task_id,omitempty"`
	TaskTitle string           `json:"task_title,omitempty"`
	Status    string           `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	PRURL     string           `json:"pr_url,omitempty"`
	Progress  *models.Progress `json:"progress,omitempty"`
	Summary   *models.Summary  `json:"summary,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Reporter delivers updates to one sink.
type Reporter interface {
	Name() string
	Report(ctx context.Context, u Update) error
}

const (
	defaultMaxRetries = 3
	deliveryTimeout   = 30 * time.Second
	// queueSize bounds the updates waiting for one reporter.
	queueSize = 256
)

// Dispatcher fans updates out to reporters without blocking the caller.
// Each reporter has one worker, so a sink sees updates in the order they
// were sent, including across retries.
type Dispatcher struct {
	reporters       []Reporter
	queues          []chan delivery
	maxRetries      int
	initialInterval time.Duration

	// mu guards closed and sends on queues.
	mu     sync.RWMutex
	closed bool

	pending   sync.WaitGroup
	workers   sync.WaitGroup
	delivered atomic.Int64
	failed    atomic.Int64
}

type delivery struct {
	ctx context.Context
	u   Update
}

// NewDispatcher creates a dispatcher and starts one worker per reporter.
// maxRetries <= 0 selects the default of 3.
func NewDispatcher(maxRetries int, reporters ...Reporter) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	d := &Dispatcher{
		reporters:       reporters,
		queues:          make([]chan delivery, len(reporters)),
		maxRetries:      maxRetries,
		initialInterval: 500 * time.Millisecond,
	}
	for i, r := range reporters {
		q := make(chan delivery, queueSize)
		d.queues[i] = q
		d.workers.Add(1)
		go d.run(r, q)
	}
	return d
}

// FromConfig builds a dispatcher with a log reporter plus the Kafka and
// Slack reporters enabled in cfg.
func FromConfig(cfg config.NotifyConfig) *Dispatcher {
	reporters := []Reporter{NewLogReporter(nil)}
	if len(cfg.Kafka.Brokers) > 0 {
		reporters = append(reporters, NewKafkaReporter(cfg.Kafka))
	}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		reporters = append(reporters, NewSlackReporter(cfg.Slack))
	}
	return NewDispatcher(cfg.MaxRetries, reporters...)
}

// Reporters returns the names of the configured reporters.
func (d *Dispatcher) Reporters() []string {
	names := make([]string, len(d.reporters))
	for i, r := range d.reporters {
		names[i] = r.Name()
	}
	return names
}

// Notify queues u for every reporter and returns immediately. Deliveries
// outlive cancellation of ctx but are bounded by their own timeout. An
// update is dropped for a reporter whose queue is full.
func (d *Dispatcher) Notify(ctx context.Context, u Update) {
	if d == nil {
		return
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	base := context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for i, q := range d.queues {
		d.pending.Add(1)
		select {
		case q <- delivery{ctx: base, u: u}:
		default:
			d.pending.Done()
			d.failed.Add(1)
			log.Printf("[notify] %s queue full, dropped %s update for session %s", d.reporters[i].Name(), u.Kind, u.SessionID)
		}
	}
}

// run delivers queued updates to r one at a time.
func (d *Dispatcher) run(r Reporter, q <-chan delivery) {
	defer d.workers.Done()
	for item := range q {
		ctx, cancel := context.WithTimeout(item.ctx, deliveryTimeout)
		d.deliver(ctx, r, item.u)
		cancel()
		d.pending.Done()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r Reporter, u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			d.failed.Add(1)
			log.Printf("[notify] reporter %s panicked: %v", r.Name(), rec)
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxRetries)), ctx)

	op := func() error {
		return r.Report(ctx, u)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[notify] %s delivery for session %s failed, retrying in %v: %v", r.Name(), u.SessionID, wait, err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		d.failed.Add(1)
		log.Printf("[notify] %s dropped %s update for session %s: %v", r.Name(), u.Kind, u.SessionID, err)
		return
	}
	d.delivered.Add(1)
}

// Wait blocks until every queued delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.pending.Wait()
}

// Close drains the queues, stops the workers and releases reporter
// resources. Updates sent after Close are ignored.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.workers.Wait()

	var first error
	for _, r := range d.reporters {
		c, ok := r.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns the number of delivered and dropped reporter deliveries.
func (d *Dispatcher) Stats() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}
