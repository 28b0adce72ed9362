package orchestrator

import (
	"time"

	"github.com/ShayCichocki/courier/internal/config"
)

// Config holds per-session scheduling settings.
type Config struct {
	// MaxConcurrent caps live agent instances for the session.
	MaxConcurrent int
	// TickInterval is the run loop period.
	TickInterval time.Duration
	// StallTimeout fails blocked tasks after this long with nothing running
	// or ready. Zero leaves blocked tasks pending forever.
	StallTimeout time.Duration
	// Completion is config.CompletionWebhook or config.CompletionPoll.
	Completion string
	// PollInterval is passed to WaitForCompletion in poll mode.
	PollInterval time.Duration
	// RetryInitialInterval is the first backoff for submit retries.
	RetryInitialInterval time.Duration
}

// ConfigFrom builds orchestrator settings from loaded configuration.
func ConfigFrom(orch config.OrchestratorConfig, remote config.RemoteConfig) Config {
	return Config{
		MaxConcurrent: orch.MaxConcurrent,
		TickInterval:  orch.TickInterval,
		StallTimeout:  orch.StallTimeout,
		Completion:    orch.Completion,
		PollInterval:  remote.PollInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.Completion == "" {
		c.Completion = config.CompletionWebhook
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = time.Second
	}
	return c
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	clock   Clock
	bus     *EventBus
	metrics *Metrics
	logger  *DebugLogger
}

// WithClock injects a clock, for tests that drive the loop by hand.
func WithClock(c Clock) Option {
	return func(o *orchestratorOptions) { o.clock = c }
}

// WithEventBus publishes onto a caller-owned bus. The orchestrator will not
// close it.
func WithEventBus(b *EventBus) Option {
	return func(o *orchestratorOptions) { o.bus = b }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithDebugLogger sets the debug logger.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}
