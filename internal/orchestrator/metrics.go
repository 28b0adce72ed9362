package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/courier/pkg/models"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	activeAgents       prometheus.Gauge
	taskOutcomes       *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
	droppedEvents      prometheus.Counter
	submitRetries      prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same names are reused; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	activeAgents := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "courier",
		Subsystem: "orchestrator",
		Name:      "active_agents",
		Help:      "Number of tasks currently delegated to the remote agent.",
	})
	taskOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "orchestrator",
		Name:      "task_outcomes_total",
		Help:      "Tasks that reached a terminal status, by status.",
	}, []string{"status"})
	delegationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "courier",
		Subsystem: "orchestrator",
		Name:      "delegation_duration_seconds",
		Help:      "Time from agent spawn to terminal status.",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"status"})
	droppedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "orchestrator",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber was not draining.",
	})
	submitRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "orchestrator",
		Name:      "submit_retries_total",
		Help:      "Submissions to the remote agent that were retried.",
	})

	collectors := []prometheus.Collector{activeAgents, taskOutcomes, delegationDuration, droppedEvents, submitRetries}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case activeAgents:
				activeAgents = already.ExistingCollector.(prometheus.Gauge)
			case taskOutcomes:
				taskOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
			case delegationDuration:
				delegationDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case droppedEvents:
				droppedEvents = already.ExistingCollector.(prometheus.Counter)
			case submitRetries:
				submitRetries = already.ExistingCollector.(prometheus.Counter)
			}
		}
	}

	return &Metrics{
		activeAgents:       activeAgents,
		taskOutcomes:       taskOutcomes,
		delegationDuration: delegationDuration,
		droppedEvents:      droppedEvents,
		submitRetries:      submitRetries,
	}
}

func (m *Metrics) agentStarted() {
	if m == nil {
		return
	}
	m.activeAgents.Inc()
}

func (m *Metrics) agentTerminated(status models.TaskStatus, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.activeAgents.Dec()
	m.delegationDuration.WithLabelValues(string(status)).Observe(lifetime.Seconds())
}

func (m *Metrics) taskOutcome(status models.TaskStatus) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) eventDropped(EventType) {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

func (m *Metrics) submitRetried() {
	if m == nil {
		return
	}
	m.submitRetries.Inc()
}
