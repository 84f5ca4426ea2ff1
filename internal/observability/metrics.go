package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	stages   *StageWindow

	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	RetryAttempts       *prometheus.CounterVec
	ThoughtsPersisted   *prometheus.CounterVec
	ExtractionFailures  *prometheus.CounterVec
	MirrorOutcomes      *prometheus.CounterVec
	StageLatency        *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   NewStageWindow(256),
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of live conversations held in memory.",
		}),
		ConversationEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by provider and operation.",
		}, []string{"provider", "op"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retried operation attempts by operation.",
		}, []string{"op"}),
		ThoughtsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thoughts_persisted_total",
			Help:      "Thoughts written to storage by kind.",
		}, []string{"kind"}),
		ExtractionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Failed extraction runs by stage and outcome.",
		}, []string{"stage", "outcome"}),
		MirrorOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_outcomes_total",
			Help:      "Secondary sink deliveries by sink and result.",
		}, []string{"sink", "result"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"stage"}),
	}
}

func (m *Metrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}

func (m *Metrics) ConversationEvent(event string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ProviderError(provider, op string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, op).Inc()
}

func (m *Metrics) RetryAttempt(op string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(op).Inc()
}

func (m *Metrics) ThoughtPersisted(kind string) {
	if m == nil {
		return
	}
	m.ThoughtsPersisted.WithLabelValues(kind).Inc()
}

func (m *Metrics) ExtractionFailed(stage, outcome string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(stage, outcome).Inc()
	m.stages.Count("extraction_failed_" + outcome)
}

func (m *Metrics) MirrorOutcome(sink, result string) {
	if m == nil {
		return
	}
	m.MirrorOutcomes.WithLabelValues(sink, result).Inc()
}

// ObserveStage records d both in the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return NewStageWindow(1).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
