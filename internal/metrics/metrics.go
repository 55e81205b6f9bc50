// Package metrics provides Prometheus metrics for the check-in agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	DispatchesTotal      *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	DuplicatesTotal      *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	TaskTransitions      *prometheus.CounterVec
	DeliveriesTotal      *prometheus.CounterVec
	PromptsTotal         *prometheus.CounterVec
	DeadLettersPending   prometheus.Gauge
	DBSizeBytes          prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_dispatches_total",
				Help: "Inbound events dispatched, by state before dispatch and outcome.",
			},
			[]string{"state", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkin_dispatch_duration_seconds",
				Help:    "Time from dedup check to commit, by channel.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		DuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_duplicates_total",
				Help: "Redelivered events absorbed, by the layer that caught them.",
			},
			[]string{"layer"},
		),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_classifications_total",
				Help: "Sentiment results by source (classifier or fallback).",
			},
			[]string{"source"},
		),
		TaskTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_task_transitions_total",
				Help: "Applied task status transitions.",
			},
			[]string{"from", "to"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_deliveries_total",
				Help: "Outbound deliveries by channel and result.",
			},
			[]string{"channel", "result"},
		),
		PromptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_prompts_total",
				Help: "Scheduled prompts by kind and result.",
			},
			[]string{"kind", "result"},
		),
		DeadLettersPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkin_dead_letters_pending",
				Help: "Dead letters due for redelivery at the last sweep.",
			},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkin_db_size_bytes",
				Help: "SQLite database size at the last retention pass.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DispatchDuration,
		m.DuplicatesTotal,
		m.ClassificationsTotal,
		m.TaskTransitions,
		m.DeliveriesTotal,
		m.PromptsTotal,
		m.DeadLettersPending,
		m.DBSizeBytes,
		m.ErrorsTotal,
	)
	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordDispatch counts one dispatch and its duration.
func (m *Metrics) RecordDispatch(state, outcome, channel string, d time.Duration) {
	m.DispatchesTotal.WithLabelValues(state, outcome).Inc()
	m.DispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordDuplicate counts an absorbed redelivery. layer is "memory" or "store".
func (m *Metrics) RecordDuplicate(layer string) {
	m.DuplicatesTotal.WithLabelValues(layer).Inc()
}

// RecordClassification counts a sentiment result by source.
func (m *Metrics) RecordClassification(source string) {
	m.ClassificationsTotal.WithLabelValues(source).Inc()
}

// RecordTransition counts an applied task status change.
func (m *Metrics) RecordTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	m.TaskTransitions.WithLabelValues(from, to).Inc()
}

// RecordDelivery counts an outbound delivery attempt.
func (m *Metrics) RecordDelivery(channel, result string) {
	m.DeliveriesTotal.WithLabelValues(channel, result).Inc()
}

// RecordPrompt counts a scheduled prompt.
func (m *Metrics) RecordPrompt(kind, result string) {
	m.PromptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetDeadLettersPending sets the pending dead letter gauge.
func (m *Metrics) SetDeadLettersPending(n int) {
	m.DeadLettersPending.Set(float64(n))
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	m.DBSizeBytes.Set(float64(bytes))
}
