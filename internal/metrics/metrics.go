// Package metrics exposes Prometheus counters for the task queue, publishing,
// translation and outbound gateway calls.
package metrics

import (
	"time"

	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "posting"

// Metrics holds the collectors registered for one process
type Metrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	PublishTotal      *prometheus.CounterVec
	TranslationsTotal *prometheus.CounterVec
	AggregateTotal    *prometheus.CounterVec
	GatewayCalls      *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	GatewayAttempts   *prometheus.HistogramVec
}

// New registers the collectors with reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Tasks finished, by type and result",
			},
			[]string{"type", "result"}, // completed, retried, failed
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task handler runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"type"},
		),
		PublishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variant_publish_total",
				Help:      "Variant publish attempts, by outcome",
			},
			[]string{"outcome"},
		),
		TranslationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "translations_total",
				Help:      "Variant translations, by mode and outcome",
			},
			[]string{"mode", "outcome"}, // batch, individual, copy
		),
		AggregateTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "post_status_writes_total",
				Help:      "Aggregate post status writes, by resulting status",
			},
			[]string{"status"},
		),
		GatewayCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Outbound gateway calls after retries, by service, operation and outcome",
			},
			[]string{"service", "operation", "outcome"},
		),
		GatewayDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of outbound gateway calls including retries",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"service", "operation"},
		),
		GatewayAttempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_attempts",
				Help:      "Attempts made per outbound gateway call",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"service"},
		),
	}
}

// ObserveGatewayCall implements gateway.Observer
func (m *Metrics) ObserveGatewayCall(service, operation string, outcome gateway.Outcome, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(service, operation, outcome.String()).Inc()
	m.GatewayDuration.WithLabelValues(service, operation).Observe(d.Seconds())
	m.GatewayAttempts.WithLabelValues(service).Observe(float64(attempts))
}

// ObserveTask records a finished task run
func (m *Metrics) ObserveTask(taskType, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(taskType, result).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// ObservePublish records a variant publish attempt
func (m *Metrics) ObservePublish(outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(outcome).Inc()
}

// ObserveTranslation records a translated (or failed) variant
func (m *Metrics) ObserveTranslation(mode, outcome string) {
	if m == nil {
		return
	}
	m.TranslationsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveAggregate records an aggregate status write
func (m *Metrics) ObserveAggregate(status string) {
	if m == nil {
		return
	}
	m.AggregateTotal.WithLabelValues(status).Inc()
}

var _ gateway.Observer = (*Metrics)(nil)
