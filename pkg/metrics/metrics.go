package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RefundMetrics records gateway refund attempts and their outcomes.
type RefundMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	amount   prometheus.Counter
}

// NewRefundMetrics registers the refund metrics on the provided registerer.
func NewRefundMetrics(reg prometheus.Registerer) *RefundMetrics {
	if reg == nil {
		return &RefundMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_attempts_total",
		Help: "Gateway refund attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refund_duration_seconds",
		Help:    "Duration of gateway refund calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	amount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refund_amount_pence_total",
		Help: "Total refunded amount in pence.",
	})
	reg.MustRegister(attempts, duration, amount)
	return &RefundMetrics{
		attempts: attempts,
		duration: duration,
		amount:   amount,
	}
}

// ObserveAttempt records one refund attempt with its outcome and duration.
func (m *RefundMetrics) ObserveAttempt(outcome string, duration time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.attempts.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
}

// AddRefundedAmount accumulates the refunded amount in pence.
func (m *RefundMetrics) AddRefundedAmount(pence int64) {
	if m == nil || m.amount == nil || pence <= 0 {
		return
	}
	m.amount.Add(float64(pence))
}

// DispatchMetrics records outbox dispatcher activity.
type DispatchMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	backlog   prometheus.Gauge
}

// NewDispatchMetrics registers the dispatcher metrics on the provided registerer.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_processed_total",
		Help: "Outbox events processed by result.",
	}, []string{"event_type", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_dispatch_duration_seconds",
		Help:    "Duration of outbox event handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_backlog",
		Help: "Unpublished outbox events observed on the last poll.",
	})
	reg.MustRegister(processed, duration, backlog)
	return &DispatchMetrics{
		processed: processed,
		duration:  duration,
		backlog:   backlog,
	}
}

// ObserveEvent records one handled outbox event.
func (m *DispatchMetrics) ObserveEvent(eventType, result string, duration time.Duration) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// SetBacklog records the size of the unpublished backlog.
func (m *DispatchMetrics) SetBacklog(n int) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
