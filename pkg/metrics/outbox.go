package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts relay outcomes per event type and how long rows
// waited in the outbox before reaching Pub/Sub.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	lag       *prometheus.HistogramVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	lag := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_lag_seconds",
		Help:    "Time from outbox insert to successful publish.",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"event_type"})
	reg.MustRegister(published, lag)
	return &OutboxMetrics{published: published, lag: lag}
}

// IncPublish records one row outcome: published, retry or dead_letter.
func (m *OutboxMetrics) IncPublish(eventType, outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) ObserveLag(eventType string, lag time.Duration) {
	if m == nil || m.lag == nil || lag < 0 {
		return
	}
	m.lag.WithLabelValues(normalizeLabel(eventType)).Observe(lag.Seconds())
}
