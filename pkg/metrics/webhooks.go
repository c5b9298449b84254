package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts payment webhook deliveries by outcome.
type WebhookMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Payment gateway webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})
	reg.MustRegister(outcomes)
	return &WebhookMetrics{outcomes: outcomes}
}

func (m *WebhookMetrics) IncOutcome(provider, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}
