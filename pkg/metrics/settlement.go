package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts cart lifecycle transitions.
type SettlementMetrics struct {
	transitions *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transitions_total",
		Help: "Cart status transitions committed by the settlement state machine.",
	}, []string{"to"})
	reg.MustRegister(transitions)
	return &SettlementMetrics{transitions: transitions}
}

func (m *SettlementMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}
