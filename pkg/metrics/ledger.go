package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks appends to the inventory event chain.
type LedgerMetrics struct {
	appended   *prometheus.CounterVec
	duration   prometheus.Histogram
	integrity  *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	appended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_appended_total",
		Help: "Inventory events appended to tenant chains.",
	}, []string{"type"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_append_duration_seconds",
		Help:    "Time spent holding the tenant chain while appending.",
		Buckets: prometheus.DefBuckets,
	})
	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_integrity_violations_total",
		Help: "Hash chain integrity violations detected.",
	}, []string{"source"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_rejections_total",
		Help: "Reservation lines rejected by admission control.",
	}, []string{"reason"})
	reg.MustRegister(appended, duration, integrity, rejections)
	return &LedgerMetrics{
		appended:   appended,
		duration:   duration,
		integrity:  integrity,
		rejections: rejections,
	}
}

func (m *LedgerMetrics) IncAppended(eventType string, n int) {
	if m == nil || m.appended == nil || n <= 0 {
		return
	}
	m.appended.WithLabelValues(normalizeLabel(eventType)).Add(float64(n))
}

func (m *LedgerMetrics) ObserveAppend(duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
}

// IncIntegrityViolation counts a detected break. source is "append" or "verify".
func (m *LedgerMetrics) IncIntegrityViolation(source string) {
	if m == nil || m.integrity == nil {
		return
	}
	m.integrity.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *LedgerMetrics) IncReservationRejected(reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}
