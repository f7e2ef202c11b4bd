package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics counts reservation attempts by outcome.
type ReservationMetrics struct {
	outcomes *prometheus.CounterVec
	retries  prometheus.Counter
}

// NewReservationMetrics registers reservation counters on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_attempts_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservation_conflict_retries_total",
		Help: "Reservation attempts retried after an optimistic-lock conflict.",
	})
	reg.MustRegister(outcomes, retries)
	return &ReservationMetrics{outcomes: outcomes, retries: retries}
}

// IncOutcome counts one reservation attempt result (reserved, insufficient, conflict).
func (m *ReservationMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// IncRetry counts one transparent conflict retry.
func (m *ReservationMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}
