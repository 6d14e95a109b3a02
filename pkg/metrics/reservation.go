package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics tracks hot-path outcomes: reservation results by code,
// admission rejections by tier, and materializer dispositions.
type ReservationMetrics struct {
	outcomes   *prometheus.CounterVec
	admissions *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewReservationMetrics registers the hot-path metric vectors.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reserve_outcomes_total",
		Help: "Reservation engine outcomes by result code.",
	}, []string{"outcome"})
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_rejections_total",
		Help: "Requests shed by the admission gate, by tier.",
	}, []string{"tier"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "materializer_events_total",
		Help: "Reservation events by materializer disposition.",
	}, []string{"disposition"})
	reg.MustRegister(outcomes, admissions, events)
	return &ReservationMetrics{outcomes: outcomes, admissions: admissions, events: events}
}

func (m *ReservationMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ReservationMetrics) IncAdmissionRejection(tier string) {
	if m == nil || m.admissions == nil {
		return
	}
	m.admissions.WithLabelValues(normalizeLabel(tier)).Inc()
}

func (m *ReservationMetrics) IncEventDisposition(disposition string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(disposition)).Inc()
}
