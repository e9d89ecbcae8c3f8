package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agenda"

var (
	once sync.Once

	availabilityFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_fetch_total",
			Help:      "Availability fetches by outcome (ok, empty, error, canceled, rejected).",
		},
		[]string{"outcome"},
	)

	calendarFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calendar_fetch_duration_seconds",
			Help:      "Time to fetch one calendar range.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		},
	)

	calendarFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_fetch_total",
			Help:      "Calendar range fetches by outcome (applied, superseded, error).",
		},
		[]string{"outcome"},
	)

	calendarEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calendar_events",
			Help:      "Events in the currently applied calendar range.",
		},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Create submissions by kind (single, series) and status.",
		},
		[]string{"kind", "status"},
	)

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_mutation_total",
			Help:      "Update, delete and cancel calls by status.",
		},
		[]string{"op", "status"},
	)

	sideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_total",
			Help:      "Notification side-effect calls by action and status.",
		},
		[]string{"action", "status"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			availabilityFetches,
			calendarFetchDuration,
			calendarFetches,
			calendarEvents,
			bookingsCreated,
			mutations,
			sideEffects,
		)
	})
}

func IncAvailabilityFetch(outcome string) {
	availabilityFetches.WithLabelValues(outcome).Inc()
}

func ObserveCalendarFetch(seconds float64) {
	calendarFetchDuration.Observe(seconds)
}

func IncCalendarFetch(outcome string) {
	calendarFetches.WithLabelValues(outcome).Inc()
}

func SetCalendarEvents(n int) {
	calendarEvents.Set(float64(n))
}

func IncBookingCreated(kind, status string) {
	bookingsCreated.WithLabelValues(kind, status).Inc()
}

func IncMutation(op, status string) {
	mutations.WithLabelValues(op, status).Inc()
}

func IncSideEffect(action, status string) {
	sideEffects.WithLabelValues(action, status).Inc()
}

// Status maps an error to the "ok"/"error" label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
