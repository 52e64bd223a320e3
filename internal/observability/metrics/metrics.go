package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for slot listing, booking
// transitions and external integrations.
type BookingMetrics struct {
	slotListings    *prometheus.CounterVec
	slotsReturned   prometheus.Histogram
	transitions     *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	calendarLatency *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		slotListings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "slot_listings_total",
			Help:      "Slot listing requests by result",
		}, []string{"result"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of slots returned per listing",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Booking lifecycle operations by action and result",
		}, []string{"action", "result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "external",
			Name:      "degraded_total",
			Help:      "External calls that failed and were skipped",
		}, []string{"service"}),
		calendarLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "external",
			Name:      "calendar_latency_seconds",
			Help:      "Latency of external calendar calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"calendar", "operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "external",
			Name:      "notifications_total",
			Help:      "Notification sends by kind and status",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotListings, m.slotsReturned, m.transitions, m.degraded, m.calendarLatency, m.notifications)
	return m
}

func (m *BookingMetrics) ObserveSlotListing(result string, slots int) {
	if m == nil {
		return
	}
	m.slotListings.WithLabelValues(result).Inc()
	if result == "ok" {
		m.slotsReturned.Observe(float64(slots))
	}
}

func (m *BookingMetrics) ObserveTransition(action, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

// ObserveDegraded counts a fail-open external call.
func (m *BookingMetrics) ObserveDegraded(service string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(service).Inc()
}

func (m *BookingMetrics) ObserveCalendarLatency(calendar, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.calendarLatency.WithLabelValues(calendar, operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveNotification(kind string, success bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !success {
		status = "failed"
	}
	m.notifications.WithLabelValues(kind, status).Inc()
}
