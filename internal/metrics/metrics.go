package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barbershop"

// Metrics holds every collector the service exports.
type Metrics struct {
	AppointmentsCreated prometheus.Counter
	Transitions         *prometheus.CounterVec
	Rejected            *prometheus.CounterVec

	RemindersSent   prometheus.Counter
	RemindersFailed prometheus.Counter

	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter

	HTTPDuration *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AppointmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_created_total",
			Help:      "Appointments accepted by the engine.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Accepted appointment status transitions.",
		}, []string{"to"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_rejected_total",
			Help:      "Mutations rejected by the engine, by error code.",
		}, []string{"code"}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminder messages delivered.",
		}),
		RemindersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_failed_total",
			Help:      "Reminder messages that could not be delivered.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_subscribers",
			Help:      "Currently connected sync subscribers.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_subscribers_dropped_total",
			Help:      "Subscribers dropped for exceeding the backlog limit.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.AppointmentsCreated,
		m.Transitions,
		m.Rejected,
		m.RemindersSent,
		m.RemindersFailed,
		m.Subscribers,
		m.SubscribersDropped,
		m.HTTPDuration,
	)
	return m
}

// NewUnregistered is for tests and tools that do not expose /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
