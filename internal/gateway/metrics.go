package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway's counters, registered once and scraped at
// /metrics (spec.md §4.11 "Observability").
type Metrics struct {
	Requests        *prometheus.CounterVec
	FollowUps       prometheus.Counter
	CourseShortcuts prometheus.Counter
	BackendErrors   prometheus.Counter
}

// NewMetrics registers the gateway's counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curricache_gateway_requests_total",
			Help: "Total requests handled by the session gateway, by intent.",
		}, []string{"intent"}),
		FollowUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curricache_gateway_followups_total",
			Help: "Total requests detected and rewritten as follow-up questions.",
		}),
		CourseShortcuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curricache_gateway_course_schedule_shortcuts_total",
			Help: "Total requests answered directly via the course-schedule shortcut.",
		}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curricache_gateway_backend_errors_total",
			Help: "Total requests that failed to reach or parse a response from the backend.",
		}),
	}
	reg.MustRegister(m.Requests, m.FollowUps, m.CourseShortcuts, m.BackendErrors)
	return m
}
