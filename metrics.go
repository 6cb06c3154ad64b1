package snoocore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors a Session reports into. Attach
// one with WithSessionMetrics; Sessions without metrics skip instrumentation
// entirely.
type Metrics struct {
	// Requests counts completed HTTP exchanges by method and status code.
	Requests *prometheus.CounterVec
	// Retries counts retried attempts across all requests.
	Retries prometheus.Counter
	// RateLimitSleep accumulates seconds spent waiting on the server's
	// advertised rate limit.
	RateLimitSleep prometheus.Counter
}

// NewMetrics creates and registers the Session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snoocore",
			Name:      "requests_total",
			Help:      "Completed HTTP exchanges by method and status code.",
		}, []string{"method", "status"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snoocore",
			Name:      "retries_total",
			Help:      "Retried request attempts.",
		}),
		RateLimitSleep: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snoocore",
			Name:      "ratelimit_sleep_seconds_total",
			Help:      "Seconds spent waiting on the server rate limit.",
		}),
	}
	reg.MustRegister(m.Requests, m.Retries, m.RateLimitSleep)
	return m
}
