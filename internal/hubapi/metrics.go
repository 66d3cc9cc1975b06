package hubapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the hub's Prometheus instrumentation.
type metrics struct {
	requests       *prometheus.CounterVec
	commandsQueued prometheus.Counter
	commandsSent   prometheus.Counter
	authFailures   prometheus.Counter
}

// newMetrics registers the hub metrics on a registry.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginaryhub",
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, by method and status code.",
		}, []string{"method", "status"}),
		commandsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imaginaryhub",
			Name:      "commands_queued_total",
			Help:      "Pending commands created by queue calls.",
		}),
		commandsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imaginaryhub",
			Name:      "commands_sent_total",
			Help:      "Pending commands delivered to relays.",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imaginaryhub",
			Name:      "auth_failures_total",
			Help:      "Requests rejected by envelope verification.",
		}),
	}
}
