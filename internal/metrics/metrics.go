// Package metrics holds the Prometheus metrics for a pollq server.
//
// Each server owns one Registry so tests can create isolated instances
// instead of sharing process-global collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles all pollq collectors with the prometheus registry that
// serves them.
type Registry struct {
	QueuesCreated     prometheus.Counter
	MessagesWritten   *prometheus.CounterVec
	MessagesPolled    *prometheus.CounterVec
	MessagesDeleted   prometheus.Counter
	VisibilityExpired prometheus.Counter
	Purges            prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	reg *prometheus.Registry
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		QueuesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pollq_queues_created_total",
			Help: "Total number of queues created",
		}),
		MessagesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pollq_messages_written_total",
			Help: "Total number of messages written",
		}, []string{"queue"}),
		MessagesPolled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pollq_messages_polled_total",
			Help: "Total number of messages delivered to pollers",
		}, []string{"queue"}),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pollq_messages_deleted_total",
			Help: "Total number of messages acknowledged and deleted",
		}),
		VisibilityExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pollq_visibility_expired_total",
			Help: "Total number of in-flight messages released by timeout",
		}),
		Purges: factory.NewCounter(prometheus.CounterOpts{
			Name: "pollq_purges_total",
			Help: "Total number of purge operations",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pollq_http_requests_total",
			Help: "Total HTTP requests by method, path, and status code",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pollq_http_request_duration_seconds",
			Help:    "HTTP request duration by method and path",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		reg: reg,
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
