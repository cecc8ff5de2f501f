package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of the collaboration server
type Collector struct {
	registry *prometheus.Registry

	// Realtime metrics
	Rooms          prometheus.Gauge
	Connections    prometheus.Gauge
	Relayed        *prometheus.CounterVec
	Dropped        *prometheus.CounterVec
	RejectedFrames *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Persistence metrics
	SaveDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, so several can
// coexist in one process.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of document rooms with at least one member",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Frames delivered to room members",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Frames dropped before delivery",
		}, []string{"reason"}),
		RejectedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Inbound frames rejected by the server",
		}, []string{"reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_save_duration_seconds",
			Help:      "Document save latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		c.Rooms,
		c.Connections,
		c.Relayed,
		c.Dropped,
		c.RejectedFrames,
		c.HTTPRequests,
		c.HTTPDuration,
		c.SaveDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records one HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCommand feeds the save histogram from the command bus. Other
// commands are ignored.
func (c *Collector) RecordCommand(ctx context.Context, name string, duration time.Duration, err error) {
	if name == "SaveDocumentCommand" {
		c.ObserveSave(duration, err)
	}
}

// ObserveSave records one save attempt
func (c *Collector) ObserveSave(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.SaveDuration.WithLabelValues(status).Observe(duration.Seconds())
}
