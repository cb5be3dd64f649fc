// Package metrics contains Prometheus counters of the virtual source and of the harness engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters of a harness run.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	bytesServedTotal prometheus.Counter
	faultsTotal      prometheus.Counter
	notFoundTotal    prometheus.Counter
	buffersTotal     *prometheus.CounterVec
	streamsFinished  prometheus.Counter
	failuresTotal    prometheus.Counter
}

// New creates and registers the metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsource_requests_total",
		Help: "Total number of requests served by the virtual source",
	}, []string{"status"})
	bytesServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vsource_bytes_served_total",
		Help: "Total number of bytes returned by the virtual source",
	})
	faultsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vsource_faults_injected_total",
		Help: "Total number of injected read failures",
	})
	notFoundTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vsource_not_found_total",
		Help: "Total number of requests for unknown URIs",
	})
	buffersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_buffers_received_total",
		Help: "Total number of buffers received by output streams",
	}, []string{"stream"})
	streamsFinished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_streams_finished_total",
		Help: "Total number of output streams that received their expected output",
	})
	failuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_failures_total",
		Help: "Total number of failed runs",
	})

	registry.MustRegister(
		requestsTotal,
		bytesServedTotal,
		faultsTotal,
		notFoundTotal,
		buffersTotal,
		streamsFinished,
		failuresTotal,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		bytesServedTotal: bytesServedTotal,
		faultsTotal:      faultsTotal,
		notFoundTotal:    notFoundTotal,
		buffersTotal:     buffersTotal,
		streamsFinished:  streamsFinished,
		failuresTotal:    failuresTotal,
	}
}

// All methods accept a nil receiver, so that components can be used without metrics.

// IncRequests increments the request counter of the given status code class.
func (m *Metrics) IncRequests(status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(status).Inc()
}

// AddBytesServed adds n to the served bytes counter.
func (m *Metrics) AddBytesServed(n int) {
	if m == nil {
		return
	}
	m.bytesServedTotal.Add(float64(n))
}

// IncFaults increments the injected faults counter.
func (m *Metrics) IncFaults() {
	if m == nil {
		return
	}
	m.faultsTotal.Inc()
}

// IncNotFound increments the not found counter.
func (m *Metrics) IncNotFound() {
	if m == nil {
		return
	}
	m.notFoundTotal.Inc()
}

// IncBuffers increments the buffer counter of a stream.
func (m *Metrics) IncBuffers(stream string) {
	if m == nil {
		return
	}
	m.buffersTotal.WithLabelValues(stream).Inc()
}

// IncStreamsFinished increments the finished streams counter.
func (m *Metrics) IncStreamsFinished() {
	if m == nil {
		return
	}
	m.streamsFinished.Inc()
}

// IncFailures increments the failed runs counter.
func (m *Metrics) IncFailures() {
	if m == nil {
		return
	}
	m.failuresTotal.Inc()
}

// Handler returns an HTTP handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
