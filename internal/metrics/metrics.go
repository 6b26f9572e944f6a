// Package metrics exposes Prometheus counters and histograms for the
// evaluation and management paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the server reports to.
type Recorder interface {
	IncEvaluation(transport, outcome string)
	IncMutation(op, outcome string)
	IncValidationRejected(op string)
	IncIntegrityError()
	ObserveRequest(method, route, status string, durationSeconds float64)
	SnapshotRefreshed(ok bool, configs int)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncEvaluation(string, string)                   {}
func (Noop) IncMutation(string, string)                     {}
func (Noop) IncValidationRejected(string)                   {}
func (Noop) IncIntegrityError()                             {}
func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) SnapshotRefreshed(bool, int)                    {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	evaluations     *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	integrityErrors prometheus.Counter
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	snapshotRefresh *prometheus.CounterVec
	snapshotConfigs prometheus.Gauge
}

// NewProm creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewProm(reg prometheus.Registerer, namespace string) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Config evaluations by transport and outcome",
		}, []string{"transport", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Management mutations by operation and outcome",
		}, []string{"op", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Writes rejected by validation, by operation",
		}, []string{"op"}),
		integrityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_errors_total",
			Help:      "Stored data found violating a write-path invariant",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		snapshotRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refreshes_total",
			Help:      "Live snapshot refreshes by result",
		}, []string{"result"}),
		snapshotConfigs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_configs",
			Help:      "Configs in the live snapshot",
		}),
	}
	reg.MustRegister(
		p.evaluations, p.mutations, p.rejections, p.integrityErrors,
		p.requests, p.latency, p.snapshotRefresh, p.snapshotConfigs,
	)
	return p
}

func (p *Prom) IncEvaluation(transport, outcome string) {
	p.evaluations.WithLabelValues(transport, outcome).Inc()
}

func (p *Prom) IncMutation(op, outcome string) {
	p.mutations.WithLabelValues(op, outcome).Inc()
}

func (p *Prom) IncValidationRejected(op string) {
	p.rejections.WithLabelValues(op).Inc()
}

func (p *Prom) IncIntegrityError() {
	p.integrityErrors.Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) SnapshotRefreshed(ok bool, configs int) {
	if !ok {
		p.snapshotRefresh.WithLabelValues("error").Inc()
		return
	}
	p.snapshotRefresh.WithLabelValues("ok").Inc()
	p.snapshotConfigs.Set(float64(configs))
}

// Handler returns an HTTP handler for /metrics that serves g. A nil g means
// prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
