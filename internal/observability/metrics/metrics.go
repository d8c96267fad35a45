// Package metrics provides Prometheus instrumentation for chainscout.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainscout"

var (
	enabled     bool
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Scan metrics
	scanTotal       *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scanFeedChains  prometheus.Gauge
	scanMatched     prometheus.Gauge
	scanSkipped     prometheus.Gauge
	manifestTotal   *prometheus.CounterVec
	probeTotal      *prometheus.CounterVec
	pipelineStepRun *prometheus.CounterVec
)

// Init initializes the metrics system. Each call starts a fresh registry.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		registry = nil
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": svcName}

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "route"},
	)

	scanTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of relevance scans by outcome",
		},
		[]string{"status"},
	)

	scanDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Duration of relevance scans including the feed download",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	scanFeedChains = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_chains",
		Help:      "Chains decoded from the feed in the last scan",
	})

	scanMatched = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_matched_chains",
		Help:      "Chains at or above the threshold in the last scan",
	})

	scanSkipped = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_skipped_records",
		Help:      "Feed records skipped as malformed in the last scan",
	})

	manifestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_reads_total",
			Help:      "Total number of manifest reads served",
		},
		[]string{"status"},
	)

	probeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_probes_total",
			Help:      "Total number of RPC endpoint probes by result",
		},
		[]string{"result"},
	)

	pipelineStepRun = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Total number of supervised pipeline steps by final state",
		},
		[]string{"step", "state"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled || registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
