// Package metrics provides the Prometheus metrics of the OCR engine, batch driver and HTTP server.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains every Prometheus metric the application exports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Recognitions        *prometheus.CounterVec
	RecognitionDuration *prometheus.HistogramVec
	CacheHits           prometheus.Counter
	ModelLoaded         prometheus.Gauge
	ModelLoadDuration   prometheus.Histogram
	BatchFiles          *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	registry            *prometheus.Registry
}

// New creates the metrics on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()
	if err := m.registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics.
func (m *Metrics) initMetrics() {
	m.Recognitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glm_ocr_recognitions_total",
		Help: "Total number of recognitions by prompt type and outcome.",
	}, []string{"prompt_type", "status"})

	m.RecognitionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glm_ocr_recognition_duration_seconds",
		Help:    "Duration of model generations in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"prompt_type"})

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glm_ocr_result_cache_hits_total",
		Help: "Total number of recognitions answered from the result cache.",
	})

	m.ModelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glm_ocr_model_loaded",
		Help: "1 while the model is loaded, 0 otherwise.",
	})

	m.ModelLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "glm_ocr_model_load_duration_seconds",
		Help:    "Duration of model loads in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	m.BatchFiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glm_ocr_batch_files_total",
		Help: "Total number of batch files by outcome.",
	}, []string{"status"})

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glm_ocr_http_requests_total",
		Help: "Total number of HTTP requests by route and status code.",
	}, []string{"route", "code"})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Recognitions.Describe(ch)
	m.RecognitionDuration.Describe(ch)
	m.CacheHits.Describe(ch)
	m.ModelLoaded.Describe(ch)
	m.ModelLoadDuration.Describe(ch)
	m.BatchFiles.Describe(ch)
	m.HTTPRequests.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Recognitions.Collect(ch)
	m.RecognitionDuration.Collect(ch)
	m.CacheHits.Collect(ch)
	m.ModelLoaded.Collect(ch)
	m.ModelLoadDuration.Collect(ch)
	m.BatchFiles.Collect(ch)
	m.HTTPRequests.Collect(ch)
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// ObserveRecognition records one recognition outcome.
func (m *Metrics) ObserveRecognition(promptType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Recognitions.WithLabelValues(promptType, status).Inc()
	if status == "success" {
		m.RecognitionDuration.WithLabelValues(promptType).Observe(d.Seconds())
	}
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *Metrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// SetModelLoaded updates the model state gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// ObserveModelLoad records the duration of a successful load.
func (m *Metrics) ObserveModelLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLoadDuration.Observe(d.Seconds())
}

// IncrementBatchFiles counts a processed batch file ("written" or "failed").
func (m *Metrics) IncrementBatchFiles(status string) {
	if m == nil {
		return
	}
	m.BatchFiles.WithLabelValues(status).Inc()
}

// IncrementHTTPRequests counts a served request.
func (m *Metrics) IncrementHTTPRequests(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}
