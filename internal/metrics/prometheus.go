package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusMetrics is the Prometheus implementation of Metrics.
type prometheusMetrics struct {
	tasks        *prometheus.CounterVec
	panics       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	ioOps        *prometheus.CounterVec
	ioBytes      *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	cacheBytes   *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpBytes    prometheus.Counter
}

// NewPrometheus registers the coverart collectors on reg.
func NewPrometheus(reg prometheus.Registerer) Metrics {
	f := promauto.With(reg)
	return &prometheusMetrics{
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_tasks_total",
			Help: "Units of work executed, by component and result",
		}, []string{"component", "failed"}),
		panics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_task_panics_total",
			Help: "Panics recovered at a fault boundary",
		}, []string{"component"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coverart_queue_depth",
			Help: "Pending items per queue",
		}, []string{"component"}),
		ioOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_io_operations_total",
			Help: "File operations completed by the I/O engine",
		}, []string{"kind", "ok"}),
		ioBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_io_bytes_total",
			Help: "Bytes transferred by the I/O engine",
		}, []string{"kind"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		}, []string{"tier", "hit"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_cache_evictions_total",
			Help: "Entries evicted by tier",
		}, []string{"tier"}),
		cacheBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coverart_cache_bytes",
			Help: "Bytes held per cache tier",
		}, []string{"tier"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverart_http_requests_total",
			Help: "HTTP GET requests by outcome",
		}, []string{"outcome"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverart_http_request_duration_seconds",
			Help:    "HTTP GET latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		httpBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "coverart_http_body_bytes_total",
			Help: "Response body bytes accumulated",
		}),
	}
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *prometheusMetrics) TaskDone(component string, failed bool) {
	m.tasks.WithLabelValues(component, strconv.FormatBool(failed)).Inc()
}

func (m *prometheusMetrics) TaskPanicked(component string) {
	m.panics.WithLabelValues(component).Inc()
}

func (m *prometheusMetrics) QueueDepth(component string, depth int) {
	m.queueDepth.WithLabelValues(component).Set(float64(depth))
}

func (m *prometheusMetrics) IODone(kind string, ok bool, bytes int) {
	m.ioOps.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
	if bytes > 0 {
		m.ioBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

func (m *prometheusMetrics) CacheLookup(tier string, hit bool) {
	m.cacheLookups.WithLabelValues(tier, strconv.FormatBool(hit)).Inc()
}

func (m *prometheusMetrics) CacheEvicted(tier string, n int) {
	m.evictions.WithLabelValues(tier).Add(float64(n))
}

func (m *prometheusMetrics) CacheSize(tier string, bytes int64) {
	m.cacheBytes.WithLabelValues(tier).Set(float64(bytes))
}

func (m *prometheusMetrics) HTTPDone(outcome string, d time.Duration, bytes int) {
	m.httpRequests.WithLabelValues(outcome).Inc()
	m.httpDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if bytes > 0 {
		m.httpBytes.Add(float64(bytes))
	}
}
