package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reach_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reach_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_http_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)

	ContentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_contents_ingested_total",
			Help: "Content items stored in the cache by kind",
		}, []string{"kind"},
	)
	ContentsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_contents_skipped_total",
			Help: "Payload elements or documents that could not be used",
		}, []string{"reason"},
	)
	ContentsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reach_contents_evicted_total",
		Help: "Content items pushed out of the cache by capacity",
	})
	ContentsPresented = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_contents_presented_total",
			Help: "Content items handed to a presenter or receiver by kind",
		}, []string{"kind"},
	)
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reach_cache_entries",
		Help: "Content items currently cached",
	})
	DurabilityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reach_cache_durability_failures_total",
		Help: "Failed writes of the durable cache copy",
	})
	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_feedback_total",
			Help: "Feedback reports by status and outcome",
		}, []string{"status", "result"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		ContentsIngested, ContentsSkipped, ContentsEvicted, ContentsPresented,
		CacheEntries, DurabilityFailures, FeedbackTotal)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
		if rr.code >= http.StatusBadRequest {
			RequestErrors.WithLabelValues(http.StatusText(rr.code)).Inc()
		}
	})
}
