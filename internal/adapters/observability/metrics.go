package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotelsync"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	RedisOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "redis_ops_total", Help: "Checkpoint and replay-guard operations."},
		[]string{"op", "result"},
	)
	WatcherEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "watcher_events_total", Help: "Change feed events emitted."},
		[]string{"collection", "operation"},
	)
	WatcherReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "watcher_reconnects_total", Help: "Change feed reopen attempts."},
	)
	WatcherDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "watcher_dropped_total", Help: "Events dropped by drop-oldest overflow."},
	)
	WatcherColdStarts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "watcher_cold_starts_total", Help: "Expired resume tokens that forced a full resync."},
	)
	IndexItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "index_items_total", Help: "Bulk index item results."},
		[]string{"result"}, // indexed|failed|skipped
	)
	IndexRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "index_resyncs_total", Help: "Index resync runs."},
		[]string{"trigger", "result"},
	)
	Distributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "distribution_messages_total", Help: "OTA distribution outcomes."},
		[]string{"status"},
	)
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_deltas_total", Help: "Availability delta outcomes."},
		[]string{"outcome"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "job_runs_total", Help: "Scheduled job runs."},
		[]string{"job", "result"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Duration of scheduled jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
	PaymentsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_cancelled_total", Help: "Payment intents auto-cancelled."},
	)
)

// Serve exposes the default registry on addr; an empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, RedisOps,
		WatcherEvents, WatcherReconnects, WatcherDropped, WatcherColdStarts,
		IndexItems, IndexRuns, Distributions, Reconciliations,
		JobRuns, JobDuration, PaymentsCancelled,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveRedis(op, result string) {
	RedisOps.WithLabelValues(op, result).Inc()
}

func ObserveJob(job string, err error, dur time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(dur.Seconds())
}
