package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targeting_requests_total",
			Help: "Total API requests",
		}, []string{"method", "code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "targeting_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "targeting_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targeting_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)

	EstimatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targeting_estimates_total",
			Help: "Audience estimates by source and outcome",
		}, []string{"source", "outcome"},
	)
	EstimateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "targeting_estimate_duration_seconds",
		Help:    "Audience estimate latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	EstimateDiscards = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "targeting_estimate_stale_discards_total",
		Help: "Estimates dropped because a newer tree superseded them",
	})
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targeting_generations_total",
			Help: "Message generation calls by outcome",
		}, []string{"outcome"},
	)
	PopulationSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "targeting_population_records",
		Help: "Records in the current population snapshot",
	})
	PopulationRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targeting_population_refreshes_total",
			Help: "Population snapshot reloads by outcome",
		}, []string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		EstimatesTotal, EstimateLatency, EstimateDiscards, GenerationsTotal,
		PopulationSize, PopulationRefreshes)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObserveEstimate records one estimator call.
func ObserveEstimate(authoritative bool, err error, d time.Duration) {
	source := "placeholder"
	if authoritative {
		source = "population"
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
		source = "unknown"
	case err != nil:
		outcome = "error"
		source = "unknown"
	}
	EstimatesTotal.WithLabelValues(source, outcome).Inc()
	EstimateLatency.Observe(d.Seconds())
}

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
		RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rr.code)).Inc()
	})
}
