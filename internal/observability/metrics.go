package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpRequestsTotal       *prometheus.CounterVec
	httpLatencySeconds      *prometheus.HistogramVec
	httpErrorsTotal         *prometheus.CounterVec
	generationSessionsTotal *prometheus.CounterVec
	pollAttemptsTotal       *prometheus.CounterVec
	roadmapMutationsTotal   *prometheus.CounterVec
	roadmapMutationSeconds  *prometheus.HistogramVec
	activeRoadmapSessions   prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the roadmap service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadmap_http_requests_total",
			Help: "Total number of roadmap API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roadmap_http_latency_seconds",
			Help:    "Latency distribution for roadmap API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadmap_http_errors_total",
			Help: "Total number of error responses returned by roadmap endpoints.",
		}, []string{"method", "route", "status"})

		generationSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadmap_generation_sessions_total",
			Help: "Generation polling sessions by terminal outcome.",
		}, []string{"outcome"})

		pollAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadmap_poll_attempts_total",
			Help: "Current-roadmap polls by outcome.",
		}, []string{"outcome"})

		roadmapMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadmap_mutations_total",
			Help: "Roadmap selections, regenerations and completions by result.",
		}, []string{"operation", "result"})

		roadmapMutationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roadmap_mutation_latency_seconds",
			Help:    "Latency of roadmap mutations including the upstream call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})

		activeRoadmapSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roadmap_active_sessions",
			Help: "Number of roadmap orchestrator sessions held in memory.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			generationSessionsTotal,
			pollAttemptsTotal,
			roadmapMutationsTotal,
			roadmapMutationSeconds,
			activeRoadmapSessions,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error response counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GenerationSessions counts polling sessions by outcome.
func GenerationSessions() *prometheus.CounterVec {
	RegisterMetrics()
	return generationSessionsTotal
}

// PollAttempts counts individual polls.
func PollAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return pollAttemptsTotal
}

// RoadmapMutations counts orchestrator mutations.
func RoadmapMutations() *prometheus.CounterVec {
	RegisterMetrics()
	return roadmapMutationsTotal
}

// RoadmapMutationLatency observes mutation latency.
func RoadmapMutationLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return roadmapMutationSeconds
}

// ActiveSessions tracks in-memory orchestrator sessions.
func ActiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return activeRoadmapSessions
}
