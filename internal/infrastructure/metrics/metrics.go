// Package metrics holds the engine's Prometheus collectors. Every recording
// method is safe on a nil *Metrics, so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "engine"

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics groups all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	lessonsCompleted     *prometheus.CounterVec
	xpAwarded            *prometheus.CounterVec
	skillScores          *prometheus.HistogramVec
	achievementsUnlocked *prometheus.CounterVec
	dailyClaims          *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	sessionsClosed       *prometheus.CounterVec
	finalizeDuration     *prometheus.HistogramVec
	storeRetries         *prometheus.CounterVec
	cacheRequests        *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec
	eventsPublished      *prometheus.CounterVec
	eventHandlerErrors   *prometheus.CounterVec
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		lessonsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lessons_completed_total",
			Help:      "Finalized lesson sessions.",
		}, []string{"replay"}),

		xpAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "XP granted to learners.",
		}, []string{"source"}),

		skillScores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "skill_score",
			Help:      "Per-lesson skill scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"skill"}),

		achievementsUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements newly earned after a finalize.",
		}, []string{"achievement"}),

		dailyClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_reward_claims_total",
			Help:      "Daily reward claim attempts by result.",
		}, []string{"result"}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Lesson sessions currently held in memory.",
		}),

		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Lesson sessions removed from memory by reason.",
		}, []string{"reason"}),

		finalizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Time spent persisting a lesson outcome.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),

		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store transactions retried after a transient error.",
		}, []string{"operation"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Progress cache lookups by entry and result.",
		}, []string{"entry", "result"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus.",
		}, []string{"type"}),

		eventHandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Domain event handlers that returned an error.",
		}, []string{"type"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by result.",
		}, []string{"job", "result"}),

		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"route", "method", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lessonsCompleted,
		m.xpAwarded,
		m.skillScores,
		m.achievementsUnlocked,
		m.dailyClaims,
		m.activeSessions,
		m.sessionsClosed,
		m.finalizeDuration,
		m.storeRetries,
		m.cacheRequests,
		m.breakerState,
		m.eventsPublished,
		m.eventHandlerErrors,
		m.jobRuns,
		m.jobDuration,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// LessonCompleted records one finalized lesson.
func (m *Metrics) LessonCompleted(replay bool, attention, memory, speed int) {
	if m == nil {
		return
	}
	m.lessonsCompleted.WithLabelValues(strconv.FormatBool(replay)).Inc()
	m.skillScores.WithLabelValues("attention").Observe(float64(attention))
	m.skillScores.WithLabelValues("memory").Observe(float64(memory))
	m.skillScores.WithLabelValues("speed").Observe(float64(speed))
}

// XPAwarded adds granted XP by source.
func (m *Metrics) XPAwarded(source string, amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.xpAwarded.WithLabelValues(source).Add(float64(amount))
}

// AchievementUnlocked counts a newly earned achievement.
func (m *Metrics) AchievementUnlocked(id string) {
	if m == nil {
		return
	}
	m.achievementsUnlocked.WithLabelValues(id).Inc()
}

// DailyClaim counts a claim attempt: "claimed", "already_claimed" or "error".
func (m *Metrics) DailyClaim(result string) {
	if m == nil {
		return
	}
	m.dailyClaims.WithLabelValues(result).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the gauge and counts the reason.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

// FinalizeObserved records how long a finalize took.
func (m *Metrics) FinalizeObserved(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.finalizeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// StoreRetry counts one retried store transaction.
func (m *Metrics) StoreRetry(operation string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(operation).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

// CacheRequest counts a cache lookup.
func (m *Metrics) CacheRequest(entry, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(entry, result).Inc()
}

// BreakerState records a circuit breaker state as 0, 1 or 2.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// EventPublished counts a published domain event.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventHandlerFailed counts a failed event handler.
func (m *Metrics) EventHandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventHandlerErrors.WithLabelValues(eventType).Inc()
}

// JobRun records one background job run: "ok" or "error".
func (m *Metrics) JobRun(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
