package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.LessonCompleted(false, 100, 80, 60)
	m.LessonCompleted(true, 50, 50, 50)
	m.XPAwarded("lesson_completion", 130)
	m.XPAwarded("lesson_completion", 0)
	m.AchievementUnlocked("first_mission")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("finalized")
	m.CacheRequest("position", CacheHit)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lessonsCompleted.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lessonsCompleted.WithLabelValues("true")))
	assert.Equal(t, 130.0, testutil.ToFloat64(m.xpAwarded.WithLabelValues("lesson_completion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.achievementsUnlocked.WithLabelValues("first_mission")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("position", CacheHit)))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.LessonCompleted(false, 1, 2, 3)
		m.XPAwarded("daily_reward", 100)
		m.DailyClaim("claimed")
		m.SessionOpened()
		m.SessionClosed("idle")
		m.FinalizeObserved("ok", time.Millisecond)
		m.StoreRetry("finalize")
		m.CacheRequest("history", CacheMiss)
		m.BreakerState("score-cache", 2)
		m.EventPublished("progress.xp_gained")
		m.EventHandlerFailed("progress.xp_gained")
		m.JobRun("reap_idle_sessions", "ok", time.Millisecond)
		m.HTTPRequest("/health", http.MethodGet, 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.DailyClaim("claimed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `engine_daily_reward_claims_total{result="claimed"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
