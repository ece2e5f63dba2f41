package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/application/command"
	"github.com/neuroswitch/progression-engine/internal/application/query"
	"github.com/neuroswitch/progression-engine/internal/application/session"
	"github.com/neuroswitch/progression-engine/internal/domain/dailyreward"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/neuroswitch/progression-engine/internal/interface/http/handlers"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

type testServer struct {
	server  *Server
	store   *memory.Store
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	steps := []performance.Kind{performance.KindFlipCard, performance.KindMultipleChoice}
	curriculum, err := progression.NewCurriculum([]progression.PhaseDefinition{
		{Title: "Vocabulary", Lessons: []progression.LessonDefinition{
			{ID: "vocab-01", Title: "Greetings", Steps: steps},
			{ID: "vocab-02", Title: "Numbers", Steps: steps},
		}},
	})
	require.NoError(t, err)

	flags := config.LoadFeatureFlags()
	require.NoError(t, flags.EnableFeature(config.FeatureScorePreview))

	store := memory.NewStore()
	m := metrics.New()
	clock := &timeutil.FixedClock{T: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}
	cmdCfg := command.HandlerConfig{StoreInitialDelay: time.Millisecond, Clock: clock, Flags: flags, Metrics: m}

	finalize := command.NewFinalizeLessonHandler(store, curriculum, nil, nil, cmdCfg)
	deps := Dependencies{
		RegisterLearner:  command.NewRegisterLearnerHandler(store, nil, cmdCfg),
		ClaimDailyReward: command.NewClaimDailyRewardHandler(store, dailyreward.DefaultPolicy(), nil, nil, cmdCfg),
		GetDashboard: query.NewGetDashboardHandler(store, nil, curriculum, nil, dailyreward.DefaultPolicy(),
			query.Config{Clock: clock, Flags: flags}),
		PreviewScores: query.NewPreviewScoresHandler(flags),
		Sessions:      session.NewManager(curriculum, store.Positions(), finalize, session.Config{Clock: clock, Metrics: m}),
		Curriculum:    curriculum,
		Metrics:       m,
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	return &testServer{server: NewServer(cfg, deps), store: store, metrics: m}
}

type apiResponse struct {
	Success   bool                `json:"success"`
	Data      json.RawMessage     `json:"data"`
	Error     *handlers.ErrorInfo `json:"error"`
	RequestID string              `json:"request_id"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var env apiResponse
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "text/plain; version=0.0.4; charset=utf-8" {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func decode[T any](t *testing.T, env apiResponse) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestServer_LessonFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/learners", gin.H{"userId": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	assert.True(t, decode[registerLearnerResponse](t, env).Created)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/learners", gin.H{"userId": "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/sessions", gin.H{"userId": "u1", "lessonIndex": 0})
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[progression.SessionView](t, env)
	assert.Equal(t, "/api/v1/sessions/"+view.ID, rec.Header().Get("Location"))
	base := "/api/v1/sessions/" + view.ID

	rec, env = ts.do(t, http.MethodPost, base+"/advance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)

	rec, _ = ts.do(t, http.MethodPost, base+"/events", gin.H{"type": "flipCard", "flipCount": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, base+"/step-complete", gin.H{"complete": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	adv := decode[advanceResponse](t, env)
	assert.Equal(t, 1, adv.Session.Step)
	assert.Nil(t, adv.Result)

	rec, _ = ts.do(t, http.MethodPost, base+"/events",
		gin.H{"type": "multipleChoice", "isCorrect": true, "reactionTime": 1.5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	adv = decode[advanceResponse](t, env)
	assert.Equal(t, progression.StateResults, adv.Session.State)
	require.NotNil(t, adv.Result)
	assert.Equal(t, adv.Session.Outcome.XP, adv.Result.XPAwarded)
	assert.True(t, adv.Result.Unlocked)
	assert.NotEmpty(t, adv.Result.NewAchievements)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/learners/u1/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[query.GetDashboardResult](t, env)
	assert.Equal(t, 1, dash.Position.CurrentLessonIndex)
	assert.Equal(t, 1, dash.Cognitive.LessonsRecorded)

	rec, _ = ts.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, env = ts.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestServer_DailyReward(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/v1/learners", gin.H{"userId": "u1"})

	rec, env := ts.do(t, http.MethodPost, "/api/v1/learners/u1/daily-reward", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[dailyRewardResponse](t, env)
	assert.True(t, first.Claimed)
	assert.Equal(t, 100, first.Position.TotalXP)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), first.NextAvailableAt.UTC())

	rec, env = ts.do(t, http.MethodPost, "/api/v1/learners/u1/daily-reward", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[dailyRewardResponse](t, env)
	assert.False(t, second.Claimed)
	assert.Equal(t, 100, second.Position.TotalXP)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/learners/ghost/daily-reward", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RequestErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/v1/learners", gin.H{"userId": "u1"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing user", http.MethodPost, "/api/v1/learners", gin.H{}, http.StatusBadRequest, "invalid_request"},
		{"blank user", http.MethodPost, "/api/v1/learners", gin.H{"userId": "  "}, http.StatusBadRequest, "validation_error"},
		{"missing lesson index", http.MethodPost, "/api/v1/sessions", gin.H{"userId": "u1"}, http.StatusBadRequest, "invalid_request"},
		{"negative lesson index", http.MethodPost, "/api/v1/sessions", gin.H{"userId": "u1", "lessonIndex": -1}, http.StatusBadRequest, "invalid_request"},
		{"locked lesson", http.MethodPost, "/api/v1/sessions", gin.H{"userId": "u1", "lessonIndex": 1}, http.StatusForbidden, "forbidden"},
		{"unknown lesson", http.MethodPost, "/api/v1/sessions", gin.H{"userId": "u1", "lessonIndex": 9}, http.StatusNotFound, "not_found"},
		{"unknown session", http.MethodPost, "/api/v1/sessions/nope/advance", nil, http.StatusNotFound, "not_found"},
		{"bad event", http.MethodPost, "/api/v1/scores/preview", gin.H{"events": []gin.H{{"type": "juggling"}}}, http.StatusBadRequest, "validation_error"},
		{"no route", http.MethodGet, "/api/v1/nothing", nil, http.StatusNotFound, "route_not_found"},
		{"wrong method", http.MethodPut, "/api/v1/learners", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestServer_PreviewScores(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/scores/preview", gin.H{"events": []gin.H{
		{"type": "multipleChoice", "isCorrect": true, "reactionTime": 1.0},
		{"type": "multipleChoice", "isCorrect": false, "reactionTime": 3.0},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[query.PreviewScoresResult](t, env)
	assert.Equal(t, 50, res.Scores.Attention)
	assert.Equal(t, 2, res.Summary.DecisionCount)
}

func TestServer_APIKey(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config, _ *Dependencies) {
		cfg.APIKeys = []string{"secret"}
	})

	rec, env := ts.do(t, http.MethodGet, "/api/v1/curriculum", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/curriculum", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/curriculum", nil, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[curriculumResponse](t, env).Lessons, 2)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = ts.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodGet, "/live", nil, handlers.HeaderRequestID, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(handlers.HeaderRequestID))
	assert.Equal(t, "req-42", env.RequestID)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(context.Context) error { return nil })
	checker.AddOptionalCheck("cache", func(context.Context) error { return errors.New("redis down") })

	ts := newTestServer(t, func(_ *Config, deps *Dependencies) {
		deps.HealthChecker = checker
	})

	rec, env := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[handlers.HealthStatus](t, env)
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.False(t, status.Checks["cache"].Healthy)

	rec, env = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)

	ts.do(t, http.MethodGet, "/api/v1/curriculum", nil)
	rec, _ = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/curriculum"`)
}

func TestServer_PanicIsRecovered(t *testing.T) {
	ts := newTestServer(t, func(_ *Config, deps *Dependencies) {
		deps.Sessions = nil
	})

	rec, env := ts.do(t, http.MethodGet, "/api/v1/sessions/any", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", env.Error.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrInvalidUserID, http.StatusBadRequest},
		{progression.ErrSessionNotFound, http.StatusNotFound},
		{progression.ErrLessonLocked, http.StatusForbidden},
		{progression.ErrFinalizeInFlight, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
