package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuroswitch/progression-engine/internal/application/command"
	"github.com/neuroswitch/progression-engine/internal/application/query"
	"github.com/neuroswitch/progression-engine/internal/application/session"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type registerLearnerRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type startSessionRequest struct {
	UserID      string `json:"userId" binding:"required"`
	LessonIndex *int   `json:"lessonIndex" binding:"required,gte=0"`
}

type stepCompleteRequest struct {
	Complete *bool `json:"complete" binding:"required"`
}

type previewScoresRequest struct {
	UserID string              `json:"userId"`
	Events []performance.Event `json:"events"`
}

type registerLearnerResponse struct {
	Position *progression.Position `json:"position"`
	Created  bool                  `json:"created"`
}

type lessonResultResponse struct {
	AlreadyApplied  bool                     `json:"alreadyApplied"`
	Record          *performance.ScoreRecord `json:"record"`
	Position        *progression.Position    `json:"position"`
	XPAwarded       int                      `json:"xpAwarded"`
	Replay          bool                     `json:"replay"`
	Unlocked        bool                     `json:"unlocked"`
	NewAchievements []achievement.ID         `json:"newAchievements"`
}

type advanceResponse struct {
	Session    progression.SessionView `json:"session"`
	Transition progression.Transition  `json:"transition"`
	Result     *lessonResultResponse   `json:"result,omitempty"`
}

type dailyRewardResponse struct {
	Claimed         bool                  `json:"claimed"`
	Amount          int                   `json:"amount"`
	Position        *progression.Position `json:"position"`
	NextAvailableAt time.Time             `json:"nextAvailableAt"`
	NewAchievements []achievement.ID      `json:"newAchievements"`
}

type curriculumResponse struct {
	Phases  []progression.Phase  `json:"phases"`
	Lessons []progression.Lesson `json:"lessons"`
}

func newLessonResult(r *command.FinalizeLessonResult) *lessonResultResponse {
	if r == nil {
		return nil
	}
	return &lessonResultResponse{
		AlreadyApplied:  r.AlreadyApplied,
		Record:          r.Record,
		Position:        r.Position,
		XPAwarded:       r.XPAwarded,
		Replay:          r.Replay,
		Unlocked:        r.Unlocked,
		NewAchievements: emptyIfNil(r.NewAchievements),
	}
}

func emptyIfNil(ids []achievement.ID) []achievement.ID {
	if ids == nil {
		return []achievement.ID{}
	}
	return ids
}

// bind decodes the JSON body into dst. It writes the 400 itself and
// reports whether the handler should continue.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves basic API information.
func (s *Server) handleRoot(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"name":    "progression-engine",
		"version": s.config.Version,
		"endpoints": gin.H{
			"health":     "/health",
			"curriculum": "/api/v1/curriculum",
			"learners":   "/api/v1/learners",
			"sessions":   "/api/v1/sessions",
			"preview":    "/api/v1/scores/preview",
		},
	})
}

// handleHealth reports every check; only critical failures give 503.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

// handleReady handles the readiness probe.
func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		writeJSONErrorWithDetails(c, http.StatusServiceUnavailable, "not_ready", "Service is not ready", status.Message)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready"})
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM & PREVIEW
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetCurriculum(c *gin.Context) {
	writeJSON(c, http.StatusOK, curriculumResponse{
		Phases:  s.deps.Curriculum.Phases(),
		Lessons: s.deps.Curriculum.Lessons(),
	})
}

func (s *Server) handlePreviewScores(c *gin.Context) {
	var req previewScoresRequest
	if !bind(c, &req) {
		return
	}

	result, err := s.deps.PreviewScores.Handle(c.Request.Context(), query.PreviewScoresQuery{
		UserID: req.UserID,
		Events: req.Events,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRegisterLearner answers 201 for a new learner and 200 when the
// learner already existed.
func (s *Server) handleRegisterLearner(c *gin.Context) {
	var req registerLearnerRequest
	if !bind(c, &req) {
		return
	}

	result, err := s.deps.RegisterLearner.Handle(c.Request.Context(), command.RegisterLearnerCommand{UserID: req.UserID})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(c, status, registerLearnerResponse{Position: result.Position, Created: result.Created})
}

func (s *Server) handleGetDashboard(c *gin.Context) {
	result, err := s.deps.GetDashboard.Handle(c.Request.Context(), query.GetDashboardQuery{UserID: c.Param("userId")})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// handleClaimDailyReward answers 200 in both cases; "claimed": false
// means the reward was already taken today.
func (s *Server) handleClaimDailyReward(c *gin.Context) {
	result, err := s.deps.ClaimDailyReward.Handle(c.Request.Context(), command.ClaimDailyRewardCommand{UserID: c.Param("userId")})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dailyRewardResponse{
		Claimed:         result.Claimed,
		Amount:          result.Amount,
		Position:        result.Position,
		NextAvailableAt: result.NextAvailableAt,
		NewAchievements: emptyIfNil(result.NewAchievements),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if !bind(c, &req) {
		return
	}

	view, err := s.deps.Sessions.Start(c.Request.Context(), req.UserID, *req.LessonIndex)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Header("Location", "/api/v1/sessions/"+view.ID)
	writeJSON(c, http.StatusCreated, view)
}

func (s *Server) handleGetSession(c *gin.Context) {
	view, err := s.deps.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (s *Server) handleReportEvent(c *gin.Context) {
	var event performance.Event
	if !bind(c, &event) {
		return
	}

	view, err := s.deps.Sessions.ReportEvent(c.Request.Context(), c.Param("id"), event)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (s *Server) handleStepComplete(c *gin.Context) {
	var req stepCompleteRequest
	if !bind(c, &req) {
		return
	}

	view, err := s.deps.Sessions.ReportStepComplete(c.Request.Context(), c.Param("id"), *req.Complete)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// handleAdvance moves to the next step. On the last step it finalizes the
// lesson and includes the saved result.
func (s *Server) handleAdvance(c *gin.Context) {
	result, err := s.deps.Sessions.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, advanceResponse{
		Session:    result.View,
		Transition: result.Transition,
		Result:     newLessonResult(result.Finalized),
	})
}

func (s *Server) handleRetreat(c *gin.Context) {
	view, err := s.deps.Sessions.Retreat(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// handleAbandonSession discards the session and its event log.
func (s *Server) handleAbandonSession(c *gin.Context) {
	if err := s.deps.Sessions.Abandon(c.Request.Context(), c.Param("id"), session.CloseAbandoned); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
