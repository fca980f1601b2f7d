package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/internal/insights"
	"github.com/fieldpulse/lifecycle/internal/journey"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// Health handlers

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id", err.Error())
		return
	}

	score, err := s.scores.GetLatestHealth(r.Context(), accountID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load health score", err.Error())
		return
	}
	if score == nil {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "No health score calculated yet", "")
		return
	}
	s.writeSuccess(w, score, nil)
}

func (s *Server) handleRecalculateHealth(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id", err.Error())
		return
	}

	score, err := s.health.CalculateAndSave(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to recalculate health score")
		return
	}
	s.writeSuccess(w, score, nil)
}

func (s *Server) handleListHealthEvents(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id", err.Error())
		return
	}
	limit := queryInt(r, "limit", 50)

	events, err := s.scores.ListHealthEvents(r.Context(), accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list health events", err.Error())
		return
	}
	s.writeSuccess(w, events, &APIMeta{Total: len(events), Limit: limit})
}

// Insight handlers

func (s *Server) handleGenerateInsight(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id", err.Error())
		return
	}

	insight, err := s.insights.GenerateInsight(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, insights.ErrDisabled) {
			s.writeError(w, http.StatusServiceUnavailable, "INSIGHTS_DISABLED", "Insight generation is not configured", "")
			return
		}
		s.writeDomainError(w, err, "Failed to generate insight")
		return
	}
	s.writeSuccess(w, insight, nil)
}

func (s *Server) handleSimilarAccounts(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id", err.Error())
		return
	}
	limit := queryInt(r, "limit", 10)

	neighbors, err := s.insights.SimilarAccounts(r.Context(), accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to find similar accounts", err.Error())
		return
	}
	s.writeSuccess(w, neighbors, &APIMeta{Total: len(neighbors), Limit: limit})
}

// Segment handlers

type CreateSegmentRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Rules       json.RawMessage `json:"rules,omitempty"`
	Priority    int             `json:"priority"`
	Color       string          `json:"color"`
	Icon        string          `json:"icon"`
}

type PreviewSegmentRequest struct {
	Rules      json.RawMessage `json:"rules"`
	SampleSize int             `json:"sample_size"`
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.segStore.ListSegments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list segments", err.Error())
		return
	}
	s.writeSuccess(w, segments, &APIMeta{Total: len(segments)})
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req CreateSegmentRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Segment name is required", "")
		return
	}
	segmentType := models.SegmentType(req.Type)
	if segmentType != models.SegmentTypeDynamic && segmentType != models.SegmentTypeStatic {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Segment type must be dynamic or static", "")
		return
	}

	seg := &models.Segment{
		Name:        req.Name,
		Description: req.Description,
		Type:        segmentType,
		Rules:       req.Rules,
		Priority:    req.Priority,
		Color:       req.Color,
		Icon:        req.Icon,
		IsActive:    true,
	}
	if err := s.segStore.CreateSegment(r.Context(), seg); err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create segment", err.Error())
		return
	}
	s.writeSuccess(w, seg, nil)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid segment id", err.Error())
		return
	}

	seg, err := s.segStore.GetSegment(r.Context(), segmentID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to load segment")
		return
	}
	s.writeSuccess(w, seg, nil)
}

func (s *Server) handleRefreshSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid segment id", err.Error())
		return
	}

	result, err := s.segments.Refresh(r.Context(), segmentID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to refresh segment")
		return
	}
	s.writeSuccess(w, result, nil)
}

func (s *Server) handlePreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req PreviewSegmentRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}

	result, err := s.segments.Preview(r.Context(), req.Rules, req.SampleSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_RULES", "Failed to evaluate rules", err.Error())
		return
	}
	s.writeSuccess(w, result, nil)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	segmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid segment id", err.Error())
		return
	}

	memberships, err := s.segStore.ListMemberships(r.Context(), segmentID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list memberships", err.Error())
		return
	}
	s.writeSuccess(w, memberships, &APIMeta{Total: len(memberships)})
}

// Journey handlers

type CreateJourneyRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	ExitCriteria json.RawMessage `json:"exit_criteria,omitempty"`
	GoalCriteria json.RawMessage `json:"goal_criteria,omitempty"`
}

type CreateStepRequest struct {
	Order           int             `json:"order"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Config          map[string]any  `json:"config"`
	WaitHours       int             `json:"wait_hours,omitempty"`
	ConditionRules  json.RawMessage `json:"condition_rules,omitempty"`
	TrueNextStepID  *uuid.UUID      `json:"true_next_step_id,omitempty"`
	FalseNextStepID *uuid.UUID      `json:"false_next_step_id,omitempty"`
}

type EnrollRequest struct {
	AccountID  uuid.UUID `json:"account_id"`
	EnrolledBy string    `json:"enrolled_by"`
	Reason     string    `json:"reason"`
}

type ExitRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	journeys, err := s.jStore.ListJourneys(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list journeys", err.Error())
		return
	}
	s.writeSuccess(w, journeys, &APIMeta{Total: len(journeys)})
}

func (s *Server) handleCreateJourney(w http.ResponseWriter, r *http.Request) {
	var req CreateJourneyRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Journey name is required", "")
		return
	}
	status := models.JourneyStatus(req.Status)
	if status == "" {
		status = models.JourneyStatusDraft
	}

	j := &models.Journey{
		Name:         req.Name,
		Description:  req.Description,
		Type:         models.JourneyType(req.Type),
		Status:       status,
		ExitCriteria: req.ExitCriteria,
		GoalCriteria: req.GoalCriteria,
	}
	if err := s.jStore.CreateJourney(r.Context(), j); err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create journey", err.Error())
		return
	}
	s.writeSuccess(w, j, nil)
}

func (s *Server) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	journeyID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid journey id", err.Error())
		return
	}

	j, err := s.jStore.GetJourney(r.Context(), journeyID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to load journey")
		return
	}
	s.writeSuccess(w, j, nil)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	journeyID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid journey id", err.Error())
		return
	}

	steps, err := s.jStore.ListSteps(r.Context(), journeyID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list steps", err.Error())
		return
	}
	s.writeSuccess(w, steps, &APIMeta{Total: len(steps)})
}

func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	journeyID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid journey id", err.Error())
		return
	}
	var req CreateStepRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	stepType := models.StepType(req.Type)
	if !stepType.Valid() {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown step type", req.Type)
		return
	}

	step := &models.JourneyStep{
		JourneyID:       journeyID,
		Order:           req.Order,
		Name:            req.Name,
		Type:            stepType,
		Config:          req.Config,
		WaitHours:       req.WaitHours,
		ConditionRules:  req.ConditionRules,
		TrueNextStepID:  req.TrueNextStepID,
		FalseNextStepID: req.FalseNextStepID,
		IsActive:        true,
	}
	if err := s.jStore.CreateStep(r.Context(), step); err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create step", err.Error())
		return
	}
	s.writeSuccess(w, step, nil)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	journeyID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid journey id", err.Error())
		return
	}
	var req EnrollRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.AccountID == uuid.Nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "account_id is required", "")
		return
	}

	enrollment, err := s.journeys.Enroll(r.Context(), journeyID, req.AccountID, req.EnrolledBy, req.Reason)
	if err != nil {
		s.writeDomainError(w, err, "Failed to enroll account")
		return
	}
	s.writeSuccess(w, enrollment, nil)
}

func (s *Server) handleJourneyTick(w http.ResponseWriter, r *http.Request) {
	result, err := s.journeys.ProcessEnrollments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process enrollments", err.Error())
		return
	}
	s.writeSuccess(w, result, nil)
}

// Enrollment handlers

func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid enrollment id", err.Error())
		return
	}

	enrollment, err := s.jStore.GetEnrollment(r.Context(), enrollmentID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to load enrollment")
		return
	}
	s.writeSuccess(w, enrollment, nil)
}

func (s *Server) handleAdvanceEnrollment(w http.ResponseWriter, r *http.Request) {
	s.enrollmentAction(w, r, func(ctx context.Context, id uuid.UUID) error {
		return s.journeys.AdvanceEnrollment(ctx, id)
	})
}

func (s *Server) handleExitEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid enrollment id", err.Error())
		return
	}
	var req ExitRequest
	if err := parseRequestBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual_exit"
	}

	if err := s.journeys.Exit(r.Context(), enrollmentID, req.Reason); err != nil {
		s.writeDomainError(w, err, "Failed to exit enrollment")
		return
	}
	s.writeSuccess(w, map[string]string{"status": "exited"}, nil)
}

func (s *Server) handlePauseEnrollment(w http.ResponseWriter, r *http.Request) {
	s.enrollmentAction(w, r, s.journeys.Pause)
}

func (s *Server) handleResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	s.enrollmentAction(w, r, s.journeys.Resume)
}

func (s *Server) enrollmentAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error) {
	enrollmentID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid enrollment id", err.Error())
		return
	}
	if err := fn(r.Context(), enrollmentID); err != nil {
		s.writeDomainError(w, err, "Enrollment action failed")
		return
	}

	enrollment, err := s.jStore.GetEnrollment(r.Context(), enrollmentID)
	if err != nil {
		s.writeDomainError(w, err, "Failed to load enrollment")
		return
	}
	s.writeSuccess(w, enrollment, nil)
}

// Webhook and liveness handlers

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read payload", err.Error())
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("Stripe-Signature")
	if err := s.billing.HandleWebhook(r.Context(), payload, signature); err != nil {
		s.logger.Error().Err(err).Msg("webhook processing failed")
		s.writeError(w, http.StatusBadRequest, "WEBHOOK_ERROR", "Failed to process webhook", err.Error())
		return
	}
	s.writeSuccess(w, map[string]string{"status": "received"}, nil)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	healthy := true
	for name, pinger := range s.pingers {
		if err := pinger.Ping(ctx); err != nil {
			status[name] = map[string]string{"status": "error", "error": err.Error()}
			healthy = false
		} else {
			status[name] = map[string]string{"status": "ok"}
		}
	}
	if !healthy {
		status["status"] = "degraded"
	}
	s.writeSuccess(w, status, nil)
}

// writeDomainError maps domain errors onto HTTP status codes
func (s *Server) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", message, err.Error())
	case errors.Is(err, journey.ErrJourneyNotActive),
		errors.Is(err, journey.ErrAlreadyEnrolled),
		errors.Is(err, journey.ErrEnrollmentNotActive):
		s.writeError(w, http.StatusConflict, "CONFLICT", message, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message, err.Error())
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
