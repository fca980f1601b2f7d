// Package api exposes the lifecycle engine over HTTP: health scores,
// segments, journeys and enrollments, account insights, and the billing
// webhook endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/config"
	"github.com/fieldpulse/lifecycle/internal/insights"
	"github.com/fieldpulse/lifecycle/internal/journey"
	"github.com/fieldpulse/lifecycle/internal/segment"
	"github.com/fieldpulse/lifecycle/internal/store/postgres"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// HealthEngine recalculates health scores on demand
type HealthEngine interface {
	CalculateAndSave(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
}

// HealthReader reads persisted health scores and their audit trail
type HealthReader interface {
	GetLatestHealth(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
	ListHealthEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]models.HealthScoreEvent, error)
}

// SegmentEngine recomputes and previews segment membership
type SegmentEngine interface {
	Refresh(ctx context.Context, segmentID uuid.UUID) (*segment.RefreshResult, error)
	Preview(ctx context.Context, rawRules []byte, sampleSize int) (*segment.PreviewResult, error)
}

// SegmentReader reads segment definitions and memberships
type SegmentReader interface {
	GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	ListSegments(ctx context.Context) ([]models.Segment, error)
	ListMemberships(ctx context.Context, segmentID uuid.UUID) ([]models.SegmentMembership, error)
	CreateSegment(ctx context.Context, segment *models.Segment) error
}

// JourneyEngine drives enrollments
type JourneyEngine interface {
	Enroll(ctx context.Context, journeyID, accountID uuid.UUID, enrolledBy, reason string) (*models.JourneyEnrollment, error)
	Exit(ctx context.Context, enrollmentID uuid.UUID, reason string) error
	Pause(ctx context.Context, enrollmentID uuid.UUID) error
	Resume(ctx context.Context, enrollmentID uuid.UUID) error
	AdvanceEnrollment(ctx context.Context, enrollmentID uuid.UUID) error
	ProcessEnrollments(ctx context.Context) (*journey.TickResult, error)
}

// JourneyReader reads journey definitions, steps and enrollments
type JourneyReader interface {
	GetJourney(ctx context.Context, id uuid.UUID) (*models.Journey, error)
	ListJourneys(ctx context.Context) ([]models.Journey, error)
	CreateJourney(ctx context.Context, journey *models.Journey) error
	ListSteps(ctx context.Context, journeyID uuid.UUID) ([]*models.JourneyStep, error)
	CreateStep(ctx context.Context, step *models.JourneyStep) error
	GetEnrollment(ctx context.Context, id uuid.UUID) (*models.JourneyEnrollment, error)
}

// InsightEngine generates narratives and lookalike results
type InsightEngine interface {
	Enabled() bool
	GenerateInsight(ctx context.Context, accountID uuid.UUID) (*insights.AccountInsight, error)
	SimilarAccounts(ctx context.Context, accountID uuid.UUID, limit int) ([]postgres.SimilarAccount, error)
}

// BillingWebhook processes payment provider webhook deliveries
type BillingWebhook interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Pinger checks a backing service's liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the lifecycle engine
type Server struct {
	server   *http.Server
	router   *mux.Router
	cfg      config.APIConfig
	health   HealthEngine
	scores   HealthReader
	segments SegmentEngine
	segStore SegmentReader
	journeys JourneyEngine
	jStore   JourneyReader
	insights InsightEngine
	billing  BillingWebhook
	pingers  map[string]Pinger
	logger   zerolog.Logger
}

// Deps bundles the server's collaborators
type Deps struct {
	Health   HealthEngine
	Scores   HealthReader
	Segments SegmentEngine
	SegStore SegmentReader
	Journeys JourneyEngine
	JStore   JourneyReader
	Insights InsightEngine
	Billing  BillingWebhook
	Pingers  map[string]Pinger
}

// NewServer creates the HTTP server and registers all routes
func NewServer(cfg config.APIConfig, deps Deps, logger zerolog.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:   router,
		cfg:      cfg,
		health:   deps.Health,
		scores:   deps.Scores,
		segments: deps.Segments,
		segStore: deps.SegStore,
		journeys: deps.Journeys,
		jStore:   deps.JStore,
		insights: deps.Insights,
		billing:  deps.Billing,
		pingers:  deps.Pingers,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	var handler http.Handler = router
	if cfg.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		})
		handler = c.Handler(router)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	accounts := api.PathPrefix("/accounts").Subrouter()
	accounts.HandleFunc("/{id}/health", s.handleGetHealth).Methods("GET")
	accounts.HandleFunc("/{id}/health/recalculate", s.handleRecalculateHealth).Methods("POST")
	accounts.HandleFunc("/{id}/health/events", s.handleListHealthEvents).Methods("GET")
	accounts.HandleFunc("/{id}/insights", s.handleGenerateInsight).Methods("GET")
	accounts.HandleFunc("/{id}/similar", s.handleSimilarAccounts).Methods("GET")

	segments := api.PathPrefix("/segments").Subrouter()
	segments.HandleFunc("", s.handleListSegments).Methods("GET")
	segments.HandleFunc("", s.handleCreateSegment).Methods("POST")
	segments.HandleFunc("/preview", s.handlePreviewSegment).Methods("POST")
	segments.HandleFunc("/{id}", s.handleGetSegment).Methods("GET")
	segments.HandleFunc("/{id}/refresh", s.handleRefreshSegment).Methods("POST")
	segments.HandleFunc("/{id}/members", s.handleListMembers).Methods("GET")

	journeys := api.PathPrefix("/journeys").Subrouter()
	journeys.HandleFunc("", s.handleListJourneys).Methods("GET")
	journeys.HandleFunc("", s.handleCreateJourney).Methods("POST")
	journeys.HandleFunc("/tick", s.handleJourneyTick).Methods("POST")
	journeys.HandleFunc("/{id}", s.handleGetJourney).Methods("GET")
	journeys.HandleFunc("/{id}/steps", s.handleListSteps).Methods("GET")
	journeys.HandleFunc("/{id}/steps", s.handleCreateStep).Methods("POST")
	journeys.HandleFunc("/{id}/enroll", s.handleEnroll).Methods("POST")

	enrollments := api.PathPrefix("/enrollments").Subrouter()
	enrollments.HandleFunc("/{id}", s.handleGetEnrollment).Methods("GET")
	enrollments.HandleFunc("/{id}/advance", s.handleAdvanceEnrollment).Methods("POST")
	enrollments.HandleFunc("/{id}/exit", s.handleExitEnrollment).Methods("POST")
	enrollments.HandleFunc("/{id}/pause", s.handlePauseEnrollment).Methods("POST")
	enrollments.HandleFunc("/{id}/resume", s.handleResumeEnrollment).Methods("POST")

	api.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods("POST")
	api.HandleFunc("/health", s.handleHealthz).Methods("GET")
}

// Start blocks serving HTTP until the listener fails or Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("api server stopping")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler { return s.router }

// Response envelope

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type APIMeta struct {
	Total   int  `json:"total,omitempty"`
	Limit   int  `json:"limit,omitempty"`
	HasMore bool `json:"has_more,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, details string) {
	s.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
	})
}

func (s *Server) writeSuccess(w http.ResponseWriter, data any, meta *APIMeta) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data, Meta: meta})
}

func parseRequestBody(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// pathUUID extracts and parses a uuid path variable
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}
