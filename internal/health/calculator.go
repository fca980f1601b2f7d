// Package health computes composite account health scores from weighted
// sub-scores over time-windowed activity counters, classifies them, and
// maintains the score audit trail.
package health

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// AccountStore supplies account records
type AccountStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// ActivityStore supplies time-windowed touchpoint counters per account
type ActivityStore interface {
	CountTouchpoints(ctx context.Context, accountID uuid.UUID, types []string, since time.Time) (int, error)
	CountPositiveTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	CountExecutiveTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	CountChampionTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	LatestNPS(ctx context.Context, accountID uuid.UUID) (*int, error)
	AverageCSAT(ctx context.Context, accountID uuid.UUID, since time.Time) (*float64, error)
}

// HealthStore persists scores and the append-only event trail
type HealthStore interface {
	GetLatestHealth(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
	SaveHealth(ctx context.Context, score *models.HealthScore) error
	AppendHealthEvent(ctx context.Context, event *models.HealthScoreEvent) error
}

// Weights are the per-component weights; they should sum to 100.
type Weights struct {
	Adoption     int `yaml:"adoption"`
	Engagement   int `yaml:"engagement"`
	Relationship int `yaml:"relationship"`
	Financial    int `yaml:"financial"`
	Support      int `yaml:"support"`
}

// DefaultWeights returns the standard component weighting
func DefaultWeights() Weights {
	return Weights{
		Adoption:     30,
		Engagement:   25,
		Relationship: 15,
		Financial:    20,
		Support:      10,
	}
}

// ComponentScore is one sub-score with its weight and detail blob
type ComponentScore struct {
	Score    int            `json:"score"`
	Weight   int            `json:"weight"`
	Weighted float64        `json:"weighted"`
	Details  map[string]any `json:"details"`
}

// Result is a pure calculation outcome, not yet persisted
type Result struct {
	OverallScore int                 `json:"overall_score"`
	Status       models.HealthStatus `json:"status"`

	Adoption     ComponentScore `json:"adoption"`
	Engagement   ComponentScore `json:"engagement"`
	Relationship ComponentScore `json:"relationship"`
	Financial    ComponentScore `json:"financial"`
	Support      ComponentScore `json:"support"`

	ChurnProbability     float64 `json:"churn_probability"`
	ExpansionProbability float64 `json:"expansion_probability"`
}

// Calculator computes and persists account health scores
type Calculator struct {
	accounts  AccountStore
	activity  ActivityStore
	store     HealthStore
	publisher events.Publisher
	weights   Weights
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewCalculator creates a calculator over the given stores
func NewCalculator(accounts AccountStore, activity ActivityStore, store HealthStore, publisher events.Publisher, weights Weights, clk clock.Clock, logger zerolog.Logger) *Calculator {
	return &Calculator{
		accounts:  accounts,
		activity:  activity,
		store:     store,
		publisher: publisher,
		weights:   weights,
		clock:     clk,
		logger:    logger.With().Str("component", "health").Logger(),
	}
}

// Calculate computes the health result for an account without persisting
// anything. It fails with a not-found error when the account is missing.
func (c *Calculator) Calculate(ctx context.Context, accountID uuid.UUID) (*Result, error) {
	account, err := c.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()

	adoption, err := c.adoptionScore(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("adoption score: %w", err)
	}
	engagement, err := c.engagementScore(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("engagement score: %w", err)
	}
	relationship, err := c.relationshipScore(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("relationship score: %w", err)
	}
	financial, err := c.financialScore(ctx, account, now)
	if err != nil {
		return nil, fmt.Errorf("financial score: %w", err)
	}
	support, err := c.supportScore(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("support score: %w", err)
	}

	overall := int(math.Floor(adoption.Weighted + engagement.Weighted +
		relationship.Weighted + financial.Weighted + support.Weighted))

	return &Result{
		OverallScore:         overall,
		Status:               models.GetHealthStatus(overall),
		Adoption:             adoption,
		Engagement:           engagement,
		Relationship:         relationship,
		Financial:            financial,
		Support:              support,
		ChurnProbability:     churnProbability(overall, engagement.Score, support.Score),
		ExpansionProbability: expansionProbability(overall, adoption.Score, financial.Score),
	}, nil
}

// CalculateAndSave computes the score, upserts the per-account record and,
// when the overall score moved, appends an audit event and publishes a
// change event to the bus.
func (c *Calculator) CalculateAndSave(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error) {
	result, err := c.Calculate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	existing, err := c.store.GetLatestHealth(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load existing health: %w", err)
	}

	var score *models.HealthScore
	changed := false
	oldScore := 0
	oldStatus := models.HealthStatus("")

	if existing != nil {
		oldScore = existing.OverallScore
		oldStatus = existing.Status
		changed = oldScore != result.OverallScore

		prev := existing.OverallScore
		prevAt := existing.CalculatedAt
		existing.PreviousScore = &prev
		existing.PreviousScoreAt = &prevAt
		existing.Trend = trendFor(result.OverallScore, oldScore)
		existing.TrendPercentage = trendPercentage(result.OverallScore, oldScore)
		applyResult(existing, result, c.weights, now)
		score = existing
	} else {
		score = &models.HealthScore{
			ID:        uuid.New(),
			AccountID: accountID,
			Trend:     models.TrendStable,
		}
		applyResult(score, result, c.weights, now)
	}

	if err := c.store.SaveHealth(ctx, score); err != nil {
		return nil, fmt.Errorf("save health score: %w", err)
	}

	if changed {
		event := &models.HealthScoreEvent{
			ID:            uuid.New(),
			HealthScoreID: score.ID,
			AccountID:     accountID,
			EventType:     "score_calculated",
			OldScore:      oldScore,
			NewScore:      result.OverallScore,
			ChangeAmount:  result.OverallScore - oldScore,
			Reason:        "Automated recalculation",
			CreatedAt:     now,
		}
		if err := c.store.AppendHealthEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("append health event: %w", err)
		}

		busEvent := models.HealthScoreChangedEvent{
			BaseEvent: models.BaseEvent{
				ID:        uuid.NewString(),
				Type:      models.EventTypeHealthScoreChanged,
				Timestamp: now,
				Source:    "health-calculator",
				AccountID: accountID,
			},
			OldScore:  oldScore,
			NewScore:  result.OverallScore,
			OldStatus: oldStatus,
			NewStatus: result.Status,
		}
		if err := c.publisher.Publish(ctx, events.TopicHealthEvents, accountID.String(), busEvent); err != nil {
			// The persisted score and audit trail are authoritative; a bus
			// hiccup is logged, not surfaced.
			c.logger.Error().Err(err).Str("account_id", accountID.String()).Msg("health change publish failed")
		}

		c.logger.Info().
			Str("account_id", accountID.String()).
			Int("old_score", oldScore).
			Int("new_score", result.OverallScore).
			Str("status", string(result.Status)).
			Msg("health score changed")
	}

	return score, nil
}

func applyResult(score *models.HealthScore, result *Result, weights Weights, now time.Time) {
	score.OverallScore = result.OverallScore
	score.Status = result.Status
	score.AdoptionScore = result.Adoption.Score
	score.EngagementScore = result.Engagement.Score
	score.RelationshipScore = result.Relationship.Score
	score.FinancialScore = result.Financial.Score
	score.SupportScore = result.Support.Score
	score.AdoptionWeight = weights.Adoption
	score.EngagementWeight = weights.Engagement
	score.RelationshipWeight = weights.Relationship
	score.FinancialWeight = weights.Financial
	score.SupportWeight = weights.Support
	score.ChurnProbability = result.ChurnProbability
	score.ExpansionProbability = result.ExpansionProbability
	score.AdoptionDetails = result.Adoption.Details
	score.EngagementDetails = result.Engagement.Details
	score.RelationshipDetails = result.Relationship.Details
	score.FinancialDetails = result.Financial.Details
	score.SupportDetails = result.Support.Details
	score.CalculatedAt = now
}

func trendFor(newScore, oldScore int) models.ScoreTrend {
	switch {
	case newScore > oldScore+5:
		return models.TrendImproving
	case newScore < oldScore-5:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func trendPercentage(newScore, oldScore int) float64 {
	if oldScore == 0 {
		return 0
	}
	return float64(newScore-oldScore) / float64(oldScore) * 100
}
