package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

const (
	getLatestHealthQuery = `
		SELECT id, account_id, overall_score, status,
		       adoption_score, engagement_score, relationship_score,
		       financial_score, support_score,
		       adoption_weight, engagement_weight, relationship_weight,
		       financial_weight, support_weight,
		       churn_probability, expansion_probability,
		       trend, trend_percentage,
		       adoption_details, engagement_details, relationship_details,
		       financial_details, support_details,
		       previous_score, previous_score_at, calculated_at
		FROM health_scores WHERE account_id = $1`

	upsertHealthQuery = `
		INSERT INTO health_scores (id, account_id, overall_score, status,
		        adoption_score, engagement_score, relationship_score,
		        financial_score, support_score,
		        adoption_weight, engagement_weight, relationship_weight,
		        financial_weight, support_weight,
		        churn_probability, expansion_probability,
		        trend, trend_percentage,
		        adoption_details, engagement_details, relationship_details,
		        financial_details, support_details,
		        previous_score, previous_score_at, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (account_id) DO UPDATE SET
		        overall_score = EXCLUDED.overall_score,
		        status = EXCLUDED.status,
		        adoption_score = EXCLUDED.adoption_score,
		        engagement_score = EXCLUDED.engagement_score,
		        relationship_score = EXCLUDED.relationship_score,
		        financial_score = EXCLUDED.financial_score,
		        support_score = EXCLUDED.support_score,
		        adoption_weight = EXCLUDED.adoption_weight,
		        engagement_weight = EXCLUDED.engagement_weight,
		        relationship_weight = EXCLUDED.relationship_weight,
		        financial_weight = EXCLUDED.financial_weight,
		        support_weight = EXCLUDED.support_weight,
		        churn_probability = EXCLUDED.churn_probability,
		        expansion_probability = EXCLUDED.expansion_probability,
		        trend = EXCLUDED.trend,
		        trend_percentage = EXCLUDED.trend_percentage,
		        adoption_details = EXCLUDED.adoption_details,
		        engagement_details = EXCLUDED.engagement_details,
		        relationship_details = EXCLUDED.relationship_details,
		        financial_details = EXCLUDED.financial_details,
		        support_details = EXCLUDED.support_details,
		        previous_score = EXCLUDED.previous_score,
		        previous_score_at = EXCLUDED.previous_score_at,
		        calculated_at = EXCLUDED.calculated_at`

	appendHealthEventQuery = `
		INSERT INTO health_score_events (id, health_score_id, account_id,
		        event_type, old_score, new_score, change_amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listHealthEventsQuery = `
		SELECT id, health_score_id, account_id, event_type,
		       old_score, new_score, change_amount, reason, created_at
		FROM health_score_events
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`
)

// healthRow carries the jsonb detail columns that the model keeps as maps.
type healthRow struct {
	models.HealthScore
	AdoptionDetailsRaw     []byte `db:"adoption_details"`
	EngagementDetailsRaw   []byte `db:"engagement_details"`
	RelationshipDetailsRaw []byte `db:"relationship_details"`
	FinancialDetailsRaw    []byte `db:"financial_details"`
	SupportDetailsRaw      []byte `db:"support_details"`
}

func (r *healthRow) toModel() (*models.HealthScore, error) {
	score := r.HealthScore
	for _, pair := range []struct {
		raw []byte
		dst *map[string]any
	}{
		{r.AdoptionDetailsRaw, &score.AdoptionDetails},
		{r.EngagementDetailsRaw, &score.EngagementDetails},
		{r.RelationshipDetailsRaw, &score.RelationshipDetails},
		{r.FinancialDetailsRaw, &score.FinancialDetails},
		{r.SupportDetailsRaw, &score.SupportDetails},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode score details: %w", err)
		}
	}
	return &score, nil
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(details)
}

// HealthScoreStore persists composite scores and their audit trail
type HealthScoreStore struct {
	db *sqlx.DB
}

// NewHealthScoreStore creates a health score store over db
func NewHealthScoreStore(db *sqlx.DB) *HealthScoreStore {
	return &HealthScoreStore{db: db}
}

func (s *HealthScoreStore) GetLatestHealth(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error) {
	var row healthRow
	if err := s.db.GetContext(ctx, &row, getLatestHealthQuery, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get health score: %w", err)
	}
	return row.toModel()
}

func (s *HealthScoreStore) SaveHealth(ctx context.Context, score *models.HealthScore) error {
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	adoption, err := marshalDetails(score.AdoptionDetails)
	if err != nil {
		return fmt.Errorf("encode adoption details: %w", err)
	}
	engagement, err := marshalDetails(score.EngagementDetails)
	if err != nil {
		return fmt.Errorf("encode engagement details: %w", err)
	}
	relationship, err := marshalDetails(score.RelationshipDetails)
	if err != nil {
		return fmt.Errorf("encode relationship details: %w", err)
	}
	financial, err := marshalDetails(score.FinancialDetails)
	if err != nil {
		return fmt.Errorf("encode financial details: %w", err)
	}
	support, err := marshalDetails(score.SupportDetails)
	if err != nil {
		return fmt.Errorf("encode support details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, upsertHealthQuery,
		score.ID, score.AccountID, score.OverallScore, score.Status,
		score.AdoptionScore, score.EngagementScore, score.RelationshipScore,
		score.FinancialScore, score.SupportScore,
		score.AdoptionWeight, score.EngagementWeight, score.RelationshipWeight,
		score.FinancialWeight, score.SupportWeight,
		score.ChurnProbability, score.ExpansionProbability,
		score.Trend, score.TrendPercentage,
		adoption, engagement, relationship, financial, support,
		score.PreviousScore, score.PreviousScoreAt, score.CalculatedAt)
	if err != nil {
		return fmt.Errorf("save health score: %w", err)
	}
	return nil
}

func (s *HealthScoreStore) AppendHealthEvent(ctx context.Context, event *models.HealthScoreEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, appendHealthEventQuery,
		event.ID, event.HealthScoreID, event.AccountID, event.EventType,
		event.OldScore, event.NewScore, event.ChangeAmount, event.Reason,
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append health event: %w", err)
	}
	return nil
}

// ListHealthEvents returns the newest audit events for an account, capped at limit.
func (s *HealthScoreStore) ListHealthEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]models.HealthScoreEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.HealthScoreEvent
	if err := s.db.SelectContext(ctx, &events, listHealthEventsQuery, accountID, limit); err != nil {
		return nil, fmt.Errorf("list health events: %w", err)
	}
	return events, nil
}
