package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

const (
	insertTouchpointQuery = `
		INSERT INTO touchpoints (id, account_id, type, was_positive,
		                         contact_is_executive, contact_is_champion,
		                         nps_score, csat_score, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	countTouchpointsQuery = `
		SELECT COUNT(*) FROM touchpoints
		WHERE account_id = $1 AND type = ANY($2) AND occurred_at >= $3`

	countPositiveTouchpointsQuery = `
		SELECT COUNT(*) FROM touchpoints
		WHERE account_id = $1 AND was_positive AND occurred_at >= $2`

	countExecutiveTouchpointsQuery = `
		SELECT COUNT(*) FROM touchpoints
		WHERE account_id = $1 AND contact_is_executive AND occurred_at >= $2`

	countChampionTouchpointsQuery = `
		SELECT COUNT(*) FROM touchpoints
		WHERE account_id = $1 AND contact_is_champion AND occurred_at >= $2`

	latestNPSQuery = `
		SELECT nps_score FROM touchpoints
		WHERE account_id = $1 AND nps_score IS NOT NULL
		ORDER BY occurred_at DESC LIMIT 1`

	averageCSATQuery = `
		SELECT AVG(csat_score) FROM touchpoints
		WHERE account_id = $1 AND csat_score IS NOT NULL AND occurred_at >= $2`
)

// TouchpointStore records and aggregates account touchpoints
type TouchpointStore struct {
	db *sqlx.DB
}

// NewTouchpointStore creates a touchpoint store over db
func NewTouchpointStore(db *sqlx.DB) *TouchpointStore {
	return &TouchpointStore{db: db}
}

func (s *TouchpointStore) InsertTouchpoint(ctx context.Context, tp *models.Touchpoint) error {
	if tp.ID == uuid.Nil {
		tp.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, insertTouchpointQuery,
		tp.ID, tp.AccountID, tp.Type, tp.WasPositive,
		tp.ContactIsExecutive, tp.ContactIsChampion,
		tp.NPSScore, tp.CSATScore, tp.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert touchpoint: %w", err)
	}
	return nil
}

func (s *TouchpointStore) CountTouchpoints(ctx context.Context, accountID uuid.UUID, types []string, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, countTouchpointsQuery, accountID, pq.Array(types), since); err != nil {
		return 0, fmt.Errorf("count touchpoints: %w", err)
	}
	return count, nil
}

func (s *TouchpointStore) CountPositiveTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, countPositiveTouchpointsQuery, accountID, since); err != nil {
		return 0, fmt.Errorf("count positive touchpoints: %w", err)
	}
	return count, nil
}

func (s *TouchpointStore) CountExecutiveTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, countExecutiveTouchpointsQuery, accountID, since); err != nil {
		return 0, fmt.Errorf("count executive touchpoints: %w", err)
	}
	return count, nil
}

func (s *TouchpointStore) CountChampionTouchpoints(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, countChampionTouchpointsQuery, accountID, since); err != nil {
		return 0, fmt.Errorf("count champion touchpoints: %w", err)
	}
	return count, nil
}

func (s *TouchpointStore) LatestNPS(ctx context.Context, accountID uuid.UUID) (*int, error) {
	var nps int
	if err := s.db.GetContext(ctx, &nps, latestNPSQuery, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest nps: %w", err)
	}
	return &nps, nil
}

func (s *TouchpointStore) AverageCSAT(ctx context.Context, accountID uuid.UUID, since time.Time) (*float64, error) {
	var avg sql.NullFloat64
	if err := s.db.GetContext(ctx, &avg, averageCSATQuery, accountID, since); err != nil {
		return nil, fmt.Errorf("average csat: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}
