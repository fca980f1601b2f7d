package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

const (
	getSegmentQuery = `
		SELECT id, name, description, type, rules, member_count,
		       last_evaluated_at, priority, color, icon, is_active, created_at
		FROM segments WHERE id = $1`

	listSegmentsQuery = `
		SELECT id, name, description, type, rules, member_count,
		       last_evaluated_at, priority, color, icon, is_active, created_at
		FROM segments WHERE is_active ORDER BY priority DESC, name`

	listDynamicSegmentIDsQuery = `
		SELECT id FROM segments WHERE is_active AND type = 'dynamic'`

	createSegmentQuery = `
		INSERT INTO segments (id, name, description, type, rules, member_count,
		        priority, color, icon, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10)`

	updateSegmentStatsQuery = `
		UPDATE segments SET member_count = $2, last_evaluated_at = $3 WHERE id = $1`

	listActiveMemberIDsQuery = `
		SELECT account_id FROM segment_memberships
		WHERE segment_id = $1 AND is_active`

	reactivateMembershipQuery = `
		UPDATE segment_memberships
		SET is_active = TRUE, entered_at = $3, entry_reason = $4,
		    exited_at = NULL, exit_reason = ''
		WHERE segment_id = $1 AND account_id = $2`

	insertMembershipQuery = `
		INSERT INTO segment_memberships (id, segment_id, account_id, is_active,
		        entered_at, entry_reason)
		VALUES ($1, $2, $3, TRUE, $4, $5)`

	exitMembershipQuery = `
		UPDATE segment_memberships
		SET is_active = FALSE, exited_at = $3, exit_reason = $4
		WHERE segment_id = $1 AND account_id = $2 AND is_active`

	listMembershipsQuery = `
		SELECT id, segment_id, account_id, is_active, entered_at, entry_reason,
		       exited_at, exit_reason
		FROM segment_memberships
		WHERE segment_id = $1 ORDER BY entered_at DESC`
)

// SegmentStore persists segments and their membership edges
type SegmentStore struct {
	db *sqlx.DB
}

// NewSegmentStore creates a segment store over db
func NewSegmentStore(db *sqlx.DB) *SegmentStore {
	return &SegmentStore{db: db}
}

func (s *SegmentStore) GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	var segment models.Segment
	if err := s.db.GetContext(ctx, &segment, getSegmentQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("segment", id.String())
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &segment, nil
}

func (s *SegmentStore) ListSegments(ctx context.Context) ([]models.Segment, error) {
	var segments []models.Segment
	if err := s.db.SelectContext(ctx, &segments, listSegmentsQuery); err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return segments, nil
}

// ListDynamicSegmentIDs returns the segments the scheduler recomputes.
func (s *SegmentStore) ListDynamicSegmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, listDynamicSegmentIDsQuery); err != nil {
		return nil, fmt.Errorf("list dynamic segments: %w", err)
	}
	return ids, nil
}

func (s *SegmentStore) CreateSegment(ctx context.Context, segment *models.Segment) error {
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	if segment.CreatedAt.IsZero() {
		segment.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, createSegmentQuery,
		segment.ID, segment.Name, segment.Description, segment.Type,
		segment.Rules, segment.Priority, segment.Color, segment.Icon,
		segment.IsActive, segment.CreatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (s *SegmentStore) UpdateSegmentStats(ctx context.Context, segment *models.Segment) error {
	_, err := s.db.ExecContext(ctx, updateSegmentStatsQuery,
		segment.ID, segment.MemberCount, segment.LastEvaluatedAt)
	if err != nil {
		return fmt.Errorf("update segment stats: %w", err)
	}
	return nil
}

func (s *SegmentStore) ListActiveMemberIDs(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, listActiveMemberIDsQuery, segmentID); err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	return ids, nil
}

// AddMembership reactivates a previously exited edge when one exists so the
// membership history stays on a single row per segment and account pair.
func (s *SegmentStore) AddMembership(ctx context.Context, membership *models.SegmentMembership) error {
	res, err := s.db.ExecContext(ctx, reactivateMembershipQuery,
		membership.SegmentID, membership.AccountID,
		membership.EnteredAt, membership.EntryReason)
	if err != nil {
		return fmt.Errorf("reactivate membership: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	if membership.ID == uuid.Nil {
		membership.ID = uuid.New()
	}
	_, err = s.db.ExecContext(ctx, insertMembershipQuery,
		membership.ID, membership.SegmentID, membership.AccountID,
		membership.EnteredAt, membership.EntryReason)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *SegmentStore) ExitMembership(ctx context.Context, segmentID, accountID uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx, exitMembershipQuery,
		segmentID, accountID, time.Now().UTC(), reason)
	if err != nil {
		return fmt.Errorf("exit membership: %w", err)
	}
	return nil
}

func (s *SegmentStore) ListMemberships(ctx context.Context, segmentID uuid.UUID) ([]models.SegmentMembership, error) {
	var memberships []models.SegmentMembership
	if err := s.db.SelectContext(ctx, &memberships, listMembershipsQuery, segmentID); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}
