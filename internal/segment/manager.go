// Package segment maintains rule-defined account segments: it recomputes
// memberships against live account and health data, soft-exits members that
// no longer match, and previews rule changes without writing anything.
package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/internal/rules"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// Membership audit strings recorded on dynamic joins and exits.
const (
	entryReasonRuleMatch  = "Dynamic rule match"
	exitReasonRuleNoMatch = "No longer matches rules"
)

// Store persists segments and their membership edges
type Store interface {
	GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	ListActiveMemberIDs(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error)
	AddMembership(ctx context.Context, membership *models.SegmentMembership) error
	ExitMembership(ctx context.Context, segmentID, accountID uuid.UUID, reason string) error
	UpdateSegmentStats(ctx context.Context, segment *models.Segment) error
}

// RefreshResult summarizes one membership recomputation
type RefreshResult struct {
	SegmentID   uuid.UUID `json:"segment_id"`
	Added       int       `json:"added"`
	Removed     int       `json:"removed"`
	MemberCount int       `json:"member_count"`
}

// PreviewMember is one sampled account from a rule preview
type PreviewMember struct {
	AccountID   uuid.UUID `json:"account_id"`
	Name        string    `json:"name"`
	AccountType string    `json:"account_type"`
	HealthScore *int      `json:"health_score,omitempty"`
}

// PreviewResult reports how a rule tree would match without persisting
type PreviewResult struct {
	MatchCount int             `json:"match_count"`
	Sample     []PreviewMember `json:"sample"`
}

// Manager recomputes segment memberships from rule trees
type Manager struct {
	store     Store
	accounts  rules.AccountSource
	health    rules.HealthSource
	evaluator *rules.Evaluator
	publisher events.Publisher
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewManager creates a segment manager over the given stores
func NewManager(store Store, accounts rules.AccountSource, health rules.HealthSource, publisher events.Publisher, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		accounts:  accounts,
		health:    health,
		evaluator: rules.NewEvaluator(accounts, health),
		publisher: publisher,
		clock:     clk,
		logger:    logger.With().Str("component", "segment").Logger(),
	}
}

// Refresh recomputes membership for a dynamic segment. Accounts that newly
// match are added, active members that no longer match are soft-exited, and
// the segment's counters are updated. Static segments are left untouched.
// Running Refresh twice with unchanged data is a no-op on the second call.
func (m *Manager) Refresh(ctx context.Context, segmentID uuid.UUID) (*RefreshResult, error) {
	segment, err := m.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if segment.Type != models.SegmentTypeDynamic {
		return &RefreshResult{SegmentID: segmentID, MemberCount: segment.MemberCount}, nil
	}

	tree, err := rules.Parse(segment.Rules)
	if err != nil {
		return nil, fmt.Errorf("parse segment rules: %w", err)
	}

	matched, err := m.evaluator.EvaluateSet(ctx, tree)
	if err != nil {
		return nil, fmt.Errorf("evaluate segment %s: %w", segmentID, err)
	}

	current, err := m.store.ListActiveMemberIDs(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	matchedSet := make(map[uuid.UUID]bool, len(matched))
	for _, id := range matched {
		matchedSet[id] = true
	}
	currentSet := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	now := m.clock.Now()
	result := &RefreshResult{SegmentID: segmentID}

	for _, accountID := range matched {
		if currentSet[accountID] {
			continue
		}
		membership := &models.SegmentMembership{
			ID:          uuid.New(),
			SegmentID:   segmentID,
			AccountID:   accountID,
			IsActive:    true,
			EnteredAt:   now,
			EntryReason: entryReasonRuleMatch,
		}
		if err := m.store.AddMembership(ctx, membership); err != nil {
			return nil, fmt.Errorf("add member %s: %w", accountID, err)
		}
		m.publishMembership(ctx, models.EventTypeSegmentJoined, segment, accountID, entryReasonRuleMatch, now)
		result.Added++
	}

	for _, accountID := range current {
		if matchedSet[accountID] {
			continue
		}
		if err := m.store.ExitMembership(ctx, segmentID, accountID, exitReasonRuleNoMatch); err != nil {
			return nil, fmt.Errorf("exit member %s: %w", accountID, err)
		}
		m.publishMembership(ctx, models.EventTypeSegmentExited, segment, accountID, exitReasonRuleNoMatch, now)
		result.Removed++
	}

	segment.MemberCount = len(matched)
	segment.LastEvaluatedAt = &now
	if err := m.store.UpdateSegmentStats(ctx, segment); err != nil {
		return nil, fmt.Errorf("update segment stats: %w", err)
	}
	result.MemberCount = len(matched)

	if result.Added > 0 || result.Removed > 0 {
		m.logger.Info().
			Str("segment_id", segmentID.String()).
			Int("added", result.Added).
			Int("removed", result.Removed).
			Int("member_count", result.MemberCount).
			Msg("segment refreshed")
	}
	return result, nil
}

// Preview evaluates a candidate rule tree against the current population
// without writing anything. Up to sampleSize matching accounts are returned
// with enough detail to sanity-check the rule.
func (m *Manager) Preview(ctx context.Context, rawRules []byte, sampleSize int) (*PreviewResult, error) {
	tree, err := rules.Parse(rawRules)
	if err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	matched, err := m.evaluator.EvaluateSet(ctx, tree)
	if err != nil {
		return nil, err
	}

	if sampleSize <= 0 {
		sampleSize = 10
	}
	result := &PreviewResult{MatchCount: len(matched)}
	for _, accountID := range matched {
		if len(result.Sample) >= sampleSize {
			break
		}
		account, err := m.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		member := PreviewMember{
			AccountID:   accountID,
			Name:        account.Name,
			AccountType: string(account.AccountType),
		}
		if health, err := m.health.GetLatestHealth(ctx, accountID); err == nil && health != nil {
			score := health.OverallScore
			member.HealthScore = &score
		}
		result.Sample = append(result.Sample, member)
	}
	return result, nil
}

func (m *Manager) publishMembership(ctx context.Context, eventType models.EventType, segment *models.Segment, accountID uuid.UUID, reason string, now time.Time) {
	event := models.SegmentMembershipEvent{
		BaseEvent: models.BaseEvent{
			ID:        uuid.NewString(),
			Type:      eventType,
			Timestamp: now,
			Source:    "segment-manager",
			AccountID: accountID,
		},
		SegmentID:   segment.ID,
		SegmentName: segment.Name,
		Reason:      reason,
	}
	if err := m.publisher.Publish(ctx, events.TopicSegmentEvents, accountID.String(), event); err != nil {
		m.logger.Error().Err(err).
			Str("segment_id", segment.ID.String()).
			Str("account_id", accountID.String()).
			Msg("membership event publish failed")
	}
}
