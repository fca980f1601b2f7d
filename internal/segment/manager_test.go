package segment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

type fakeSources struct {
	accounts map[uuid.UUID]*models.Account
	health   map[uuid.UUID]*models.HealthScore
	order    []uuid.UUID
}

func (f *fakeSources) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, models.NewNotFound("account", id.String())
	}
	return account, nil
}

func (f *fakeSources) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	return f.order, nil
}

func (f *fakeSources) GetLatestHealth(_ context.Context, id uuid.UUID) (*models.HealthScore, error) {
	return f.health[id], nil
}

func (f *fakeSources) add(name string, status models.HealthStatus, score int) uuid.UUID {
	id := uuid.New()
	f.accounts[id] = &models.Account{
		ID:          id,
		Name:        name,
		AccountType: models.AccountTypeStandard,
		IsActive:    true,
	}
	f.health[id] = &models.HealthScore{
		AccountID:    id,
		OverallScore: score,
		Status:       status,
	}
	f.order = append(f.order, id)
	return id
}

type fakeSegmentStore struct {
	segments    map[uuid.UUID]*models.Segment
	memberships map[uuid.UUID]*models.SegmentMembership // keyed by account, single segment in tests
	writes      int
}

func newFakeSegmentStore(segment *models.Segment) *fakeSegmentStore {
	return &fakeSegmentStore{
		segments:    map[uuid.UUID]*models.Segment{segment.ID: segment},
		memberships: map[uuid.UUID]*models.SegmentMembership{},
	}
}

func (f *fakeSegmentStore) GetSegment(_ context.Context, id uuid.UUID) (*models.Segment, error) {
	segment, ok := f.segments[id]
	if !ok {
		return nil, models.NewNotFound("segment", id.String())
	}
	return segment, nil
}

func (f *fakeSegmentStore) ListActiveMemberIDs(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, m := range f.memberships {
		if m.IsActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeSegmentStore) AddMembership(_ context.Context, membership *models.SegmentMembership) error {
	f.memberships[membership.AccountID] = membership
	f.writes++
	return nil
}

func (f *fakeSegmentStore) ExitMembership(_ context.Context, _, accountID uuid.UUID, reason string) error {
	m := f.memberships[accountID]
	m.IsActive = false
	m.ExitReason = reason
	f.writes++
	return nil
}

func (f *fakeSegmentStore) UpdateSegmentStats(_ context.Context, segment *models.Segment) error {
	f.segments[segment.ID] = segment
	f.writes++
	return nil
}

func atRiskRules(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"logic": "and",
		"rules": []map[string]any{
			{"field": "health_status", "operator": "eq", "value": "at_risk"},
		},
	})
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	return raw
}

func newTestManager(t *testing.T, segment *models.Segment, sources *fakeSources) (*Manager, *fakeSegmentStore, *events.Capture) {
	t.Helper()
	store := newFakeSegmentStore(segment)
	capture := events.NewCapture()
	clk := clock.NewFake(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	manager := NewManager(store, sources, sources, capture, clk, zerolog.Nop())
	return manager, store, capture
}

func TestRefreshMatchesExactlyAtRiskAccounts(t *testing.T) {
	sources := &fakeSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	a := sources.add("Acme Plumbing", models.HealthStatusAtRisk, 55)
	sources.add("Borealis Electric", models.HealthStatusHealthy, 82)
	c := sources.add("Cedar Roofing", models.HealthStatusAtRisk, 48)
	sources.add("Delta Pools", models.HealthStatusCritical, 25)
	e := sources.add("Evergreen Lawn", models.HealthStatusAtRisk, 61)

	segment := &models.Segment{
		ID:       uuid.New(),
		Name:     "At Risk",
		Type:     models.SegmentTypeDynamic,
		Rules:    atRiskRules(t),
		IsActive: true,
	}
	manager, store, capture := newTestManager(t, segment, sources)

	result, err := manager.Refresh(context.Background(), segment.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if result.Added != 3 || result.Removed != 0 {
		t.Fatalf("refresh = {added: %d, removed: %d}, want {3, 0}", result.Added, result.Removed)
	}
	if result.MemberCount != 3 {
		t.Errorf("member count = %d, want 3", result.MemberCount)
	}

	for _, id := range []uuid.UUID{a, c, e} {
		m, ok := store.memberships[id]
		if !ok || !m.IsActive {
			t.Errorf("account %s not an active member", id)
		}
	}
	if len(store.memberships) != 3 {
		t.Errorf("memberships = %d, want 3", len(store.memberships))
	}
	if segment.LastEvaluatedAt == nil {
		t.Error("LastEvaluatedAt not set")
	}
	if joined := capture.ByTopic(events.TopicSegmentEvents); len(joined) != 3 {
		t.Errorf("published events = %d, want 3", len(joined))
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	sources := &fakeSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	sources.add("Acme Plumbing", models.HealthStatusAtRisk, 55)
	sources.add("Borealis Electric", models.HealthStatusHealthy, 82)

	segment := &models.Segment{
		ID:    uuid.New(),
		Name:  "At Risk",
		Type:  models.SegmentTypeDynamic,
		Rules: atRiskRules(t),
	}
	manager, _, capture := newTestManager(t, segment, sources)
	ctx := context.Background()

	if _, err := manager.Refresh(ctx, segment.ID); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	second, err := manager.Refresh(ctx, segment.ID)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if second.Added != 0 || second.Removed != 0 {
		t.Errorf("second refresh = {added: %d, removed: %d}, want {0, 0}", second.Added, second.Removed)
	}
	if got := len(capture.ByTopic(events.TopicSegmentEvents)); got != 1 {
		t.Errorf("total published events = %d, want 1", got)
	}
}

func TestRefreshSoftExitsRecoveredAccounts(t *testing.T) {
	sources := &fakeSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	a := sources.add("Acme Plumbing", models.HealthStatusAtRisk, 55)
	b := sources.add("Borealis Electric", models.HealthStatusAtRisk, 50)

	segment := &models.Segment{
		ID:    uuid.New(),
		Name:  "At Risk",
		Type:  models.SegmentTypeDynamic,
		Rules: atRiskRules(t),
	}
	manager, store, _ := newTestManager(t, segment, sources)
	ctx := context.Background()

	if _, err := manager.Refresh(ctx, segment.ID); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// Account B recovers.
	sources.health[b].Status = models.HealthStatusHealthy
	sources.health[b].OverallScore = 78

	result, err := manager.Refresh(ctx, segment.ID)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if result.Added != 0 || result.Removed != 1 {
		t.Fatalf("refresh = {added: %d, removed: %d}, want {0, 1}", result.Added, result.Removed)
	}

	exited := store.memberships[b]
	if exited.IsActive {
		t.Error("recovered account still active")
	}
	if exited.ExitReason != "No longer matches rules" {
		t.Errorf("exit reason = %q, want %q", exited.ExitReason, "No longer matches rules")
	}
	if entry := store.memberships[a].EntryReason; entry != "Dynamic rule match" {
		t.Errorf("entry reason = %q, want %q", entry, "Dynamic rule match")
	}
	// Soft exit keeps the row.
	if _, ok := store.memberships[b]; !ok {
		t.Error("membership row deleted instead of soft-exited")
	}
	if m := store.memberships[a]; !m.IsActive {
		t.Error("still-matching account was exited")
	}
}

func TestRefreshStaticSegmentIsNoOp(t *testing.T) {
	sources := &fakeSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	sources.add("Acme Plumbing", models.HealthStatusAtRisk, 55)

	segment := &models.Segment{
		ID:          uuid.New(),
		Name:        "VIP Handpicked",
		Type:        models.SegmentTypeStatic,
		MemberCount: 7,
	}
	manager, store, _ := newTestManager(t, segment, sources)

	result, err := manager.Refresh(context.Background(), segment.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if result.Added != 0 || result.Removed != 0 {
		t.Errorf("refresh = {added: %d, removed: %d}, want {0, 0}", result.Added, result.Removed)
	}
	if result.MemberCount != 7 {
		t.Errorf("member count = %d, want 7", result.MemberCount)
	}
	if store.writes != 0 {
		t.Errorf("store writes = %d, want 0", store.writes)
	}
}

func TestPreviewNeverWrites(t *testing.T) {
	sources := &fakeSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	a := sources.add("Acme Plumbing", models.HealthStatusAtRisk, 55)
	sources.add("Borealis Electric", models.HealthStatusHealthy, 82)
	sources.add("Cedar Roofing", models.HealthStatusAtRisk, 48)

	segment := &models.Segment{ID: uuid.New(), Name: "unused", Type: models.SegmentTypeDynamic}
	manager, store, capture := newTestManager(t, segment, sources)

	result, err := manager.Preview(context.Background(), atRiskRules(t), 1)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if result.MatchCount != 2 {
		t.Errorf("match count = %d, want 2", result.MatchCount)
	}
	if len(result.Sample) != 1 {
		t.Fatalf("sample size = %d, want 1", len(result.Sample))
	}
	sample := result.Sample[0]
	if sample.AccountID != a {
		t.Errorf("sample account = %s, want %s", sample.AccountID, a)
	}
	if sample.Name != "Acme Plumbing" {
		t.Errorf("sample name = %q", sample.Name)
	}
	if sample.HealthScore == nil || *sample.HealthScore != 55 {
		t.Errorf("sample health score = %v, want 55", sample.HealthScore)
	}

	if store.writes != 0 {
		t.Errorf("store writes = %d, want 0", store.writes)
	}
	if len(capture.Events()) != 0 {
		t.Errorf("published events = %d, want 0", len(capture.Events()))
	}
}
