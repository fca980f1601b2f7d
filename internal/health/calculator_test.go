package health

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

type fakeAccounts struct {
	accounts map[uuid.UUID]*models.Account
}

func (f *fakeAccounts) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, models.NewNotFound("account", id.String())
	}
	return account, nil
}

type fakeActivity struct {
	counts     map[string]int
	positives  int
	executives int
	champions  int
	nps        *int
	csat       *float64
}

func (f *fakeActivity) CountTouchpoints(_ context.Context, _ uuid.UUID, types []string, _ time.Time) (int, error) {
	total := 0
	for _, t := range types {
		total += f.counts[t]
	}
	return total, nil
}

func (f *fakeActivity) CountPositiveTouchpoints(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return f.positives, nil
}

func (f *fakeActivity) CountExecutiveTouchpoints(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return f.executives, nil
}

func (f *fakeActivity) CountChampionTouchpoints(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return f.champions, nil
}

func (f *fakeActivity) LatestNPS(_ context.Context, _ uuid.UUID) (*int, error) {
	return f.nps, nil
}

func (f *fakeActivity) AverageCSAT(_ context.Context, _ uuid.UUID, _ time.Time) (*float64, error) {
	return f.csat, nil
}

type fakeHealthStore struct {
	latest *models.HealthScore
	saves  int
	events []*models.HealthScoreEvent
}

func (f *fakeHealthStore) GetLatestHealth(_ context.Context, _ uuid.UUID) (*models.HealthScore, error) {
	return f.latest, nil
}

func (f *fakeHealthStore) SaveHealth(_ context.Context, score *models.HealthScore) error {
	f.latest = score
	f.saves++
	return nil
}

func (f *fakeHealthStore) AppendHealthEvent(_ context.Context, event *models.HealthScoreEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestCalculator(account *models.Account, activity *fakeActivity) (*Calculator, *fakeHealthStore, *events.Capture, *clock.Fake) {
	store := &fakeHealthStore{}
	capture := events.NewCapture()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	accounts := &fakeAccounts{accounts: map[uuid.UUID]*models.Account{account.ID: account}}
	calc := NewCalculator(accounts, activity, store, capture, DefaultWeights(), clk, zerolog.Nop())
	return calc, store, capture, clk
}

func testAccount(accountType models.AccountType) *models.Account {
	return &models.Account{
		ID:          uuid.New(),
		Name:        "Summit HVAC",
		AccountType: accountType,
		IsActive:    true,
		CreatedAt:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalculateHealthyPremiumAccount(t *testing.T) {
	account := testAccount(models.AccountTypeEnterprise)
	activity := &fakeActivity{counts: map[string]int{
		"product_login": 32,
		"invoice_paid":  6,
	}}
	calc, _, _, _ := newTestCalculator(account, activity)

	result, err := calc.Calculate(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if result.Adoption.Score != 100 {
		t.Errorf("adoption = %d, want 100", result.Adoption.Score)
	}
	if result.Engagement.Score != 30 {
		t.Errorf("engagement = %d, want 30", result.Engagement.Score)
	}
	if result.Relationship.Score != 50 {
		t.Errorf("relationship = %d, want 50", result.Relationship.Score)
	}
	if result.Financial.Score != 100 {
		t.Errorf("financial = %d, want 100", result.Financial.Score)
	}
	if result.Support.Score != 85 {
		t.Errorf("support = %d, want 85", result.Support.Score)
	}
	if result.OverallScore != 73 {
		t.Errorf("overall = %d, want 73", result.OverallScore)
	}
	if result.Status != models.HealthStatusHealthy {
		t.Errorf("status = %s, want healthy", result.Status)
	}
	if !closeTo(result.ChurnProbability, 0.20) {
		t.Errorf("churn = %v, want 0.20", result.ChurnProbability)
	}
	if !closeTo(result.ExpansionProbability, 0.50) {
		t.Errorf("expansion = %v, want 0.50", result.ExpansionProbability)
	}
}

func TestCalculateUnknownAccount(t *testing.T) {
	account := testAccount(models.AccountTypeStandard)
	calc, _, _, _ := newTestCalculator(account, &fakeActivity{counts: map[string]int{}})

	_, err := calc.Calculate(context.Background(), uuid.New())
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdoptionBands(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 20},
		{1, 24},
		{5, 40},
		{6, 40},
		{10, 48},
		{15, 58},
		{16, 60},
		{23, 70},
		{29, 78},
		{30, 80},
		{31, 90},
		{32, 100},
		{50, 100},
	}

	for _, tt := range tests {
		account := testAccount(models.AccountTypeStandard)
		activity := &fakeActivity{counts: map[string]int{"product_login": tt.count}}
		calc, _, _, _ := newTestCalculator(account, activity)

		result, err := calc.Calculate(context.Background(), account.ID)
		if err != nil {
			t.Fatalf("Calculate(count=%d): %v", tt.count, err)
		}
		if result.Adoption.Score != tt.want {
			t.Errorf("adoption(count=%d) = %d, want %d", tt.count, result.Adoption.Score, tt.want)
		}
	}
}

func TestEngagementPositiveRatio(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		positives int
		want      int
	}{
		{"no interactions", 0, 0, 30},
		{"all negative", 4, 0, 49},   // base 70, scaled by 0.7
		{"all positive", 4, 4, 70},   // base 70, scaled by 1.0
		{"half positive", 4, 2, 59},  // base 70, scaled by 0.85
		{"capped base", 10, 10, 100}, // base capped at 100
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testAccount(models.AccountTypeStandard)
			activity := &fakeActivity{
				counts:    map[string]int{"email_replied": tt.count},
				positives: tt.positives,
			}
			calc, _, _, _ := newTestCalculator(account, activity)

			result, err := calc.Calculate(context.Background(), account.ID)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if result.Engagement.Score != tt.want {
				t.Errorf("engagement = %d, want %d", result.Engagement.Score, tt.want)
			}
		})
	}
}

func TestRelationshipScore(t *testing.T) {
	nps9 := 9
	nps7 := 7
	nps3 := 3

	tests := []struct {
		name       string
		executives int
		champions  int
		nps        *int
		want       int
	}{
		{"baseline", 0, 0, nil, 50},
		{"executive touches capped", 10, 0, nil, 70},
		{"champion touches capped", 0, 10, nil, 65},
		{"promoter nps", 0, 0, &nps9, 65},
		{"passive nps", 0, 0, &nps7, 55},
		{"detractor nps", 0, 0, &nps3, 40},
		{"all signals", 4, 5, &nps9, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testAccount(models.AccountTypeStandard)
			activity := &fakeActivity{
				counts:     map[string]int{},
				executives: tt.executives,
				champions:  tt.champions,
				nps:        tt.nps,
			}
			calc, _, _, _ := newTestCalculator(account, activity)

			result, err := calc.Calculate(context.Background(), account.ID)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if result.Relationship.Score != tt.want {
				t.Errorf("relationship = %d, want %d", result.Relationship.Score, tt.want)
			}
		})
	}
}

func TestFinancialScore(t *testing.T) {
	tests := []struct {
		name        string
		accountType models.AccountType
		issues      int
		invoices    int
		want        int
	}{
		{"standard baseline", models.AccountTypeStandard, 0, 0, 60},
		{"premium baseline", models.AccountTypeVIP, 0, 0, 70},
		{"payment issues", models.AccountTypeStandard, 2, 0, 30},
		{"invoice bonus capped", models.AccountTypeStandard, 0, 10, 90},
		{"premium with invoices", models.AccountTypeEnterprise, 0, 6, 100},
		{"floor at zero", models.AccountTypeStandard, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testAccount(tt.accountType)
			activity := &fakeActivity{counts: map[string]int{
				models.TouchpointPaymentIssue: tt.issues,
				models.TouchpointInvoicePaid:  tt.invoices,
			}}
			calc, _, _, _ := newTestCalculator(account, activity)

			result, err := calc.Calculate(context.Background(), account.ID)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if result.Financial.Score != tt.want {
				t.Errorf("financial = %d, want %d", result.Financial.Score, tt.want)
			}
		})
	}
}

func TestSupportScore(t *testing.T) {
	csatHigh := 4.7
	csatMid := 4.2
	csatLow := 2.5

	tests := []struct {
		name        string
		tickets     int
		escalations int
		csat        *float64
		want        int
	}{
		{"no tickets", 0, 0, nil, 85},
		{"light load", 2, 0, nil, 70},
		{"moderate load", 5, 0, nil, 55},
		{"heavy load", 8, 0, nil, 40},
		{"heavy load floored", 20, 0, nil, 30},
		{"escalations", 2, 2, nil, 50},
		{"great csat", 0, 0, &csatHigh, 95},
		{"good csat", 0, 0, &csatMid, 90},
		{"poor csat", 0, 0, &csatLow, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testAccount(models.AccountTypeStandard)
			activity := &fakeActivity{
				counts: map[string]int{
					models.TouchpointSupportTicket:     tt.tickets,
					models.TouchpointSupportEscalation: tt.escalations,
				},
				csat: tt.csat,
			}
			calc, _, _, _ := newTestCalculator(account, activity)

			result, err := calc.Calculate(context.Background(), account.ID)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if result.Support.Score != tt.want {
				t.Errorf("support = %d, want %d", result.Support.Score, tt.want)
			}
		})
	}
}

func TestProbabilityBounds(t *testing.T) {
	tests := []struct {
		name                        string
		overall, engagement, support int
		adoption, financial          int
		wantChurn, wantExpansion     float64
	}{
		{"strong account", 90, 90, 90, 90, 90, 0.05, 0.65},
		{"weak account", 20, 10, 20, 10, 10, 0.85, 0.05},
		{"mid account", 55, 55, 55, 55, 55, 0.35, 0.10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			churn := churnProbability(tt.overall, tt.engagement, tt.support)
			if !closeTo(churn, tt.wantChurn) {
				t.Errorf("churn = %v, want %v", churn, tt.wantChurn)
			}
			expansion := expansionProbability(tt.overall, tt.adoption, tt.financial)
			if !closeTo(expansion, tt.wantExpansion) {
				t.Errorf("expansion = %v, want %v", expansion, tt.wantExpansion)
			}
		})
	}
}

func TestCalculateAndSaveIdempotent(t *testing.T) {
	account := testAccount(models.AccountTypeEnterprise)
	activity := &fakeActivity{counts: map[string]int{
		"product_login": 32,
		"invoice_paid":  6,
	}}
	calc, store, capture, _ := newTestCalculator(account, activity)
	ctx := context.Background()

	first, err := calc.CalculateAndSave(ctx, account.ID)
	if err != nil {
		t.Fatalf("first CalculateAndSave: %v", err)
	}
	if first.OverallScore != 73 {
		t.Fatalf("first score = %d, want 73", first.OverallScore)
	}
	if len(store.events) != 0 {
		t.Fatalf("events after first save = %d, want 0", len(store.events))
	}

	second, err := calc.CalculateAndSave(ctx, account.ID)
	if err != nil {
		t.Fatalf("second CalculateAndSave: %v", err)
	}
	if second.OverallScore != first.OverallScore {
		t.Errorf("second score = %d, want %d", second.OverallScore, first.OverallScore)
	}
	if len(store.events) != 0 {
		t.Errorf("events after unchanged recalc = %d, want 0", len(store.events))
	}
	if len(capture.Events()) != 0 {
		t.Errorf("published events = %d, want 0", len(capture.Events()))
	}
	if store.saves != 2 {
		t.Errorf("saves = %d, want 2", store.saves)
	}
}

func TestCalculateAndSaveScoreChange(t *testing.T) {
	account := testAccount(models.AccountTypeEnterprise)
	activity := &fakeActivity{counts: map[string]int{
		"product_login": 32,
		"invoice_paid":  6,
	}}
	calc, store, capture, clk := newTestCalculator(account, activity)
	ctx := context.Background()

	if _, err := calc.CalculateAndSave(ctx, account.ID); err != nil {
		t.Fatalf("first CalculateAndSave: %v", err)
	}

	// Usage collapses and support load spikes.
	activity.counts["product_login"] = 0
	activity.counts[models.TouchpointSupportTicket] = 8
	clk.Advance(24 * time.Hour)

	score, err := calc.CalculateAndSave(ctx, account.ID)
	if err != nil {
		t.Fatalf("second CalculateAndSave: %v", err)
	}

	if score.OverallScore >= 73 {
		t.Fatalf("score = %d, want below 73", score.OverallScore)
	}
	if score.Trend != models.TrendDeclining {
		t.Errorf("trend = %s, want declining", score.Trend)
	}
	if score.PreviousScore == nil || *score.PreviousScore != 73 {
		t.Errorf("previous score = %v, want 73", score.PreviousScore)
	}
	if score.TrendPercentage >= 0 {
		t.Errorf("trend percentage = %v, want negative", score.TrendPercentage)
	}

	if len(store.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(store.events))
	}
	event := store.events[0]
	if event.OldScore != 73 || event.NewScore != score.OverallScore {
		t.Errorf("event scores = %d -> %d, want 73 -> %d", event.OldScore, event.NewScore, score.OverallScore)
	}
	if event.ChangeAmount != score.OverallScore-73 {
		t.Errorf("change amount = %d, want %d", event.ChangeAmount, score.OverallScore-73)
	}

	published := capture.ByTopic(events.TopicHealthEvents)
	if len(published) != 1 {
		t.Fatalf("published health events = %d, want 1", len(published))
	}
}

func TestOverallScoreIsWeightedFloor(t *testing.T) {
	account := testAccount(models.AccountTypeStandard)
	activity := &fakeActivity{
		counts:    map[string]int{"product_login": 7, "email_replied": 3},
		positives: 2,
	}
	calc, _, _, _ := newTestCalculator(account, activity)

	result, err := calc.Calculate(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	sum := result.Adoption.Weighted + result.Engagement.Weighted +
		result.Relationship.Weighted + result.Financial.Weighted + result.Support.Weighted
	if want := int(sum); result.OverallScore != want {
		t.Errorf("overall = %d, want floor(%v) = %d", result.OverallScore, sum, want)
	}
	if result.OverallScore < 0 || result.OverallScore > 100 {
		t.Errorf("overall = %d, want within [0, 100]", result.OverallScore)
	}
}
