package health

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

// Activity windows used by the component scores.
const (
	adoptionWindow     = 30 * 24 * time.Hour
	engagementWindow   = 30 * 24 * time.Hour
	relationshipWindow = 90 * 24 * time.Hour
	financialWindow    = 90 * 24 * time.Hour
	supportWindow      = 30 * 24 * time.Hour
	csatWindow         = 90 * 24 * time.Hour
)

func (c *Calculator) component(score int, weight int, details map[string]any) ComponentScore {
	return ComponentScore{
		Score:    score,
		Weight:   weight,
		Weighted: float64(score) * float64(weight) / 100,
		Details:  details,
	}
}

// adoptionScore rates product usage volume over the last 30 days.
func (c *Calculator) adoptionScore(ctx context.Context, accountID uuid.UUID, now time.Time) (ComponentScore, error) {
	count, err := c.activity.CountTouchpoints(ctx, accountID, models.AdoptionTouchpointTypes, now.Add(-adoptionWindow))
	if err != nil {
		return ComponentScore{}, err
	}

	// Bands: 0-5 poor (20-40), 6-15 moderate (40-60), 16-30 good (60-80),
	// 30+ excellent, interpolated linearly inside each band.
	var score int
	switch {
	case count >= 30:
		score = min(100, 80+(count-30)*10)
	case count >= 16:
		score = 60 + (count-16)*20/14
	case count >= 6:
		score = 40 + (count-6)*2
	default:
		score = 20 + count*4
	}

	return c.component(score, c.weights.Adoption, map[string]any{
		"activity_count": count,
		"window_days":    30,
	}), nil
}

// engagementScore rates two-way communication over the last 30 days,
// discounted by the share of interactions that went well.
func (c *Calculator) engagementScore(ctx context.Context, accountID uuid.UUID, now time.Time) (ComponentScore, error) {
	since := now.Add(-engagementWindow)
	count, err := c.activity.CountTouchpoints(ctx, accountID, models.EngagementTouchpointTypes, since)
	if err != nil {
		return ComponentScore{}, err
	}
	positive, err := c.activity.CountPositiveTouchpoints(ctx, accountID, since)
	if err != nil {
		return ComponentScore{}, err
	}

	if count == 0 {
		return c.component(30, c.weights.Engagement, map[string]any{
			"interaction_count": 0,
			"window_days":       30,
		}), nil
	}

	base := min(100, 30+count*10)
	ratio := float64(positive) / float64(count)
	if ratio > 1 {
		ratio = 1
	}
	score := int(float64(base) * (0.7 + ratio*0.3))

	return c.component(score, c.weights.Engagement, map[string]any{
		"interaction_count": count,
		"positive_count":    positive,
		"positive_ratio":    ratio,
		"window_days":       30,
	}), nil
}

// relationshipScore rates breadth and seniority of contacts plus NPS.
func (c *Calculator) relationshipScore(ctx context.Context, accountID uuid.UUID, now time.Time) (ComponentScore, error) {
	since := now.Add(-relationshipWindow)
	executives, err := c.activity.CountExecutiveTouchpoints(ctx, accountID, since)
	if err != nil {
		return ComponentScore{}, err
	}
	champions, err := c.activity.CountChampionTouchpoints(ctx, accountID, since)
	if err != nil {
		return ComponentScore{}, err
	}
	nps, err := c.activity.LatestNPS(ctx, accountID)
	if err != nil {
		return ComponentScore{}, err
	}

	score := 50
	score += min(20, executives*5)
	score += min(15, champions*3)

	details := map[string]any{
		"executive_touches": executives,
		"champion_touches":  champions,
	}
	if nps != nil {
		details["nps"] = *nps
		switch {
		case *nps >= 9:
			score += 15
		case *nps >= 7:
			score += 5
		default:
			score -= 10
		}
	}

	return c.component(clampScore(score), c.weights.Relationship, details), nil
}

// financialScore rates payment behavior; premium tiers start higher.
func (c *Calculator) financialScore(ctx context.Context, account *models.Account, now time.Time) (ComponentScore, error) {
	since := now.Add(-financialWindow)
	issues, err := c.activity.CountTouchpoints(ctx, account.ID, []string{models.TouchpointPaymentIssue}, since)
	if err != nil {
		return ComponentScore{}, err
	}
	invoices, err := c.activity.CountTouchpoints(ctx, account.ID, []string{models.TouchpointInvoicePaid}, since)
	if err != nil {
		return ComponentScore{}, err
	}

	score := 60
	if account.AccountType.IsPremiumTier() {
		score += 10
	}
	score -= issues * 15
	score += min(30, invoices*5)

	return c.component(clampScore(score), c.weights.Financial, map[string]any{
		"payment_issues": issues,
		"invoices_paid":  invoices,
		"premium_tier":   account.AccountType.IsPremiumTier(),
	}), nil
}

// supportScore rates ticket load and satisfaction. No tickets is a good
// sign but not a perfect one, it may also mean the product is unused.
func (c *Calculator) supportScore(ctx context.Context, accountID uuid.UUID, now time.Time) (ComponentScore, error) {
	tickets, err := c.activity.CountTouchpoints(ctx, accountID, []string{models.TouchpointSupportTicket}, now.Add(-supportWindow))
	if err != nil {
		return ComponentScore{}, err
	}
	escalations, err := c.activity.CountTouchpoints(ctx, accountID, []string{models.TouchpointSupportEscalation}, now.Add(-supportWindow))
	if err != nil {
		return ComponentScore{}, err
	}
	csat, err := c.activity.AverageCSAT(ctx, accountID, now.Add(-csatWindow))
	if err != nil {
		return ComponentScore{}, err
	}

	var score int
	switch {
	case tickets == 0:
		score = 85
	case tickets <= 2:
		score = 70
	case tickets <= 5:
		score = 55
	default:
		score = max(30, 55-(tickets-5)*5)
	}
	score -= escalations * 10

	details := map[string]any{
		"ticket_count":     tickets,
		"escalation_count": escalations,
	}
	if csat != nil {
		details["avg_csat"] = *csat
		switch {
		case *csat >= 4.5:
			score += 10
		case *csat >= 4.0:
			score += 5
		case *csat < 3.0:
			score -= 15
		}
	}

	return c.component(clampScore(score), c.weights.Support, details), nil
}

// churnProbability estimates churn risk from the overall score, bumped by
// weak engagement or support signals.
func churnProbability(overall, engagement, support int) float64 {
	var p float64
	switch {
	case overall >= 80:
		p = 0.05
	case overall >= 60:
		p = 0.15
	case overall >= 40:
		p = 0.35
	default:
		p = 0.60
	}
	switch {
	case engagement < 30:
		p += 0.15
	case engagement < 50:
		p += 0.05
	}
	if support < 40 {
		p += 0.10
	}
	return clampProb(p, 0.01, 0.95)
}

// expansionProbability estimates upsell likelihood. Unhealthy accounts are
// not expansion candidates regardless of component strength.
func expansionProbability(overall, adoption, financial int) float64 {
	if overall < 50 {
		return 0.05
	}
	var p float64
	switch {
	case overall >= 80:
		p = 0.40
	case overall >= 70:
		p = 0.25
	default:
		p = 0.10
	}
	switch {
	case adoption >= 80:
		p += 0.15
	case adoption >= 60:
		p += 0.05
	}
	if financial >= 80 {
		p += 0.10
	}
	return clampProb(p, 0.01, 0.85)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clampProb(p, lo, hi float64) float64 {
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
