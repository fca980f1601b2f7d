package models

import (
	"time"

	"github.com/google/uuid"
)

// HealthStatus classifies an overall score into a lifecycle band
type HealthStatus string

const (
	HealthStatusHealthy HealthStatus = "healthy"
	HealthStatusAtRisk  HealthStatus = "at_risk"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusChurned HealthStatus = "churned"
)

// Status thresholds for the overall score
const (
	HealthyThreshold  = 70
	AtRiskThreshold   = 40
	CriticalThreshold = 20
)

// GetHealthStatus returns the status band for an overall score
func GetHealthStatus(score int) HealthStatus {
	switch {
	case score >= HealthyThreshold:
		return HealthStatusHealthy
	case score >= AtRiskThreshold:
		return HealthStatusAtRisk
	case score >= CriticalThreshold:
		return HealthStatusCritical
	default:
		return HealthStatusChurned
	}
}

// ScoreTrend describes score movement against the previous calculation
type ScoreTrend string

const (
	TrendImproving ScoreTrend = "improving"
	TrendStable    ScoreTrend = "stable"
	TrendDeclining ScoreTrend = "declining"
)

// HealthScore is the one-per-account composite score record. It is mutated in
// place on every recalculation; the previous value is cached before overwrite.
type HealthScore struct {
	ID        uuid.UUID `json:"id" db:"id"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`

	OverallScore int          `json:"overall_score" db:"overall_score"`
	Status       HealthStatus `json:"status" db:"status"`

	AdoptionScore     int `json:"adoption_score" db:"adoption_score"`
	EngagementScore   int `json:"engagement_score" db:"engagement_score"`
	RelationshipScore int `json:"relationship_score" db:"relationship_score"`
	FinancialScore    int `json:"financial_score" db:"financial_score"`
	SupportScore      int `json:"support_score" db:"support_score"`

	AdoptionWeight     int `json:"adoption_weight" db:"adoption_weight"`
	EngagementWeight   int `json:"engagement_weight" db:"engagement_weight"`
	RelationshipWeight int `json:"relationship_weight" db:"relationship_weight"`
	FinancialWeight    int `json:"financial_weight" db:"financial_weight"`
	SupportWeight      int `json:"support_weight" db:"support_weight"`

	ChurnProbability     float64 `json:"churn_probability" db:"churn_probability"`
	ExpansionProbability float64 `json:"expansion_probability" db:"expansion_probability"`

	Trend           ScoreTrend `json:"trend" db:"trend"`
	TrendPercentage float64    `json:"trend_percentage" db:"trend_percentage"`

	AdoptionDetails     map[string]any `json:"adoption_details" db:"-"`
	EngagementDetails   map[string]any `json:"engagement_details" db:"-"`
	RelationshipDetails map[string]any `json:"relationship_details" db:"-"`
	FinancialDetails    map[string]any `json:"financial_details" db:"-"`
	SupportDetails      map[string]any `json:"support_details" db:"-"`

	PreviousScore  *int       `json:"previous_score,omitempty" db:"previous_score"`
	PreviousScoreAt *time.Time `json:"previous_score_at,omitempty" db:"previous_score_at"`
	CalculatedAt   time.Time  `json:"calculated_at" db:"calculated_at"`
}

// HealthScoreEvent is an immutable audit record appended whenever the
// overall score changes. Events are never mutated or deleted.
type HealthScoreEvent struct {
	ID            uuid.UUID `json:"id" db:"id"`
	HealthScoreID uuid.UUID `json:"health_score_id" db:"health_score_id"`
	AccountID     uuid.UUID `json:"account_id" db:"account_id"`
	EventType     string    `json:"event_type" db:"event_type"`
	OldScore      int       `json:"old_score" db:"old_score"`
	NewScore      int       `json:"new_score" db:"new_score"`
	ChangeAmount  int       `json:"change_amount" db:"change_amount"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
