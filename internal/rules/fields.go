package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

// AccountSource supplies read access to the tracked account population.
type AccountSource interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
}

// HealthSource supplies the latest health score per account; (nil, nil)
// means no score has been calculated yet.
type HealthSource interface {
	GetLatestHealth(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
}

// FieldNames returns every evaluable field, account fields first. Unknown
// fields cause the referencing rule to be dropped at evaluation time.
func FieldNames() []string {
	return []string{
		// account fields
		"account_type", "is_active", "created_at", "state", "city", "tags",
		"lead_source", "prospect_stage",
		// health score fields
		"health_score", "health_status", "adoption_score", "engagement_score",
		"relationship_score", "financial_score", "support_score",
		"churn_probability", "expansion_probability", "score_trend",
	}
}

// Evaluator resolves fields across the account and health sources and runs
// rule trees against single accounts or the whole population.
type Evaluator struct {
	accounts AccountSource
	health   HealthSource
}

// NewEvaluator creates an evaluator over the given sources
func NewEvaluator(accounts AccountSource, health HealthSource) *Evaluator {
	return &Evaluator{accounts: accounts, health: health}
}

// Fields builds the resolved field map for one account, the implicit
// account/health join. Health fields resolve to nil until a score exists.
func (e *Evaluator) Fields(ctx context.Context, accountID uuid.UUID) (Fields, error) {
	account, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	health, err := e.health.GetLatestHealth(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve health fields for %s: %w", accountID, err)
	}
	return buildFields(account, health), nil
}

// EvaluateAccount answers whether one account matches the tree
func (e *Evaluator) EvaluateAccount(ctx context.Context, tree *RuleTree, accountID uuid.UUID) (bool, error) {
	fields, err := e.Fields(ctx, accountID)
	if err != nil {
		return false, err
	}
	return Evaluate(tree, fields), nil
}

// EvaluateSet returns the ids of every account matching the tree. It is
// consistent with EvaluateAccount by construction: an id is in the result
// iff EvaluateAccount reports a match for it.
func (e *Evaluator) EvaluateSet(ctx context.Context, tree *RuleTree) ([]uuid.UUID, error) {
	if tree == nil || len(tree.Rules) == 0 {
		return nil, nil
	}
	ids, err := e.accounts.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var matches []uuid.UUID
	for _, id := range ids {
		ok, err := e.EvaluateAccount(ctx, tree, id)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

func buildFields(account *models.Account, health *models.HealthScore) Fields {
	fields := Fields{
		"account_type":   string(account.AccountType),
		"is_active":      account.IsActive,
		"created_at":     account.CreatedAt,
		"state":          account.State,
		"city":           account.City,
		"tags":           account.Tags,
		"lead_source":    account.LeadSource,
		"prospect_stage": account.ProspectStage,
	}

	if health == nil {
		for _, name := range []string{
			"health_score", "health_status", "adoption_score", "engagement_score",
			"relationship_score", "financial_score", "support_score",
			"churn_probability", "expansion_probability", "score_trend",
		} {
			fields[name] = nil
		}
		return fields
	}

	fields["health_score"] = health.OverallScore
	fields["health_status"] = string(health.Status)
	fields["adoption_score"] = health.AdoptionScore
	fields["engagement_score"] = health.EngagementScore
	fields["relationship_score"] = health.RelationshipScore
	fields["financial_score"] = health.FinancialScore
	fields["support_score"] = health.SupportScore
	fields["churn_probability"] = health.ChurnProbability
	fields["expansion_probability"] = health.ExpansionProbability
	fields["score_trend"] = string(health.Trend)
	return fields
}
