package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

func mustParse(t *testing.T, raw string) *RuleTree {
	t.Helper()
	tree, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse(%s): %v", raw, err)
	}
	return tree
}

func TestOperators(t *testing.T) {
	fields := Fields{
		"health_score":  67,
		"health_status": "at_risk",
		"name":          "Acme Plumbing",
		"tags":          []string{"priority", "Northeast"},
		"created_at":    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"churn_probability": 0.35,
		"nps":           nil,
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"eq match", Rule{Field: "health_status", Operator: "eq", Value: "at_risk"}, true},
		{"eq mismatch", Rule{Field: "health_status", Operator: "eq", Value: "healthy"}, false},
		{"eq numeric cross-type", Rule{Field: "health_score", Operator: "eq", Value: 67.0}, true},
		{"neq", Rule{Field: "health_status", Operator: "neq", Value: "healthy"}, true},
		{"gt", Rule{Field: "health_score", Operator: "gt", Value: 50}, true},
		{"gt boundary", Rule{Field: "health_score", Operator: "gt", Value: 67}, false},
		{"gte boundary", Rule{Field: "health_score", Operator: "gte", Value: 67}, true},
		{"lt", Rule{Field: "churn_probability", Operator: "lt", Value: 0.5}, true},
		{"lte", Rule{Field: "health_score", Operator: "lte", Value: 67}, true},
		{"contains case-insensitive", Rule{Field: "name", Operator: "contains", Value: "ACME"}, true},
		{"contains list element", Rule{Field: "tags", Operator: "contains", Value: "northeast"}, true},
		{"not_contains", Rule{Field: "name", Operator: "not_contains", Value: "roofing"}, true},
		{"in", Rule{Field: "health_status", Operator: "in", Value: []any{"at_risk", "critical"}}, true},
		{"in scalar singleton", Rule{Field: "health_status", Operator: "in", Value: "at_risk"}, true},
		{"not_in", Rule{Field: "health_status", Operator: "not_in", Value: []any{"healthy"}}, true},
		{"is_null on nil field", Rule{Field: "nps", Operator: "is_null"}, true},
		{"is_not_null on nil field", Rule{Field: "nps", Operator: "is_not_null"}, false},
		{"is_not_null", Rule{Field: "health_score", Operator: "is_not_null"}, true},
		{"between inclusive", Rule{Field: "health_score", Operator: "between", Value: 40, Value2: 67}, true},
		{"between outside", Rule{Field: "health_score", Operator: "between", Value: 70, Value2: 90}, false},
		{"starts_with", Rule{Field: "name", Operator: "starts_with", Value: "acme"}, true},
		{"ends_with", Rule{Field: "name", Operator: "ends_with", Value: "PLUMBING"}, true},
		{"date gt", Rule{Field: "created_at", Operator: "gt", Value: "2024-01-01T00:00:00Z"}, true},
		{"date lt", Rule{Field: "created_at", Operator: "lt", Value: "2024-01-01T00:00:00Z"}, false},
		{"nil field eq never matches", Rule{Field: "nps", Operator: "eq", Value: 9}, false},
		{"nil field neq never matches", Rule{Field: "nps", Operator: "neq", Value: 9}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := &RuleTree{Logic: LogicAnd, Rules: []Member{{Rule: &tt.rule}}}
			if got := Evaluate(tree, fields); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogicCombination(t *testing.T) {
	fields := Fields{"health_score": 67, "health_status": "at_risk"}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			"and all true",
			`{"logic":"and","rules":[
				{"field":"health_score","operator":"gt","value":50},
				{"field":"health_status","operator":"eq","value":"at_risk"}]}`,
			true,
		},
		{
			"and one false",
			`{"logic":"and","rules":[
				{"field":"health_score","operator":"gt","value":50},
				{"field":"health_status","operator":"eq","value":"healthy"}]}`,
			false,
		},
		{
			"or one true",
			`{"logic":"or","rules":[
				{"field":"health_score","operator":"gt","value":90},
				{"field":"health_status","operator":"eq","value":"at_risk"}]}`,
			true,
		},
		{
			"or all false",
			`{"logic":"or","rules":[
				{"field":"health_score","operator":"gt","value":90},
				{"field":"health_status","operator":"eq","value":"healthy"}]}`,
			false,
		},
		{
			"default logic is and",
			`{"rules":[
				{"field":"health_score","operator":"gt","value":50},
				{"field":"health_status","operator":"eq","value":"healthy"}]}`,
			false,
		},
		{
			"nested tree",
			`{"logic":"and","rules":[
				{"field":"health_score","operator":"gt","value":50},
				{"logic":"or","rules":[
					{"field":"health_status","operator":"eq","value":"healthy"},
					{"field":"health_status","operator":"eq","value":"at_risk"}]}]}`,
			true,
		},
		{
			"empty rules is no match",
			`{"logic":"and","rules":[]}`,
			false,
		},
		{
			"empty or is no match",
			`{"logic":"or","rules":[]}`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustParse(t, tt.raw), fields); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMalformedRulesDropSilently(t *testing.T) {
	fields := Fields{"health_score": 67}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			"unknown field dropped from and",
			`{"logic":"and","rules":[
				{"field":"no_such_field","operator":"eq","value":1},
				{"field":"health_score","operator":"gt","value":50}]}`,
			true,
		},
		{
			"unknown operator dropped from and",
			`{"logic":"and","rules":[
				{"field":"health_score","operator":"regex","value":"x"},
				{"field":"health_score","operator":"gt","value":50}]}`,
			true,
		},
		{
			"unknown field dropped from or",
			`{"logic":"or","rules":[
				{"field":"no_such_field","operator":"eq","value":1},
				{"field":"health_score","operator":"gt","value":90}]}`,
			false,
		},
		{
			"fully invalid tree is no match",
			`{"logic":"and","rules":[
				{"field":"no_such_field","operator":"eq","value":1}]}`,
			false,
		},
		{
			"invalid subtree does not poison parent and",
			`{"logic":"and","rules":[
				{"logic":"or","rules":[{"field":"no_such_field","operator":"eq","value":1}]},
				{"field":"health_score","operator":"gt","value":50}]}`,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustParse(t, tt.raw), fields); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("nil and empty input", func(t *testing.T) {
		for _, raw := range [][]byte{nil, {}, []byte("null")} {
			tree, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", raw, err)
			}
			if tree != nil {
				t.Errorf("Parse(%q) = %+v, want nil", raw, tree)
			}
		}
	})

	t.Run("round trip keeps shape", func(t *testing.T) {
		raw := `{"logic":"or","rules":[{"field":"a","operator":"eq","value":1},{"logic":"and","rules":[{"field":"b","operator":"is_null"}]}]}`
		tree := mustParse(t, raw)
		if tree.Logic != LogicOr || len(tree.Rules) != 2 {
			t.Fatalf("tree = %+v", tree)
		}
		if tree.Rules[0].Rule == nil || tree.Rules[0].Rule.Field != "a" {
			t.Errorf("first member = %+v, want leaf rule a", tree.Rules[0])
		}
		if tree.Rules[1].Tree == nil || len(tree.Rules[1].Tree.Rules) != 1 {
			t.Errorf("second member = %+v, want nested tree", tree.Rules[1])
		}

		out, err := json.Marshal(tree)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reparsed := mustParse(t, string(out))
		if reparsed.Rules[1].Tree == nil {
			t.Error("nested tree lost in round trip")
		}
	})

	t.Run("malformed json errors", func(t *testing.T) {
		if _, err := Parse([]byte(`{"logic":`)); err == nil {
			t.Error("Parse accepted truncated json")
		}
	})
}

type setSources struct {
	accounts map[uuid.UUID]*models.Account
	health   map[uuid.UUID]*models.HealthScore
	order    []uuid.UUID
}

func (s *setSources) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, models.NewNotFound("account", id.String())
	}
	return a, nil
}

func (s *setSources) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	return s.order, nil
}

func (s *setSources) GetLatestHealth(_ context.Context, id uuid.UUID) (*models.HealthScore, error) {
	return s.health[id], nil
}

func TestEvaluateSetConsistentWithEvaluateAccount(t *testing.T) {
	sources := &setSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	scores := []int{25, 45, 67, 82, 91}
	for i, score := range scores {
		id := uuid.New()
		sources.accounts[id] = &models.Account{
			ID:          id,
			Name:        "Account",
			AccountType: models.AccountTypeStandard,
			IsActive:    i%2 == 0,
		}
		sources.health[id] = &models.HealthScore{
			AccountID:    id,
			OverallScore: score,
			Status:       models.GetHealthStatus(score),
		}
		sources.order = append(sources.order, id)
	}
	// One account with no health score at all.
	bare := uuid.New()
	sources.accounts[bare] = &models.Account{ID: bare, Name: "Bare", AccountType: models.AccountTypeStandard}
	sources.order = append(sources.order, bare)

	evaluator := NewEvaluator(sources, sources)
	ctx := context.Background()

	trees := []string{
		`{"logic":"and","rules":[{"field":"health_score","operator":"gte","value":60}]}`,
		`{"logic":"or","rules":[
			{"field":"health_status","operator":"eq","value":"critical"},
			{"field":"is_active","operator":"eq","value":true}]}`,
		`{"logic":"and","rules":[{"field":"health_score","operator":"is_null"}]}`,
	}

	for _, raw := range trees {
		tree := mustParse(t, raw)
		matched, err := evaluator.EvaluateSet(ctx, tree)
		if err != nil {
			t.Fatalf("EvaluateSet: %v", err)
		}
		inSet := map[uuid.UUID]bool{}
		for _, id := range matched {
			inSet[id] = true
		}
		for _, id := range sources.order {
			single, err := evaluator.EvaluateAccount(ctx, tree, id)
			if err != nil {
				t.Fatalf("EvaluateAccount: %v", err)
			}
			if single != inSet[id] {
				t.Errorf("tree %s: account %s evaluate=%v set=%v", raw, id, single, inSet[id])
			}
		}
	}
}

func TestEvaluateSetNilTreeMatchesNothing(t *testing.T) {
	sources := &setSources{
		accounts: map[uuid.UUID]*models.Account{},
		health:   map[uuid.UUID]*models.HealthScore{},
	}
	id := uuid.New()
	sources.accounts[id] = &models.Account{ID: id, AccountType: models.AccountTypeStandard}
	sources.order = []uuid.UUID{id}

	evaluator := NewEvaluator(sources, sources)
	matched, err := evaluator.EvaluateSet(context.Background(), nil)
	if err != nil {
		t.Fatalf("EvaluateSet: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("matched = %v, want empty", matched)
	}
}
