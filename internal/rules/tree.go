// Package rules implements the boolean rule evaluator used for segment
// membership and journey condition/exit/goal checks.
//
// A rule tree nests AND/OR groups of field/operator/value rules:
//
//	{
//	    "logic": "and",
//	    "rules": [
//	        {"field": "health_score", "operator": "lt", "value": 50},
//	        {
//	            "logic": "or",
//	            "rules": [
//	                {"field": "account_type", "operator": "eq", "value": "enterprise"},
//	                {"field": "is_active", "operator": "eq", "value": true}
//	            ]
//	        }
//	    ]
//	}
//
// Unknown fields and operators never raise; the offending rule is dropped
// from the tree so that partially misconfigured segments keep evaluating.
package rules

import (
	"encoding/json"
	"fmt"
)

// Logic joins the members of a rule tree node
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Rule is a single field/operator/value leaf
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Value2   any    `json:"value2,omitempty"`
}

// Member is one child of a rule tree node: either a leaf Rule or a nested
// RuleTree. Exactly one of the two is set.
type Member struct {
	Rule *Rule
	Tree *RuleTree
}

// RuleTree is a recursively nestable AND/OR group. An empty Logic means AND.
type RuleTree struct {
	Logic Logic    `json:"logic,omitempty"`
	Rules []Member `json:"rules"`
}

// UnmarshalJSON decides between leaf and nested group by probing for a
// "rules" key, matching the wire format segments and journeys store.
func (m *Member) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("rule member: %w", err)
	}
	if _, nested := probe["rules"]; nested {
		var tree RuleTree
		if err := json.Unmarshal(data, &tree); err != nil {
			return err
		}
		m.Tree = &tree
		return nil
	}
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return err
	}
	m.Rule = &rule
	return nil
}

// MarshalJSON writes whichever side of the sum is set
func (m Member) MarshalJSON() ([]byte, error) {
	if m.Tree != nil {
		return json.Marshal(m.Tree)
	}
	return json.Marshal(m.Rule)
}

// Parse decodes a serialized rule tree. A nil or empty payload yields a nil
// tree, which never matches.
func Parse(data []byte) (*RuleTree, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tree RuleTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse rule tree: %w", err)
	}
	if len(tree.Rules) == 0 {
		return nil, nil
	}
	return &tree, nil
}
