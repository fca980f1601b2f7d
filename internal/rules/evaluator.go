package rules

import (
	"strings"
	"time"
)

// Fields is a resolved field map for one account, the implicit join of
// account attributes and the latest health score. Registered fields with no
// backing value (an account with no health score yet) are present with a nil
// value so that is_null matches them.
type Fields map[string]any

// Evaluate answers whether one account's resolved field map matches the
// tree. A nil tree or an empty rules list is no match.
func Evaluate(tree *RuleTree, fields Fields) bool {
	matched, valid := evalTree(tree, fields)
	return valid && matched
}

// evalTree reports (matched, valid). A node whose children were all dropped
// is itself dropped (valid=false) rather than forced to a boolean, so a
// misconfigured subtree never poisons the surrounding AND/OR.
func evalTree(tree *RuleTree, fields Fields) (bool, bool) {
	if tree == nil || len(tree.Rules) == 0 {
		return false, false
	}
	logic := tree.Logic
	if logic == "" {
		logic = LogicAnd
	}

	seen := false
	result := logic == LogicAnd
	for _, member := range tree.Rules {
		var matched, valid bool
		switch {
		case member.Tree != nil:
			matched, valid = evalTree(member.Tree, fields)
		case member.Rule != nil:
			matched, valid = evalRule(member.Rule, fields)
		}
		if !valid {
			continue
		}
		seen = true
		if logic == LogicOr {
			result = result || matched
		} else {
			result = result && matched
		}
	}
	if !seen {
		return false, false
	}
	return result, true
}

// evalRule reports (matched, valid); valid=false drops the rule silently on
// unknown field or operator.
func evalRule(rule *Rule, fields Fields) (bool, bool) {
	value, known := fields[rule.Field]
	if !known {
		return false, false
	}

	switch rule.Operator {
	case "is_null":
		return value == nil, true
	case "is_not_null":
		return value != nil, true
	}

	// SQL-style null semantics: a null field matches nothing else, not even
	// neq or not_contains.
	if value == nil {
		switch rule.Operator {
		case "eq", "neq", "gt", "lt", "gte", "lte", "contains", "not_contains",
			"in", "not_in", "between", "starts_with", "ends_with":
			return false, true
		}
		return false, false
	}

	switch rule.Operator {
	case "eq":
		return looseEqual(value, rule.Value), true
	case "neq":
		return !looseEqual(value, rule.Value), true
	case "gt":
		cmp, ok := compare(value, rule.Value)
		return ok && cmp > 0, true
	case "lt":
		cmp, ok := compare(value, rule.Value)
		return ok && cmp < 0, true
	case "gte":
		cmp, ok := compare(value, rule.Value)
		return ok && cmp >= 0, true
	case "lte":
		cmp, ok := compare(value, rule.Value)
		return ok && cmp <= 0, true
	case "contains":
		return containsFold(value, rule.Value), true
	case "not_contains":
		return !containsFold(value, rule.Value), true
	case "in":
		return inList(value, rule.Value), true
	case "not_in":
		return !inList(value, rule.Value), true
	case "between":
		low, okLow := compare(value, rule.Value)
		high, okHigh := compare(value, rule.Value2)
		return okLow && okHigh && low >= 0 && high <= 0, true
	case "starts_with":
		return strings.HasPrefix(foldString(value), foldString(rule.Value)), true
	case "ends_with":
		return strings.HasSuffix(foldString(value), foldString(rule.Value)), true
	default:
		return false, false
	}
}

// looseEqual compares across the numeric types JSON decoding and Go structs
// produce; strings compare exactly, matching SQL equality.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			return at.Equal(bt)
		}
		return false
	}
	if ab, aok := a.(bool); aok {
		bb, bok := b.(bool)
		return bok && ab == bb
	}
	as, aok := toString(a)
	bs, bok := toString(b)
	return aok && bok && as == bs
}

// compare orders two values numerically, by time, or lexically.
func compare(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		if !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := toString(a)
	bs, bok := toString(b)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// containsFold is a case-insensitive substring check. List-valued fields
// (tags) match when any element contains the needle.
func containsFold(value, needle any) bool {
	n := foldString(needle)
	if n == "" {
		return false
	}
	switch v := value.(type) {
	case []string:
		for _, item := range v {
			if strings.Contains(strings.ToLower(item), n) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if strings.Contains(foldString(item), n) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(foldString(value), n)
	}
}

// inList treats a scalar rule value as a singleton list.
func inList(value, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range l {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	default:
		return looseEqual(value, list)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case interface{ String() string }:
		return s.String(), true
	}
	return "", false
}

func foldString(v any) string {
	s, ok := toString(v)
	if !ok {
		return ""
	}
	return strings.ToLower(s)
}
