// Package metafilter evaluates the small metadata filter DSL used by
// the query service (§4.9): a map of field name to either a scalar
// (equality) or an operator map ($eq, $ne, $gt, $gte, $lt, $lte, $in,
// $nin, $contains). Evaluation is pure and side-effect free; there is
// no query planner or index over metadata, matching the brute-force
// scan the original implementation performs post-ANN-search.
package metafilter

import "fmt"

// Filter is a decoded metadata filter: field name to either a bare
// scalar or an operator map, exactly as unmarshaled from JSON.
type Filter map[string]any

// Matches reports whether metadata satisfies every field clause in f.
// An empty or nil filter matches everything. A clause whose field is
// absent from metadata, or whose operator is unrecognized, makes that
// clause fail (not an error) — per spec.md §4.9 and the original
// implementation's filter evaluator.
func Matches(f Filter, metadata map[string]any) bool {
	for field, clause := range f {
		value, ok := metadata[field]
		if !ok {
			return false
		}
		if !matchClause(clause, value) {
			return false
		}
	}
	return true
}

func matchClause(clause, value any) bool {
	ops, isOps := clause.(map[string]any)
	if !isOps {
		return equal(clause, value)
	}

	for op, operand := range ops {
		if !matchOp(op, operand, value) {
			return false
		}
	}
	return true
}

func matchOp(op string, operand, value any) bool {
	switch op {
	case "$eq":
		return equal(operand, value)
	case "$ne":
		return !equal(operand, value)
	case "$gt":
		cmp, ok := compare(value, operand)
		return ok && cmp > 0
	case "$gte":
		cmp, ok := compare(value, operand)
		return ok && cmp >= 0
	case "$lt":
		cmp, ok := compare(value, operand)
		return ok && cmp < 0
	case "$lte":
		cmp, ok := compare(value, operand)
		return ok && cmp <= 0
	case "$in":
		return memberOf(operand, value)
	case "$nin":
		return !memberOf(operand, value)
	case "$contains":
		return contains(value, operand)
	default:
		// Unknown operator: the clause fails rather than erroring,
		// matching the original implementation's permissive evaluator.
		return false
	}
}

func equal(a, b any) bool {
	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare returns -1/0/1 for value relative to operand when both are
// numeric, and ok=false when they aren't comparable as numbers.
func compare(value, operand any) (int, bool) {
	v, vok := asFloat(value)
	o, ook := asFloat(operand)
	if !vok || !ook {
		return 0, false
	}
	switch {
	case v < o:
		return -1, true
	case v > o:
		return 1, true
	default:
		return 0, true
	}
}

func memberOf(operand, value any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if equal(item, value) {
			return true
		}
	}
	return false
}

// contains checks substring membership when value is a string, or
// element membership when value is a list.
func contains(value, operand any) bool {
	switch v := value.(type) {
	case string:
		s, ok := operand.(string)
		if !ok {
			return false
		}
		return containsSubstring(v, s)
	case []any:
		for _, item := range v {
			if equal(item, operand) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func containsSubstring(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
