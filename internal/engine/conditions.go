package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// EvaluateCondition resolves the condition's field as a dot path into the
// payload and applies the operator. A missing field only satisfies the
// negative operators (ne, nin).
func EvaluateCondition(c domain.Condition, payload map[string]any) (bool, error) {
	val, found := lookupField(c.Field, payload)
	switch c.Operator {
	case domain.OpEq:
		return found && valuesEqual(val, c.Value), nil
	case domain.OpNe:
		return !found || !valuesEqual(val, c.Value), nil
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		if !found {
			return false, nil
		}
		cmp, err := compareOrdered(val, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case domain.OpGt:
			return cmp > 0, nil
		case domain.OpGte:
			return cmp >= 0, nil
		case domain.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case domain.OpIn:
		return found && valueInList(val, c.Value), nil
	case domain.OpNin:
		return !found || !valueInList(val, c.Value), nil
	case domain.OpContains:
		if !found {
			return false, nil
		}
		return valueContains(val, c.Value), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", domain.ErrValidation, c.Operator)
	}
}

// EvaluateAll is the conjunction over a condition list. An empty list matches.
func EvaluateAll(conditions []domain.Condition, payload map[string]any) (bool, error) {
	for _, c := range conditions {
		ok, err := EvaluateCondition(c, payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func lookupField(path string, payload map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = payload
	for _, p := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares with numeric normalization so that an int in a template
// definition equals the float64 a JSON payload decodes to.
func valuesEqual(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(a, b any) (int, error) {
	if fa, aok := toFloat(a); aok {
		fb, bok := toFloat(b)
		if !bok {
			return 0, fmt.Errorf("%w: cannot compare number with %T", domain.ErrValidation, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("%w: cannot order %T against %T", domain.ErrValidation, a, b)
}

func valueInList(val, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(val, item) {
			return true
		}
	}
	return false
}

// valueContains handles both string containment and membership in a list field.
func valueContains(val, needle any) bool {
	switch v := val.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
