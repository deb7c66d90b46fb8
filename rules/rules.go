package rules

import (
	"fmt"
	"strconv"
	"strings"

	"edumarket/api/models"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// Criterion is a compiled condition: a field reader paired with a predicate.
type Criterion struct {
	ID     string
	Field  Field
	Weight float64
	match  func(value) bool
}

// Compile validates c and binds it to its field and operator.
func Compile(c models.Condition) (Criterion, error) {
	field, ok := LookupField(c.Field)
	if !ok {
		return Criterion{}, fmt.Errorf("unknown field %q", c.Field)
	}
	weight := c.Weight
	if weight <= 0 {
		weight = 1
	}
	id := c.ID
	if id == "" {
		id = c.Field + ":" + c.Operator
	}

	var match func(value) bool
	switch Operator(c.Operator) {
	case OpEquals:
		want := fmt.Sprint(c.Value)
		match = func(v value) bool { return equals(v, want) }
	case OpContains:
		want := strings.ToLower(fmt.Sprint(c.Value))
		match = func(v value) bool { return contains(v, want) }
	case OpGreaterThan:
		want, err := toFloat(c.Value)
		if err != nil {
			return Criterion{}, fmt.Errorf("criterion %s: %w", id, err)
		}
		match = func(v value) bool { n, ok := asNumber(v); return ok && n > want }
	case OpLessThan:
		want, err := toFloat(c.Value)
		if err != nil {
			return Criterion{}, fmt.Errorf("criterion %s: %w", id, err)
		}
		match = func(v value) bool { n, ok := asNumber(v); return ok && n < want }
	case OpBetween:
		lo, hi := c.Min, c.Max
		if lo > hi {
			return Criterion{}, fmt.Errorf("criterion %s: min %v above max %v", id, lo, hi)
		}
		match = func(v value) bool { n, ok := asNumber(v); return ok && n >= lo && n <= hi }
	case OpIn:
		set := lowerSet(c.Values)
		match = func(v value) bool { return anyIn(v, set) }
	case OpNotIn:
		set := lowerSet(c.Values)
		match = func(v value) bool { return !anyIn(v, set) }
	default:
		return Criterion{}, fmt.Errorf("criterion %s: unknown operator %q", id, c.Operator)
	}

	return Criterion{ID: id, Field: field, Weight: weight, match: match}, nil
}

// MustCompile is Compile for static tables; it panics on an invalid condition.
func MustCompile(conds []models.Condition) []Criterion {
	out, err := CompileAll(conds)
	if err != nil {
		panic(err)
	}
	return out
}

func CompileAll(conds []models.Condition) ([]Criterion, error) {
	out := make([]Criterion, 0, len(conds))
	for _, c := range conds {
		cr, err := Compile(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

// Evaluate returns 1 when the criterion holds and 0 otherwise. A fact that is
// not known scores 0 whatever the operator.
func (c Criterion) Evaluate(f Facts) float64 {
	v, ok := c.Field.read(f)
	if !ok {
		return 0
	}
	if c.match(v) {
		return 1
	}
	return 0
}

// Result is the weighted evaluation of a criteria list.
type Result struct {
	Score   float64
	Matched []string
	Total   int
}

// MatchRatio is the fraction of criteria that matched at all.
func (r Result) MatchRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Matched)) / float64(r.Total)
}

// Score is the weighted average of the criteria scores.
func Score(criteria []Criterion, f Facts) Result {
	res := Result{Total: len(criteria)}
	var sum, weights float64
	for _, c := range criteria {
		s := c.Evaluate(f)
		sum += s * c.Weight
		weights += c.Weight
		if s > 0 {
			res.Matched = append(res.Matched, c.ID)
		}
	}
	if weights > 0 {
		res.Score = sum / weights
	}
	return res
}

func equals(v value, want string) bool {
	switch v.kind {
	case kindNumber:
		n, err := strconv.ParseFloat(want, 64)
		return err == nil && n == v.num
	case kindList:
		for _, item := range v.list {
			if strings.EqualFold(item, want) {
				return true
			}
		}
		return false
	default:
		return strings.EqualFold(v.str, want)
	}
}

func contains(v value, want string) bool {
	switch v.kind {
	case kindList:
		for _, item := range v.list {
			if strings.Contains(strings.ToLower(item), want) {
				return true
			}
		}
		return false
	case kindNumber:
		return strings.Contains(strconv.FormatFloat(v.num, 'f', -1, 64), want)
	default:
		return strings.Contains(strings.ToLower(v.str), want)
	}
}

func anyIn(v value, set map[string]bool) bool {
	switch v.kind {
	case kindList:
		for _, item := range v.list {
			if set[strings.ToLower(item)] {
				return true
			}
		}
		return false
	case kindNumber:
		return set[strconv.FormatFloat(v.num, 'f', -1, 64)]
	default:
		return set[strings.ToLower(v.str)]
	}
}

func asNumber(v value) (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.num, true
	case kindString:
		n, err := strconv.ParseFloat(v.str, 64)
		return n, err == nil
	default:
		return float64(len(v.list)), true
	}
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
