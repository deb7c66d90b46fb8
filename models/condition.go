package models

// Condition is the serialized form of one weighted rule criterion. The rules
// package compiles it into a typed predicate.
type Condition struct {
	ID       string   `json:"id"`
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Weight   float64  `json:"weight"`
}
