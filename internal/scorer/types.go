package scorer

import (
	"context"
	"fmt"
)

// #region condition
// Condition names one arm of an ablation run.
type Condition string

const (
	Baseline        Condition = "baseline"
	Ablation        Condition = "ablation"
	NegativeControl Condition = "negative_control"
)

// DefaultConditions is the condition set of every standard run, in canonical order.
func DefaultConditions() []Condition {
	return []Condition{Baseline, Ablation, NegativeControl}
}

// ParseCondition validates a condition name.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(s); c {
	case Baseline, Ablation, NegativeControl:
		return c, nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

// #endregion condition

// #region scorer
// Scorer produces one scalar metric for a condition. Implementations must be
// deterministic for a given seed.
type Scorer interface {
	Score(ctx context.Context, cond Condition, seed int64) (float64, error)
}

// Func adapts a plain function to Scorer.
type Func func(ctx context.Context, cond Condition, seed int64) (float64, error)

// Score calls f.
func (f Func) Score(ctx context.Context, cond Condition, seed int64) (float64, error) {
	return f(ctx, cond, seed)
}

// #endregion scorer

// #region metrics
// Metrics holds one score per condition. Conditions the scorer could not
// produce are listed in Missing with the reason.
type Metrics struct {
	Values  map[Condition]float64 `json:"values"`
	Missing map[Condition]string  `json:"missing,omitempty"`
}

// NewMetrics returns an empty Metrics.
func NewMetrics() Metrics {
	return Metrics{
		Values:  make(map[Condition]float64),
		Missing: make(map[Condition]string),
	}
}

// Get returns the score for c and whether one exists.
func (m Metrics) Get(c Condition) (float64, bool) {
	v, ok := m.Values[c]
	return v, ok
}

// Set records a score for c and clears any missing marker.
func (m Metrics) Set(c Condition, v float64) {
	m.Values[c] = v
	delete(m.Missing, c)
}

// MarkMissing records that c has no score.
func (m Metrics) MarkMissing(c Condition, reason string) {
	delete(m.Values, c)
	m.Missing[c] = reason
}

// #endregion metrics
