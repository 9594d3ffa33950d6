// Package gate turns scored metrics into pass/fail decisions against a
// frozen preregistration. Evaluation is pure: comparisons are exact and
// every boundary is inclusive.
package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region evaluate
// Evaluate checks m against the thresholds frozen in p. A missing metric
// fails only the gates that need it; the rest still evaluate. Evaluate
// refuses a preregistration that was never frozen.
func Evaluate(p prereg.Preregistration, m scorer.Metrics, opts Options) (Decision, error) {
	if !p.IsFrozen() {
		return Decision{}, fmt.Errorf("evaluate gates: %w", errs.ErrNotPreregistered)
	}

	gates := []GateDecision{
		deltaGate(m, p.DeltaMin()),
		controlGate(m, p.ControlMax()),
	}
	if floor, ok := p.BaselineMin(); ok {
		gates = append(gates, floorGate(m, floor))
	}
	if opts.Blinded || p.Mode() == prereg.ModeBlind {
		gates = append(gates, consistencyGate(p, opts))
	}

	overall := true
	for _, g := range gates {
		overall = overall && g.Pass
	}
	return Decision{Gates: gates, Overall: overall}, nil
}

// #endregion evaluate

// #region gates
func deltaGate(m scorer.Metrics, deltaMin float64) GateDecision {
	g := GateDecision{Name: Delta, Operator: ">=", Threshold: ptr(deltaMin)}
	base, abl, missing := pair(m, scorer.Baseline, scorer.Ablation)
	if len(missing) > 0 {
		return failMissing(g, missing)
	}
	delta := abl - base
	g.Value = ptr(delta)
	g.Pass = delta >= deltaMin
	if !g.Pass {
		g.Reason = fmt.Sprintf("ablation-baseline %v below %v", delta, deltaMin)
	}
	return g
}

func controlGate(m scorer.Metrics, controlMax float64) GateDecision {
	g := GateDecision{Name: NegativeControl, Operator: "<=", Threshold: ptr(controlMax)}
	base, ctrl, missing := pair(m, scorer.Baseline, scorer.NegativeControl)
	if len(missing) > 0 {
		return failMissing(g, missing)
	}
	dev := math.Abs(ctrl - base)
	g.Value = ptr(dev)
	g.Pass = dev <= controlMax
	if !g.Pass {
		g.Reason = fmt.Sprintf("|control-baseline| %v above %v", dev, controlMax)
	}
	return g
}

func floorGate(m scorer.Metrics, floor float64) GateDecision {
	g := GateDecision{Name: BaselineFloor, Operator: ">=", Threshold: ptr(floor)}
	base, ok := usable(m, scorer.Baseline)
	if !ok {
		return failMissing(g, []scorer.Condition{scorer.Baseline})
	}
	g.Value = ptr(base)
	g.Pass = base >= floor
	if !g.Pass {
		g.Reason = fmt.Sprintf("baseline %v below floor %v", base, floor)
	}
	return g
}

// consistencyGate holds when the identity recomputed from p's content
// matches the recorded one and reveal ran before evaluation.
func consistencyGate(p prereg.Preregistration, opts Options) GateDecision {
	g := GateDecision{Name: BlindConsistency, Operator: "=="}
	aeq, cid, err := p.Recompute()
	switch {
	case err != nil:
		g.Reason = fmt.Sprintf("recompute identity: %v", err)
	case aeq != p.AEQ() || cid != p.CID():
		g.Reason = fmt.Sprintf("recorded %s/%s, recomputed %s/%s", p.AEQ(), p.CID(), aeq, cid)
	case !opts.Revealed:
		g.Reason = "reveal was not invoked before evaluation"
	default:
		g.Pass = true
	}
	return g
}

// #endregion gates

// #region helpers
func usable(m scorer.Metrics, c scorer.Condition) (float64, bool) {
	v, ok := m.Get(c)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func pair(m scorer.Metrics, a, b scorer.Condition) (float64, float64, []scorer.Condition) {
	var missing []scorer.Condition
	va, ok := usable(m, a)
	if !ok {
		missing = append(missing, a)
	}
	vb, ok := usable(m, b)
	if !ok {
		missing = append(missing, b)
	}
	return va, vb, missing
}

func failMissing(g GateDecision, missing []scorer.Condition) GateDecision {
	g.Pass = false
	g.Missing = missing
	g.Reason = fmt.Sprintf("%v: %v", errs.ErrMissingMetric, missing)
	return g
}

func ptr(v float64) *float64 { return &v }

// #endregion helpers
