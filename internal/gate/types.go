package gate

import "github.com/danielpatrickdp/ablation-harness/internal/scorer"

// #region gate-names
// Gate names as they appear in results.json and the ledger.
const (
	Delta            = "delta"
	NegativeControl  = "negative_control"
	BaselineFloor    = "baseline_floor"
	BlindConsistency = "blind_consistency"
)

// #endregion gate-names

// #region options
// Options carries run facts the preregistration does not hold.
type Options struct {
	Blinded  bool // run used the blinding layer
	Revealed bool // reveal succeeded before evaluation
}

// #endregion options

// #region gate-decision
// GateDecision is the outcome of one gate.
type GateDecision struct {
	Name      string             `json:"name"`
	Value     *float64           `json:"value,omitempty"`
	Threshold *float64           `json:"threshold,omitempty"`
	Operator  string             `json:"operator"`
	Pass      bool               `json:"pass"`
	Missing   []scorer.Condition `json:"missing,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// Decision is the full gate result. Overall is the AND of every gate.
type Decision struct {
	Gates   []GateDecision `json:"gates"`
	Overall bool           `json:"overall_pass"`
}

// Gate returns the named gate and whether it was evaluated.
func (d Decision) Gate(name string) (GateDecision, bool) {
	for _, g := range d.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return GateDecision{}, false
}

// Failed returns the names of the gates that did not pass.
func (d Decision) Failed() []string {
	var out []string
	for _, g := range d.Gates {
		if !g.Pass {
			out = append(out, g.Name)
		}
	}
	return out
}

// #endregion gate-decision
