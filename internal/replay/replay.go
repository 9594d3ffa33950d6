// Package replay re-evaluates recorded runs and regression fixtures through
// the gate engine and reports where the recorded decision and the replayed
// one disagree.
package replay

import (
	"fmt"
	"path/filepath"

	"github.com/danielpatrickdp/ablation-harness/internal/artifact"
	"github.com/danielpatrickdp/ablation-harness/internal/blind"
	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/harness"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region types
// Verdict is a gate outcome as compared by replay.
type Verdict string

const (
	Pass   Verdict = "pass"
	Fail   Verdict = "fail"
	Absent Verdict = "absent"
)

// Comparison pairs the expected and replayed verdict of one gate.
type Comparison struct {
	Gate     string  `json:"gate"`
	Want     Verdict `json:"want"`
	Got      Verdict `json:"got"`
	Reason   string  `json:"reason,omitempty"`
	Matching bool    `json:"match"`
}

// RunReport is the replay of one output directory.
type RunReport struct {
	Dir         string        `json:"dir"`
	AEQ         identity.ID   `json:"aeq"`
	CID         identity.ID   `json:"cid"`
	RunID       string        `json:"run_id"`
	IdentityErr string        `json:"identity_error,omitempty"`
	Recorded    gate.Decision `json:"recorded"`
	Replayed    gate.Decision `json:"replayed"`
	Gates       []Comparison  `json:"gates"`
	Match       bool          `json:"match"`
}

// #endregion types

// #region replay-run
// ReplayRun loads prereg.json and results.json from dir, recomputes the
// identity and evaluates the gates again on the recorded metrics. When the
// mapping was withheld the blind map is rebuilt from the preregistered seed.
func ReplayRun(dir string) (RunReport, error) {
	p, err := prereg.NewStore(dir).Load()
	if err != nil {
		return RunReport{}, err
	}
	var res harness.Results
	if err := artifact.ReadJSON(filepath.Join(dir, artifact.ResultsFile), &res); err != nil {
		return RunReport{}, fmt.Errorf("replay %s: %w", dir, err)
	}

	r := RunReport{Dir: dir, AEQ: p.AEQ(), CID: p.CID(), RunID: res.RunID, Recorded: res.Decision()}
	if err := p.Verify(); err != nil {
		r.IdentityErr = err.Error()
	} else if res.AEQ != p.AEQ() || res.CID != p.CID() {
		r.IdentityErr = fmt.Sprintf("results.json records %s/%s, prereg.json holds %s/%s", res.AEQ, res.CID, p.AEQ(), p.CID())
	}

	metrics, err := recordedMetrics(p, res)
	if err != nil {
		return RunReport{}, fmt.Errorf("replay %s: %w", dir, err)
	}
	replayed, err := gate.Evaluate(p, metrics, gate.Options{
		Blinded:  res.Mode == prereg.ModeBlind,
		Revealed: res.Revealed,
	})
	if err != nil {
		return RunReport{}, err
	}
	r.Replayed = replayed
	r.Gates = compare(verdicts(res.Decision()), replayed)
	r.Match = r.IdentityErr == "" && allMatch(r.Gates) && replayed.Overall == res.Overall
	return r, nil
}

func recordedMetrics(p prereg.Preregistration, res harness.Results) (scorer.Metrics, error) {
	if res.Metrics != nil || res.Mode != prereg.ModeBlind {
		m := scorer.NewMetrics()
		for c, v := range res.Metrics {
			m.Set(c, v)
		}
		for c, reason := range res.Missing {
			m.MarkMissing(c, reason)
		}
		return m, nil
	}
	bm, _, err := blind.Blind(p.Conditions(), p.Seed())
	if err != nil {
		return scorer.Metrics{}, err
	}
	return bm.RevealMetrics(res.BlindedMetrics, res.BlindedMissing)
}

// #endregion replay-run

// #region compare
func verdicts(d gate.Decision) map[string]Verdict {
	out := make(map[string]Verdict, len(d.Gates))
	for _, g := range d.Gates {
		out[g.Name] = verdictOf(g.Pass)
	}
	return out
}

func verdictOf(pass bool) Verdict {
	if pass {
		return Pass
	}
	return Fail
}

// compare lines up want against got. Gates listed in want but not evaluated
// count as absent; gates evaluated but not in want are reported unmatched.
func compare(want map[string]Verdict, got gate.Decision) []Comparison {
	var out []Comparison
	seen := make(map[string]bool, len(got.Gates))
	for _, g := range got.Gates {
		seen[g.Name] = true
		w, ok := want[g.Name]
		if !ok {
			w = Absent
		}
		v := verdictOf(g.Pass)
		out = append(out, Comparison{Gate: g.Name, Want: w, Got: v, Reason: g.Reason, Matching: w == v})
	}
	for _, name := range []string{gate.Delta, gate.NegativeControl, gate.BaselineFloor, gate.BlindConsistency} {
		if w, ok := want[name]; ok && !seen[name] {
			out = append(out, Comparison{Gate: name, Want: w, Got: Absent})
		}
	}
	return out
}

func allMatch(cs []Comparison) bool {
	for _, c := range cs {
		if !c.Matching {
			return false
		}
	}
	return true
}

// #endregion compare
