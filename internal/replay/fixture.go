package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region fixture-types
// Fixture is a stored regression case: a preregistration, the metrics the
// scorer produced and the decision the gate engine must reach.
type Fixture struct {
	Description string                       `json:"description" yaml:"description"`
	Thresholds  FixtureThresholds            `json:"thresholds" yaml:"thresholds"`
	Seed        int64                        `json:"seed" yaml:"seed"`
	Mode        prereg.ModeKind              `json:"mode" yaml:"mode"`
	Revealed    *bool                        `json:"revealed,omitempty" yaml:"revealed,omitempty"`
	Metrics     map[scorer.Condition]float64 `json:"metrics" yaml:"metrics"`
	Expected    FixtureExpected              `json:"expected" yaml:"expected"`
}

// FixtureThresholds mirrors the preregistered thresholds.
type FixtureThresholds struct {
	DeltaMin    *float64 `json:"delta_min" yaml:"delta_min"`
	ControlMax  *float64 `json:"control_max" yaml:"control_max"`
	BaselineMin *float64 `json:"baseline_min,omitempty" yaml:"baseline_min,omitempty"`
}

// FixtureExpected is the decision a fixture must reproduce. Gates not listed
// are not compared.
type FixtureExpected struct {
	Overall bool            `json:"overall_pass" yaml:"overall_pass"`
	Gates   map[string]bool `json:"gates,omitempty" yaml:"gates,omitempty"`
}

// FixtureReport is the outcome of running one fixture.
type FixtureReport struct {
	Description string        `json:"description"`
	Decision    gate.Decision `json:"decision"`
	Gates       []Comparison  `json:"gates"`
	Match       bool          `json:"match"`
}

// #endregion fixture-types

// #region fixture-loader
// LoadFixture reads a fixture. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Config converts the fixture to a preregistration input.
func (f *Fixture) Config() prereg.Config {
	seed := f.Seed
	return prereg.Config{
		DeltaMin:    f.Thresholds.DeltaMin,
		ControlMax:  f.Thresholds.ControlMax,
		BaselineMin: f.Thresholds.BaselineMin,
		Seed:        &seed,
		Mode:        f.Mode,
		Notes:       f.Description,
	}
}

// #endregion fixture-loader

// #region run-fixture
// RunFixture freezes the fixture's preregistration and evaluates its
// metrics. Conditions absent from Metrics are treated as missing. A blind
// fixture counts as revealed unless Revealed is set to false.
func RunFixture(f *Fixture) (FixtureReport, error) {
	p, err := prereg.Freeze(f.Config())
	if err != nil {
		return FixtureReport{}, fmt.Errorf("fixture %q: %w", f.Description, err)
	}

	m := scorer.NewMetrics()
	for _, c := range p.Conditions() {
		if v, ok := f.Metrics[c]; ok {
			m.Set(c, v)
		} else {
			m.MarkMissing(c, "absent from fixture")
		}
	}

	blinded := p.Mode() == prereg.ModeBlind
	revealed := blinded
	if f.Revealed != nil {
		revealed = *f.Revealed
	}
	d, err := gate.Evaluate(p, m, gate.Options{Blinded: blinded, Revealed: revealed})
	if err != nil {
		return FixtureReport{}, err
	}

	want := make(map[string]Verdict, len(f.Expected.Gates))
	for name, pass := range f.Expected.Gates {
		want[name] = verdictOf(pass)
	}
	var cmp []Comparison
	for _, c := range compare(want, d) {
		if c.Want != Absent {
			cmp = append(cmp, c)
		}
	}
	return FixtureReport{
		Description: f.Description,
		Decision:    d,
		Gates:       cmp,
		Match:       allMatch(cmp) && d.Overall == f.Expected.Overall,
	}, nil
}

// #endregion run-fixture
