package harness

import (
	"fmt"

	"github.com/danielpatrickdp/ablation-harness/internal/blind"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region run-mode
// RunMode is either Unblinded or Blinded. Only a Blinded run holds a map,
// so reveal on an unblinded run cannot reach one.
type RunMode interface {
	Kind() prereg.ModeKind
	Reveal(values map[string]float64, missing map[string]string) (scorer.Metrics, error)
	isRunMode()
}

// Unblinded runs score and gate under real condition names.
type Unblinded struct{}

func (Unblinded) Kind() prereg.ModeKind { return prereg.ModeUnblind }

// Reveal always fails on an unblinded run.
func (Unblinded) Reveal(map[string]float64, map[string]string) (scorer.Metrics, error) {
	return scorer.Metrics{}, fmt.Errorf("reveal: %w: run is not blinded", errs.ErrRevealNotApplicable)
}

func (Unblinded) isRunMode() {}

// Blinded runs carry the blind map created before scoring.
type Blinded struct {
	Map *blind.Map
}

func (Blinded) Kind() prereg.ModeKind { return prereg.ModeBlind }

// Reveal translates blind-labelled metrics back to real conditions. It
// succeeds once per map.
func (b Blinded) Reveal(values map[string]float64, missing map[string]string) (scorer.Metrics, error) {
	return b.Map.RevealMetrics(values, missing)
}

func (Blinded) isRunMode() {}

// ModeFor builds the run mode p asks for.
func ModeFor(p prereg.Preregistration) (RunMode, error) {
	if p.Mode() != prereg.ModeBlind {
		return Unblinded{}, nil
	}
	m, _, err := blind.Blind(p.Conditions(), p.Seed())
	if err != nil {
		return nil, fmt.Errorf("build blind map: %w", err)
	}
	return Blinded{Map: m}, nil
}

// #endregion run-mode
