package scorer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// #region synthetic-config
// SyntheticConfig describes the built-in demo scorer: a seeded binary label
// set and, per condition, the rate at which simulated predictions are wrong.
type SyntheticConfig struct {
	Samples    int
	ErrorRates map[Condition]float64
}

// DefaultSyntheticConfig returns the demo setup: the ablation makes fewer
// errors than the baseline and the negative control matches the baseline.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Samples: 400,
		ErrorRates: map[Condition]float64{
			Baseline:        0.27,
			Ablation:        0.20,
			NegativeControl: 0.27,
		},
	}
}

// #endregion synthetic-config

// #region synthetic
// Synthetic scores a condition as prediction accuracy against synthetic labels.
// Labels depend on the seed only; predictions depend on the seed and the
// condition, so results do not depend on the order conditions are scored in.
type Synthetic struct {
	config SyntheticConfig
}

// NewSynthetic creates a synthetic scorer.
func NewSynthetic(config SyntheticConfig) *Synthetic {
	return &Synthetic{config: config}
}

// Score returns the accuracy of the simulated predictions for cond.
func (s *Synthetic) Score(ctx context.Context, cond Condition, seed int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rate, ok := s.config.ErrorRates[cond]
	if !ok {
		return 0, fmt.Errorf("no error rate configured for %s", cond)
	}
	n := s.config.Samples
	if n <= 0 {
		n = 1
	}

	labels := rand.New(rand.NewPCG(uint64(seed), 0))
	preds := rand.New(rand.NewPCG(uint64(seed), conditionStream(cond)))

	correct := 0
	for i := 0; i < n; i++ {
		y := 0
		if labels.Float64() < 0.5 {
			y = 1
		}
		p := y
		if preds.Float64() < rate {
			p = 1 - y
		}
		if p == y {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// conditionStream picks an independent PCG stream per condition.
func conditionStream(c Condition) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c))
	return h.Sum64() | 1
}

// #endregion synthetic
