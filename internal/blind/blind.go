// Package blind relabels conditions with opaque labels before scoring and
// restores the real names afterwards. The mapping is a deterministic
// function of the seed.
package blind

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region map
// Map is a one-to-one mapping from real condition to blind label. It can be
// revealed exactly once.
type Map struct {
	mu          sync.Mutex
	seed        int64
	realToBlind map[scorer.Condition]string
	blindToReal map[string]scorer.Condition
	order       []string
	revealed    bool
}

// Snapshot is the blind_map.json layout.
type Snapshot struct {
	Seed           int64                       `json:"seed"`
	MapRealToBlind map[scorer.Condition]string `json:"map_real_to_blind"`
}

// #endregion map

// #region blind
// Blind shuffles conds with a PCG source seeded by seed and labels them
// C1..Cn in shuffled order. It returns the map and the blind labels in the
// order of conds.
func Blind(conds []scorer.Condition, seed int64) (*Map, []string, error) {
	if len(conds) == 0 {
		return nil, nil, fmt.Errorf("blind: no conditions")
	}
	seen := make(map[scorer.Condition]bool, len(conds))
	for _, c := range conds {
		if seen[c] {
			return nil, nil, fmt.Errorf("blind: duplicate condition %s", c)
		}
		seen[c] = true
	}

	shuffled := slices.Clone(conds)
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	m := &Map{
		seed:        seed,
		realToBlind: make(map[scorer.Condition]string, len(conds)),
		blindToReal: make(map[string]scorer.Condition, len(conds)),
	}
	for i, c := range shuffled {
		label := fmt.Sprintf("C%d", i+1)
		m.realToBlind[c] = label
		m.blindToReal[label] = c
		m.order = append(m.order, label)
	}

	labels := make([]string, len(conds))
	for i, c := range conds {
		labels[i] = m.realToBlind[c]
	}
	return m, labels, nil
}

// Seed returns the seed the map was built from.
func (m *Map) Seed() int64 { return m.seed }

// Label returns the blind label of c.
func (m *Map) Label(c scorer.Condition) (string, bool) {
	l, ok := m.realToBlind[c]
	return l, ok
}

// Labels returns all blind labels in label order.
func (m *Map) Labels() []string {
	return slices.Clone(m.order)
}

// BlindMetrics rekeys m's scored values by blind label. Missing conditions
// are rekeyed the same way.
func (m *Map) BlindMetrics(metrics scorer.Metrics) (values map[string]float64, missing map[string]string, err error) {
	values = make(map[string]float64, len(metrics.Values))
	missing = make(map[string]string, len(metrics.Missing))
	for c, v := range metrics.Values {
		l, ok := m.realToBlind[c]
		if !ok {
			return nil, nil, fmt.Errorf("blind: condition %s not in map", c)
		}
		values[l] = v
	}
	for c, reason := range metrics.Missing {
		l, ok := m.realToBlind[c]
		if !ok {
			return nil, nil, fmt.Errorf("blind: condition %s not in map", c)
		}
		missing[l] = reason
	}
	return values, missing, nil
}

// #endregion blind

// #region reveal
// Reveal translates blind-labelled values back to real conditions. Its only
// precondition is the map itself: it may run before or after scoring. A
// second call, or a call on a nil map, returns errs.ErrRevealNotApplicable.
func (m *Map) Reveal(blinded map[string]float64) (map[scorer.Condition]float64, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: run is not blinded", errs.ErrRevealNotApplicable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revealed {
		return nil, fmt.Errorf("%w: already revealed", errs.ErrRevealNotApplicable)
	}

	out := make(map[scorer.Condition]float64, len(blinded))
	for label, v := range blinded {
		c, ok := m.blindToReal[label]
		if !ok {
			return nil, fmt.Errorf("reveal: unknown blind label %q", label)
		}
		out[c] = v
	}
	m.revealed = true
	return out, nil
}

// RevealMetrics reveals blinded values and missing markers in one step.
func (m *Map) RevealMetrics(values map[string]float64, missing map[string]string) (scorer.Metrics, error) {
	revealed, err := m.Reveal(values)
	if err != nil {
		return scorer.Metrics{}, err
	}
	out := scorer.NewMetrics()
	for c, v := range revealed {
		out.Set(c, v)
	}
	for label, reason := range missing {
		c, ok := m.blindToReal[label]
		if !ok {
			return scorer.Metrics{}, fmt.Errorf("reveal: unknown blind label %q", label)
		}
		out.MarkMissing(c, reason)
	}
	return out, nil
}

// Revealed reports whether Reveal has succeeded.
func (m *Map) Revealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revealed
}

// Snapshot returns the persisted form of the mapping.
func (m *Map) Snapshot() Snapshot {
	out := make(map[scorer.Condition]string, len(m.realToBlind))
	for c, l := range m.realToBlind {
		out[c] = l
	}
	return Snapshot{Seed: m.seed, MapRealToBlind: out}
}

// #endregion reveal
