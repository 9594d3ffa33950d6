// Package prereg holds the preregistration: the thresholds, seed and mode a
// run commits to before any metric exists. A Draft is the only mutable form;
// Freeze turns it into an immutable Preregistration carrying its AEQ and CID.
package prereg

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region draft
// Draft collects preregistration fields until Freeze. After a successful
// Freeze every setter fails with errs.ErrPreregistrationFrozen.
type Draft struct {
	mu     sync.Mutex
	cfg    Config
	frozen bool
	clock  func() time.Time
}

// NewDraft starts a draft from cfg.
func NewDraft(cfg Config) *Draft {
	return &Draft{cfg: copyConfig(cfg), clock: time.Now}
}

// WithClock overrides the freeze timestamp source.
func (d *Draft) WithClock(clock func() time.Time) *Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
	return d
}

func (d *Draft) mutate(fn func(c *Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return errs.ErrPreregistrationFrozen
	}
	fn(&d.cfg)
	return nil
}

// SetDeltaMin sets the minimum required ablation improvement.
func (d *Draft) SetDeltaMin(v float64) error {
	return d.mutate(func(c *Config) { c.DeltaMin = &v })
}

// SetControlMax sets the maximum tolerated negative-control deviation.
func (d *Draft) SetControlMax(v float64) error {
	return d.mutate(func(c *Config) { c.ControlMax = &v })
}

// SetBaselineMin sets the optional baseline floor.
func (d *Draft) SetBaselineMin(v float64) error {
	return d.mutate(func(c *Config) { c.BaselineMin = &v })
}

// SetSeed sets the run seed.
func (d *Draft) SetSeed(v int64) error {
	return d.mutate(func(c *Config) { c.Seed = &v })
}

// SetMode sets the run mode.
func (d *Draft) SetMode(m ModeKind) error {
	return d.mutate(func(c *Config) { c.Mode = m })
}

// SetMetric names the metric the scorer reports.
func (d *Draft) SetMetric(name string) error {
	return d.mutate(func(c *Config) { c.Metric = name })
}

// SetNotes sets free-form notes.
func (d *Draft) SetNotes(notes string) error {
	return d.mutate(func(c *Config) { c.Notes = notes })
}

// SetMetadata sets one metadata key.
func (d *Draft) SetMetadata(key, value string) error {
	return d.mutate(func(c *Config) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[key] = value
	})
}

// Freeze validates the draft, derives AEQ/CID and returns the immutable
// Preregistration. A draft freezes once; later calls return the error
// errs.ErrPreregistrationFrozen.
func (d *Draft) Freeze() (Preregistration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return Preregistration{}, errs.ErrPreregistrationFrozen
	}

	cfg := copyConfig(d.cfg)
	if len(cfg.Conditions) == 0 {
		cfg.Conditions = scorer.DefaultConditions()
	}
	if cfg.Metric == "" {
		cfg.Metric = "accuracy"
	}
	if err := validateConfig(cfg); err != nil {
		return Preregistration{}, err
	}

	aeq, cid, err := identity.Derive(payloadOf(cfg))
	if err != nil {
		return Preregistration{}, fmt.Errorf("derive identity: %w", err)
	}

	d.frozen = true
	return Preregistration{
		cfg:      cfg,
		aeq:      aeq,
		cid:      cid,
		frozenAt: d.clock().UTC(),
		frozen:   true,
	}, nil
}

// Freeze is a one-shot NewDraft(cfg).Freeze().
func Freeze(cfg Config) (Preregistration, error) {
	return NewDraft(cfg).Freeze()
}

// #endregion draft

// #region preregistration
// Preregistration is a frozen, immutable preregistration. The zero value is
// not frozen and is refused by the gate engine.
type Preregistration struct {
	cfg      Config
	aeq      identity.ID
	cid      identity.ID
	frozenAt time.Time
	frozen   bool
}

// IsFrozen reports whether p came from a successful freeze or a persisted document.
func (p Preregistration) IsFrozen() bool { return p.frozen }

// DeltaMin returns the smallest ablation minus baseline difference that passes.
func (p Preregistration) DeltaMin() float64 { return deref(p.cfg.DeltaMin) }

// ControlMax returns the largest tolerated negative-control deviation from baseline.
func (p Preregistration) ControlMax() float64 { return deref(p.cfg.ControlMax) }

// Seed returns the preregistered seed, or 0 on the zero value.
func (p Preregistration) Seed() int64 {
	if p.cfg.Seed == nil {
		return 0
	}
	return *p.cfg.Seed
}

// Mode returns the preregistered blinding mode.
func (p Preregistration) Mode() ModeKind { return p.cfg.Mode }

// Metric returns the metric name the scorer reports.
func (p Preregistration) Metric() string { return p.cfg.Metric }

// Notes returns the free-form notes frozen with p.
func (p Preregistration) Notes() string { return p.cfg.Notes }

// AEQ returns the analysis-equivalence ID recorded at freeze time.
func (p Preregistration) AEQ() identity.ID { return p.aeq }

// CID returns the configuration ID recorded at freeze time.
func (p Preregistration) CID() identity.ID { return p.cid }

// FrozenAt returns when p was frozen. It is not part of the identity.
func (p Preregistration) FrozenAt() time.Time { return p.frozenAt }

// BaselineMin returns the baseline floor and whether one was preregistered.
func (p Preregistration) BaselineMin() (float64, bool) {
	if p.cfg.BaselineMin == nil {
		return 0, false
	}
	return *p.cfg.BaselineMin, true
}

// Conditions returns a copy of the preregistered condition set.
func (p Preregistration) Conditions() []scorer.Condition {
	return slices.Clone(p.cfg.Conditions)
}

// Metadata returns a copy of the metadata map.
func (p Preregistration) Metadata() map[string]string {
	return maps.Clone(p.cfg.Metadata)
}

// Payload returns the identity payload of p.
func (p Preregistration) Payload() identity.Payload {
	return payloadOf(copyConfig(p.cfg))
}

// Recompute derives AEQ/CID from p's current content.
func (p Preregistration) Recompute() (identity.ID, identity.ID, error) {
	return identity.Derive(p.Payload())
}

// Verify checks that the recorded AEQ/CID still match p's content.
func (p Preregistration) Verify() error {
	return identity.Verify(p.Payload(), p.aeq, p.cid)
}

// Document returns the prereg.json representation.
func (p Preregistration) Document() Document {
	doc := Document{
		Thresholds: DocumentThresholds{
			DeltaMin:   p.DeltaMin(),
			ControlMax: p.ControlMax(),
		},
		Seed:       p.Seed(),
		Mode:       p.cfg.Mode,
		Metric:     p.cfg.Metric,
		Conditions: p.Conditions(),
		Notes:      p.cfg.Notes,
		Metadata:   p.Metadata(),
		AEQ:        p.aeq,
		CID:        p.cid,
		FrozenAt:   p.frozenAt,
	}
	if v, ok := p.BaselineMin(); ok {
		doc.Thresholds.BaselineMin = &v
	}
	return doc
}

// MarshalJSON encodes p as its Document.
func (p Preregistration) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Document())
}

// FromDocument rebuilds a frozen Preregistration from prereg.json content.
// The recorded AEQ/CID are kept as-is; use Verify to detect tampering.
func FromDocument(doc Document) (Preregistration, error) {
	seed := doc.Seed
	delta := doc.Thresholds.DeltaMin
	control := doc.Thresholds.ControlMax
	cfg := Config{
		DeltaMin:   &delta,
		ControlMax: &control,
		Seed:       &seed,
		Mode:       doc.Mode,
		Metric:     doc.Metric,
		Conditions: slices.Clone(doc.Conditions),
		Notes:      doc.Notes,
		Metadata:   maps.Clone(doc.Metadata),
	}
	if doc.Thresholds.BaselineMin != nil {
		b := *doc.Thresholds.BaselineMin
		cfg.BaselineMin = &b
	}
	if err := validateConfig(cfg); err != nil {
		return Preregistration{}, err
	}
	if doc.AEQ == "" || doc.CID == "" {
		return Preregistration{}, fmt.Errorf("%w: AEQ/CID missing from document", errs.ErrMalformedPreregistration)
	}
	return Preregistration{
		cfg:      cfg,
		aeq:      doc.AEQ,
		cid:      doc.CID,
		frozenAt: doc.FrozenAt,
		frozen:   true,
	}, nil
}

// #endregion preregistration

// #region helpers
func validateConfig(cfg Config) error {
	if cfg.Mode == "" {
		return fmt.Errorf("%w: mode is required", errs.ErrMalformedPreregistration)
	}
	if _, ok := ParseMode(string(cfg.Mode)); !ok {
		return fmt.Errorf("%w: unknown mode %q", errs.ErrMalformedPreregistration, cfg.Mode)
	}
	seen := make(map[scorer.Condition]bool, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		if _, err := scorer.ParseCondition(string(c)); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrMalformedPreregistration, err)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate condition %s", errs.ErrMalformedPreregistration, c)
		}
		seen[c] = true
	}
	return identity.Validate(payloadOf(cfg))
}

func payloadOf(cfg Config) identity.Payload {
	conds := make([]string, len(cfg.Conditions))
	for i, c := range cfg.Conditions {
		conds[i] = string(c)
	}
	return identity.Payload{
		DeltaMin:    cfg.DeltaMin,
		ControlMax:  cfg.ControlMax,
		BaselineMin: cfg.BaselineMin,
		Seed:        cfg.Seed,
		Mode:        string(cfg.Mode),
		Metric:      cfg.Metric,
		Conditions:  conds,
		Notes:       cfg.Notes,
		Metadata:    cfg.Metadata,
	}
}

func copyConfig(c Config) Config {
	out := c
	out.DeltaMin = clonePtr(c.DeltaMin)
	out.ControlMax = clonePtr(c.ControlMax)
	out.BaselineMin = clonePtr(c.BaselineMin)
	out.Seed = clonePtr(c.Seed)
	out.Conditions = slices.Clone(c.Conditions)
	out.Metadata = maps.Clone(c.Metadata)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// #endregion helpers
