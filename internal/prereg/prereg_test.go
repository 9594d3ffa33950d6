package prereg

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region helpers
func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func validConfig() Config {
	return Config{
		DeltaMin:   f64(0.05),
		ControlMax: f64(0.01),
		Seed:       i64(123),
		Mode:       ModeUnblind,
		Notes:      "scenario A",
		Metadata:   map[string]string{"owner": "eval"},
	}
}

var fixedClock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

// #endregion helpers

// #region freeze-tests
func TestFreezeDerivesIdentity(t *testing.T) {
	p, err := NewDraft(validConfig()).WithClock(fixedClock).Freeze()
	require.NoError(t, err)

	assert.True(t, p.IsFrozen())
	assert.NotEmpty(t, p.AEQ())
	assert.NotEmpty(t, p.CID())
	assert.Equal(t, scorer.DefaultConditions(), p.Conditions())
	assert.Equal(t, "accuracy", p.Metric())
	assert.Equal(t, fixedClock(), p.FrozenAt())
	assert.NoError(t, p.Verify())
}

func TestFreezeIsDeterministic(t *testing.T) {
	a, err := Freeze(validConfig())
	require.NoError(t, err)
	b, err := Freeze(validConfig())
	require.NoError(t, err)

	assert.Equal(t, a.AEQ(), b.AEQ())
	assert.Equal(t, a.CID(), b.CID())
}

func TestDraftRejectsMutationAfterFreeze(t *testing.T) {
	d := NewDraft(validConfig())
	require.NoError(t, d.SetDeltaMin(0.02))
	_, err := d.Freeze()
	require.NoError(t, err)

	assert.ErrorIs(t, d.SetDeltaMin(0.5), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetControlMax(0.5), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetBaselineMin(0.5), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetSeed(1), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetMode(ModeBlind), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetMetric("f1"), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetNotes("x"), errs.ErrPreregistrationFrozen)
	assert.ErrorIs(t, d.SetMetadata("k", "v"), errs.ErrPreregistrationFrozen)

	_, err = d.Freeze()
	assert.ErrorIs(t, err, errs.ErrPreregistrationFrozen)
}

func TestFrozenValueIsIsolatedFromInput(t *testing.T) {
	cfg := validConfig()
	p, err := Freeze(cfg)
	require.NoError(t, err)

	*cfg.DeltaMin = 9
	cfg.Metadata["owner"] = "someone else"
	md := p.Metadata()
	md["owner"] = "mutated copy"
	conds := p.Conditions()
	conds[0] = scorer.Ablation

	assert.Equal(t, 0.05, p.DeltaMin())
	assert.Equal(t, "eval", p.Metadata()["owner"])
	assert.Equal(t, scorer.Baseline, p.Conditions()[0])
	assert.NoError(t, p.Verify())
}

func TestFreezeMalformed(t *testing.T) {
	tests := map[string]func(c *Config){
		"missing delta":     func(c *Config) { c.DeltaMin = nil },
		"missing control":   func(c *Config) { c.ControlMax = nil },
		"missing seed":      func(c *Config) { c.Seed = nil },
		"missing mode":      func(c *Config) { c.Mode = "" },
		"unknown mode":      func(c *Config) { c.Mode = "half-blind" },
		"unknown condition": func(c *Config) { c.Conditions = []scorer.Condition{"treatment"} },
		"duplicate":         func(c *Config) { c.Conditions = []scorer.Condition{scorer.Baseline, scorer.Baseline} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			_, err := Freeze(cfg)
			assert.ErrorIs(t, err, errs.ErrMalformedPreregistration)
		})
	}
}

func TestBaselineMinOptional(t *testing.T) {
	p, err := Freeze(validConfig())
	require.NoError(t, err)
	_, ok := p.BaselineMin()
	assert.False(t, ok)

	cfg := validConfig()
	cfg.BaselineMin = f64(0.7)
	q, err := Freeze(cfg)
	require.NoError(t, err)
	v, ok := q.BaselineMin()
	assert.True(t, ok)
	assert.Equal(t, 0.7, v)
	assert.NotEqual(t, p.AEQ(), q.AEQ())
}

func TestZeroValueIsNotFrozen(t *testing.T) {
	var p Preregistration
	assert.False(t, p.IsFrozen())
}

// #endregion freeze-tests

// #region document-tests
func TestDocumentRoundTripKeepsIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.BaselineMin = f64(0.6)
	cfg.Seed = i64(-9007199254740993)
	p, err := NewDraft(cfg).WithClock(fixedClock).Freeze()
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	q, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, p.AEQ(), q.AEQ())
	assert.Equal(t, p.CID(), q.CID())
	assert.Equal(t, p.Seed(), q.Seed())
	assert.NoError(t, q.Verify())
}

func TestFromDocumentDetectsTampering(t *testing.T) {
	p, err := Freeze(validConfig())
	require.NoError(t, err)

	doc := p.Document()
	doc.Thresholds.DeltaMin = 0.0
	q, err := FromDocument(doc)
	require.NoError(t, err)

	assert.Error(t, q.Verify())
	aeq, _, err := q.Recompute()
	require.NoError(t, err)
	assert.NotEqual(t, p.AEQ(), aeq)
}

func TestFromDocumentRequiresIdentity(t *testing.T) {
	p, err := Freeze(validConfig())
	require.NoError(t, err)
	doc := p.Document()
	doc.AEQ = ""

	_, err = FromDocument(doc)
	assert.ErrorIs(t, err, errs.ErrMalformedPreregistration)
}

// #endregion document-tests

// #region store-tests
func TestStorePersistAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load()
	assert.ErrorIs(t, err, errs.ErrNotPreregistered)

	p, err := Freeze(validConfig())
	require.NoError(t, err)
	stored, err := s.Persist(p)
	require.NoError(t, err)
	assert.Equal(t, p.AEQ(), stored.AEQ())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, p.AEQ(), loaded.AEQ())
	assert.Equal(t, p.CID(), loaded.CID())
}

func TestStoreSecondFreezeIsNoOp(t *testing.T) {
	s := NewStore(t.TempDir())
	first, err := NewDraft(validConfig()).WithClock(fixedClock).Freeze()
	require.NoError(t, err)
	_, err = s.Persist(first)
	require.NoError(t, err)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	later := func() time.Time { return fixedClock().Add(time.Hour) }
	second, err := NewDraft(validConfig()).WithClock(later).Freeze()
	require.NoError(t, err)
	got, err := s.Persist(second)
	require.NoError(t, err)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, fixedClock(), got.FrozenAt())
}

func TestStoreRejectsDifferentPreregistration(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := Freeze(validConfig())
	require.NoError(t, err)
	_, err = s.Persist(p)
	require.NoError(t, err)

	cfg := validConfig()
	cfg.DeltaMin = f64(0.01)
	other, err := Freeze(cfg)
	require.NoError(t, err)

	_, err = s.Persist(other)
	assert.ErrorIs(t, err, errs.ErrPreregistrationFrozen)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, p.AEQ(), loaded.AEQ())
}

func TestStoreRejectsEditedFile(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := Freeze(validConfig())
	require.NoError(t, err)
	_, err = s.Persist(p)
	require.NoError(t, err)

	// Loosen the threshold but keep the recorded identity.
	doc := p.Document()
	doc.Thresholds.DeltaMin = 0.01
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), raw, 0o644))

	_, err = s.Persist(p)
	assert.ErrorIs(t, err, errs.ErrMalformedPreregistration)
	assert.ErrorIs(t, err, errs.ErrIntegrity)
	assert.Equal(t, errs.ExitPreregistration, errs.ExitCode(err))
}

func TestStorePersistRequiresFrozen(t *testing.T) {
	_, err := NewStore(t.TempDir()).Persist(Preregistration{})
	assert.ErrorIs(t, err, errs.ErrNotPreregistered)
}

func TestStoreLoadMalformedFile(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	assert.ErrorIs(t, err, errs.ErrMalformedPreregistration)
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("blind")
	assert.True(t, ok)
	assert.Equal(t, ModeBlind, m)
	_, ok = ParseMode("")
	assert.False(t, ok)
}

// #endregion store-tests
