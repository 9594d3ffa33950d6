package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "outputs", cfg.OutDir)
	assert.Equal(t, int64(123), cfg.Seed)
	assert.Equal(t, 0.05, cfg.Thresholds.DeltaMin)
	assert.Nil(t, cfg.Thresholds.BaselineMin)
	assert.Equal(t, "ndjson", cfg.Ledger.Backend)
	assert.Equal(t, 10*time.Second, cfg.Scorer.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Scorer.Backoff)
	assert.Equal(t, prereg.ModeUnblind, cfg.Mode())
}

func TestYAMLFile(t *testing.T) {
	path := writeConfig(t, "harness.yaml", `
out_dir: runs/a
seed: 7
blind: true
thresholds:
  delta_min: 0.1
  control_max: 0.02
  baseline_min: 0.6
metadata:
  dataset: synthetic
scorer:
  kind: grpc
  addr: localhost:7070
  timeout: 3s
  synthetic:
    error_rates:
      ablation: 0.1
`)
	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "runs/a", cfg.OutDir)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, prereg.ModeBlind, cfg.Mode())
	require.NotNil(t, cfg.Thresholds.BaselineMin)
	assert.Equal(t, 0.6, *cfg.Thresholds.BaselineMin)
	assert.Equal(t, "synthetic", cfg.Metadata["dataset"])
	assert.Equal(t, 3*time.Second, cfg.Scorer.Timeout)

	syn := cfg.SyntheticScorer()
	assert.Equal(t, 0.1, syn.ErrorRates[scorer.Ablation])
	assert.Equal(t, 0.27, syn.ErrorRates[scorer.Baseline])

	p := cfg.Prereg()
	assert.Equal(t, 0.1, *p.DeltaMin)
	assert.Equal(t, int64(7), *p.Seed)
}

func TestJSONFile(t *testing.T) {
	path := writeConfig(t, "harness.json", `{"seed": 9, "ledger": {"backend": "sqlite"}}`)
	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "harness.yml", "seed: 1\nout_dir: from-file\nlog:\n  level: warn\n")
	t.Setenv("HARNESS_SEED", "2")
	t.Setenv("HARNESS_LOG__LEVEL", "debug")
	t.Setenv("HARNESS_THRESHOLDS__DELTA_MIN", "0.2")

	cfg, err := Load(LoadOptions{Path: path, Overrides: map[string]any{"seed": int64(3)}})
	require.NoError(t, err)

	assert.Equal(t, int64(3), cfg.Seed, "overrides beat env")
	assert.Equal(t, "debug", cfg.Log.Level, "env beats file")
	assert.Equal(t, "from-file", cfg.OutDir, "file beats defaults")
	assert.Equal(t, 0.2, cfg.Thresholds.DeltaMin)
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]map[string]any{
		"backend":     {"ledger.backend": "redis"},
		"scorer kind": {"scorer.kind": "oracle"},
		"grpc addr":   {"scorer.kind": "grpc"},
		"log format":  {"log.format": "xml"},
		"retries":     {"scorer.retries": -1},
		"out dir":     {"out_dir": ""},
		"condition":   {"scorer.synthetic.error_rates": map[string]any{"treatment": 0.1}},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(LoadOptions{Overrides: overrides})
			require.Error(t, err)
			assert.Equal(t, errs.ExitArgument, errs.ExitCode(err))
		})
	}
}

func TestUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "harness.toml", "seed = 1")
	_, err := Load(LoadOptions{Path: path})
	assert.Equal(t, errs.ExitArgument, errs.ExitCode(err))
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "scorer.addr", envTransform("HARNESS_SCORER__ADDR"))
	assert.Equal(t, "out_dir", envTransform("HARNESS_OUT_DIR"))
}
