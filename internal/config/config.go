// Package config loads harness configuration with koanf. Sources are applied
// in order, later ones winning: defaults, a YAML or JSON config file,
// HARNESS_* environment variables, then explicit overrides from the command line.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
	"github.com/danielpatrickdp/ablation-harness/internal/logger"
	"github.com/danielpatrickdp/ablation-harness/internal/prereg"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: HARNESS_SCORER__ADDR sets scorer.addr.
const EnvPrefix = "HARNESS_"

// #region types
// Configuration is the full harness configuration.
type Configuration struct {
	OutDir     string            `koanf:"out_dir"`
	Seed       int64             `koanf:"seed"`
	Blind      bool              `koanf:"blind"`
	Reveal     bool              `koanf:"reveal"`
	Metric     string            `koanf:"metric"`
	Notes      string            `koanf:"notes"`
	Metadata   map[string]string `koanf:"metadata"`
	Thresholds Thresholds        `koanf:"thresholds"`
	Ledger     LedgerConfig      `koanf:"ledger"`
	Scorer     ScorerConfig      `koanf:"scorer"`
	Log        LogConfig         `koanf:"log"`
}

// Thresholds are the values frozen into the preregistration.
type Thresholds struct {
	DeltaMin    float64  `koanf:"delta_min"`
	ControlMax  float64  `koanf:"control_max"`
	BaselineMin *float64 `koanf:"baseline_min"`
}

// LedgerConfig selects the ledger backend: "ndjson" or "sqlite".
type LedgerConfig struct {
	Backend string `koanf:"backend"`
}

// ScorerConfig selects and tunes the scorer.
type ScorerConfig struct {
	Kind      string          `koanf:"kind"` // "synthetic" or "grpc"
	Addr      string          `koanf:"addr"`
	Timeout   time.Duration   `koanf:"timeout"`
	Retries   int             `koanf:"retries"`
	Backoff   time.Duration   `koanf:"backoff"`
	Synthetic SyntheticConfig `koanf:"synthetic"`
}

// SyntheticConfig tunes the synthetic scorer. ErrorRates are keyed by
// condition name.
type SyntheticConfig struct {
	Samples    int                `koanf:"samples"`
	ErrorRates map[string]float64 `koanf:"error_rates"`
}

// LogConfig configures the logger. Output is "stderr", "stdout" or a file path.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// #endregion types

// #region defaults
// Defaults returns the built-in configuration values keyed by koanf path.
func Defaults() map[string]any {
	syn := scorer.DefaultSyntheticConfig()
	return map[string]any{
		"out_dir":                  "outputs",
		"seed":                     int64(123),
		"blind":                    false,
		"reveal":                   false,
		"metric":                   "accuracy",
		"thresholds.delta_min":     0.05,
		"thresholds.control_max":   0.05,
		"ledger.backend":           string(ledger.BackendNDJSON),
		"scorer.kind":              "synthetic",
		"scorer.timeout":           "10s",
		"scorer.retries":           scorer.DefaultRetryPolicy().MaxRetries,
		"scorer.backoff":           scorer.DefaultRetryPolicy().Backoff.String(),
		"scorer.synthetic.samples": syn.Samples,
		"log.level":                "info",
		"log.format":               "text",
		"log.output":               "stderr",
	}
}

// #endregion defaults

// #region load
// LoadOptions select the optional sources.
type LoadOptions struct {
	// Path is a config file; the extension picks the parser.
	Path string
	// Overrides are applied last, keyed by koanf path.
	Overrides map[string]any
}

// Load builds the configuration from every source.
func Load(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")
	for key, v := range Defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if opts.Path != "" {
		parser, err := parserFor(opts.Path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(opts.Path), parser); err != nil {
			return nil, errs.Argumentf("load config %s: %v", opts.Path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment config: %w", err)
	}

	for key, v := range opts.Overrides {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errs.Argumentf("decode config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, errs.Argumentf("config %s: unsupported extension (want .yaml, .yml or .json)", path)
	}
}

// envTransform maps HARNESS_SCORER__ADDR to scorer.addr.
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// #endregion load

// #region validate
// Validate rejects values no component accepts. Threshold validity is left
// to the preregistration freeze.
func (c *Configuration) Validate() error {
	if c.OutDir == "" {
		return errs.Argumentf("out_dir must not be empty")
	}
	switch ledger.Backend(c.Ledger.Backend) {
	case ledger.BackendNDJSON, ledger.BackendSQLite:
	default:
		return errs.Argumentf("ledger.backend %q: want ndjson or sqlite", c.Ledger.Backend)
	}
	switch c.Scorer.Kind {
	case "synthetic":
	case "grpc":
		if c.Scorer.Addr == "" {
			return errs.Argumentf("scorer.addr is required for the grpc scorer")
		}
	default:
		return errs.Argumentf("scorer.kind %q: want synthetic or grpc", c.Scorer.Kind)
	}
	if c.Scorer.Retries < 0 {
		return errs.Argumentf("scorer.retries must not be negative")
	}
	for name := range c.Scorer.Synthetic.ErrorRates {
		if _, err := scorer.ParseCondition(name); err != nil {
			return errs.Argumentf("scorer.synthetic.error_rates: %v", err)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errs.Argumentf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// #endregion validate

// #region conversions
// Mode returns the preregistered mode the configuration asks for.
func (c *Configuration) Mode() prereg.ModeKind {
	if c.Blind {
		return prereg.ModeBlind
	}
	return prereg.ModeUnblind
}

// Prereg returns the preregistration input.
func (c *Configuration) Prereg() prereg.Config {
	delta, control, seed := c.Thresholds.DeltaMin, c.Thresholds.ControlMax, c.Seed
	return prereg.Config{
		DeltaMin:    &delta,
		ControlMax:  &control,
		BaselineMin: c.Thresholds.BaselineMin,
		Seed:        &seed,
		Mode:        c.Mode(),
		Metric:      c.Metric,
		Notes:       c.Notes,
		Metadata:    c.Metadata,
	}
}

// SyntheticScorer returns the synthetic scorer settings with configured
// error rates laid over the defaults.
func (c *Configuration) SyntheticScorer() scorer.SyntheticConfig {
	syn := scorer.DefaultSyntheticConfig()
	if c.Scorer.Synthetic.Samples > 0 {
		syn.Samples = c.Scorer.Synthetic.Samples
	}
	for name, rate := range c.Scorer.Synthetic.ErrorRates {
		syn.ErrorRates[scorer.Condition(name)] = rate
	}
	return syn
}

// RetryPolicy returns the scorer retry policy.
func (c *Configuration) RetryPolicy() scorer.RetryPolicy {
	return scorer.RetryPolicy{MaxRetries: c.Scorer.Retries, Backoff: c.Scorer.Backoff}
}

// Logger returns the logger settings.
func (c *Configuration) Logger() logger.Config {
	return logger.Config{Level: c.Log.Level, Format: c.Log.Format, Output: c.Log.Output}
}

// #endregion conversions
