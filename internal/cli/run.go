package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ablation-harness/internal/config"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/gate"
	"github.com/danielpatrickdp/ablation-harness/internal/harness"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

var runBindings = bindings{
	"out":          "out_dir",
	"seed":         "seed",
	"blind":        "blind",
	"reveal":       "reveal",
	"metric":       "metric",
	"notes":        "notes",
	"delta-min":    "thresholds.delta_min",
	"control-max":  "thresholds.control_max",
	"baseline-min": "thresholds.baseline_min",
	"ledger":       "ledger.backend",
	"scorer":       "scorer.kind",
	"scorer-addr":  "scorer.addr",
	"retries":      "scorer.retries",
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Freeze the preregistration, score, gate and record one run",
		Long: `run freezes the preregistration into prereg.json (or confirms the existing
one), scores every condition, evaluates the preregistered gates and appends
the decision to the ledger before writing artifacts_manifest.json.

The exit code reports whether the run completed, not whether the gates
passed; the decision is in results.json and the ledger.`,
		Example: `  harness run --out outputs --seed 123
  harness run --out outputs --blind --reveal
  harness run --config harness.yaml --scorer grpc --scorer-addr localhost:7070`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	f := cmd.Flags()
	f.StringP("out", "o", "", "Output directory")
	f.Int64("seed", 0, "Run seed")
	f.Bool("blind", false, "Relabel conditions before scoring")
	f.Bool("reveal", false, "Write blind_map.json and real-labelled metrics after reveal")
	f.String("metric", "", "Metric name reported by the scorer")
	f.String("notes", "", "Free-form preregistration notes")
	f.Float64("delta-min", 0, "Minimum ablation improvement over baseline")
	f.Float64("control-max", 0, "Maximum negative control deviation from baseline")
	f.Float64("baseline-min", 0, "Optional baseline floor")
	f.String("ledger", "", "Ledger backend: ndjson or sqlite")
	f.String("scorer", "", "Scorer: synthetic or grpc")
	f.String("scorer-addr", "", "Address of the grpc scorer service")
	f.Int("retries", 0, "Retries per condition for transient scorer errors")
	f.String("run-id", "", "Run id (generated when empty)")
	f.Bool("json", false, "Print results.json instead of a summary")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, runBindings)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	s, closeScorer, err := buildScorer(cfg, log)
	if err != nil {
		return err
	}
	defer closeScorer()

	ctx := cmd.Context()
	w, err := harness.Open(ctx, harness.Config{
		OutDir:        cfg.OutDir,
		LedgerBackend: ledger.Backend(cfg.Ledger.Backend),
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	runID, _ := cmd.Flags().GetString("run-id")
	out, err := w.Run(ctx, harness.RunOptions{
		Prereg:   cfg.Prereg(),
		Scorer:   s,
		Disclose: cfg.Reveal,
		RunID:    runID,
	})
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out.Results)
	}
	printOutcome(cmd.OutOrStdout(), w.Dir(), out)
	return nil
}

// buildScorer returns the configured scorer wrapped in the retry policy.
func buildScorer(cfg *config.Configuration, log *slog.Logger) (scorer.Scorer, func() error, error) {
	var (
		s      scorer.Scorer
		closer = func() error { return nil }
	)
	switch cfg.Scorer.Kind {
	case "grpc":
		client, err := scorer.NewGRPCClient(cfg.Scorer.Addr, cfg.Scorer.Timeout)
		if err != nil {
			return nil, closer, errs.Argumentf("scorer: %v", err)
		}
		s, closer = client, client.Close
	default:
		s = scorer.NewSynthetic(cfg.SyntheticScorer())
	}
	if cfg.Scorer.Retries > 0 {
		s = scorer.NewRetrying(s, cfg.RetryPolicy(), log)
	}
	return s, closer, nil
}

// #region output
func printOutcome(w io.Writer, dir string, out *harness.Outcome) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	res := out.Results
	fmt.Fprintf(w, "AEQ %s  CID %s  run %s\n", res.AEQ, res.CID, res.RunID)
	fmt.Fprintf(w, "mode %s  seed %d  metric %s\n", res.Mode, res.Seed, res.Metric)

	seen := map[string]bool{}
	switch {
	case len(res.Metrics) > 0 || len(res.Missing) > 0:
		addKeys(seen, res.Metrics)
		addKeys(seen, res.Missing)
		printMetrics(w, sortedKeys(seen), func(k string) (float64, bool) {
			v, ok := res.Metrics[scorer.Condition(k)]
			return v, ok
		}, func(k string) string { return res.Missing[scorer.Condition(k)] })
	default:
		addKeys(seen, res.BlindedMetrics)
		addKeys(seen, res.BlindedMissing)
		printMetrics(w, sortedKeys(seen), func(k string) (float64, bool) {
			v, ok := res.BlindedMetrics[k]
			return v, ok
		}, func(k string) string { return res.BlindedMissing[k] })
	}

	for _, g := range out.Decision.Gates {
		verdict := green("PASS")
		if !g.Pass {
			verdict = red("FAIL")
		}
		fmt.Fprintf(w, "  %-18s %s  %s\n", g.Name, verdict, dim(describe(g)))
	}
	overall := green("PASS")
	if !out.Decision.Overall {
		overall = red("FAIL")
	}
	fmt.Fprintf(w, "overall %s  (ledger seq %d)\n", overall, out.Entry.Seq)

	if len(res.BlindMap) > 0 {
		fmt.Fprintln(w, "blind map:")
		mapped := map[string]bool{}
		addKeys(mapped, res.BlindMap)
		for _, c := range sortedKeys(mapped) {
			fmt.Fprintf(w, "  %-18s %s\n", c, res.BlindMap[scorer.Condition(c)])
		}
	}
	fmt.Fprintf(w, "artifacts in %s\n", dir)
}

func printMetrics(w io.Writer, keys []string, value func(string) (float64, bool), missing func(string) string) {
	for _, k := range keys {
		if v, ok := value(k); ok {
			fmt.Fprintf(w, "  %-18s %.6f\n", k, v)
			continue
		}
		fmt.Fprintf(w, "  %-18s missing (%s)\n", k, missing(k))
	}
}

func describe(g gate.GateDecision) string {
	if g.Value == nil || g.Threshold == nil {
		return g.Reason
	}
	return fmt.Sprintf("%.6f %s %.6f", *g.Value, g.Operator, *g.Threshold)
}

func addKeys[K ~string, V any](seen map[string]bool, m map[K]V) {
	for k := range m {
		seen[string(k)] = true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// #endregion output
