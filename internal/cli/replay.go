package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/replay"
)

// #region replay
func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-evaluate a recorded run or regression fixtures",
		Long: `replay re-runs the gate engine on recorded metrics and compares the result
with the recorded decision. With --fixture it evaluates fixture files (or
every .json, .yaml and .yml file of a directory) against their expected
verdicts. Any disagreement exits with the storage problem code.`,
		Example: `  harness replay --out outputs
  harness replay --fixture internal/replay/testdata
  harness replay --fixture a.yaml --fixture b.json --json`,
		Args: cobra.NoArgs,
		RunE: runReplay,
	}
	cmd.Flags().StringP("out", "o", "", "Output directory of the recorded run")
	cmd.Flags().StringSlice("fixture", nil, "Fixture file or directory (repeatable)")
	cmd.Flags().Bool("json", false, "Print reports as JSON")
	cmd.MarkFlagsMutuallyExclusive("out", "fixture")
	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	fixtures, _ := cmd.Flags().GetStringSlice("fixture")
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	if len(fixtures) > 0 {
		return replayFixtures(out, fixtures, asJSON)
	}

	cfg, err := loadConfig(cmd, bindings{"out": "out_dir"})
	if err != nil {
		return err
	}
	report, err := replay.ReplayRun(cfg.OutDir)
	if err != nil {
		return err
	}
	if asJSON {
		if err := encodeJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "AEQ %s  CID %s  run %s\n", report.AEQ, report.CID, report.RunID)
		if report.IdentityErr != "" {
			fmt.Fprintf(out, "  identity  %s\n", color.RedString(report.IdentityErr))
		}
		printComparisons(out, report.Gates)
		printMatch(out, report.Match)
	}
	if !report.Match {
		return fmt.Errorf("replay %s: recorded decision does not reproduce: %w", cfg.OutDir, errs.ErrIntegrity)
	}
	return nil
}

func replayFixtures(out io.Writer, paths []string, asJSON bool) error {
	files, err := expandFixtures(paths)
	if err != nil {
		return err
	}
	var (
		reports []replay.FixtureReport
		failed  []string
	)
	for _, path := range files {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return errs.Argumentf("%v", err)
		}
		r, err := replay.RunFixture(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		reports = append(reports, r)
		if !r.Match {
			failed = append(failed, path)
		}
		if !asJSON {
			fmt.Fprintf(out, "%s  %s\n", path, r.Description)
			printComparisons(out, r.Gates)
			printMatch(out, r.Match)
		}
	}
	if asJSON {
		if err := encodeJSON(out, reports); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d fixture(s) drifted: %s: %w", len(failed), strings.Join(failed, ", "), errs.ErrIntegrity)
	}
	return nil
}

// expandFixtures replaces directories with the fixture files they contain.
func expandFixtures(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errs.Argumentf("fixture %s: %v", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errs.Argumentf("fixture dir %s: %v", p, err)
		}
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json", ".yaml", ".yml":
				if !e.IsDir() {
					out = append(out, filepath.Join(p, e.Name()))
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, errs.Argumentf("no fixture files in %s", strings.Join(paths, ", "))
	}
	slices.Sort(out)
	return out, nil
}

func printComparisons(w io.Writer, cs []replay.Comparison) {
	for _, c := range cs {
		mark := color.GreenString("=")
		if !c.Matching {
			mark = color.RedString("≠")
		}
		fmt.Fprintf(w, "  %-18s want %-6s got %-6s %s\n", c.Gate, c.Want, c.Got, mark)
	}
}

func printMatch(w io.Writer, match bool) {
	if match {
		fmt.Fprintln(w, color.GreenString("  reproduced"))
		return
	}
	fmt.Fprintln(w, color.RedString("  drift"))
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion replay
