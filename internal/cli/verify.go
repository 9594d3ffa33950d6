package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/harness"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
)

var workspaceBindings = bindings{
	"out":    "out_dir",
	"ledger": "ledger.backend",
}

func addWorkspaceFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "Output directory")
	cmd.Flags().String("ledger", "", "Ledger backend: ndjson or sqlite")
}

// openWorkspace loads the configuration of cmd and opens its output
// directory. The returned cleanup closes the workspace and the logger.
func openWorkspace(cmd *cobra.Command) (*harness.Workspace, *slog.Logger, func(), error) {
	cfg, err := loadConfig(cmd, workspaceBindings)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	w, err := harness.Open(cmd.Context(), harness.Config{
		OutDir:        cfg.OutDir,
		LedgerBackend: ledger.Backend(cfg.Ledger.Backend),
		Logger:        log,
	})
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := w.Close(); err != nil {
			log.Warn("close workspace", "error", err)
		}
		closeLog()
	}
	return w, log, cleanup, nil
}

// #region verify
func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the preregistration identity, artifact hashes and ledger chain",
		Long: `verify recomputes AEQ/CID from prereg.json, rehashes every file listed in
artifacts_manifest.json and walks the ledger hash chain. Any mismatch exits
with the storage problem code.`,
		Example: `  harness verify --out outputs
  harness verify --out outputs --ledger sqlite --json`,
		Args: cobra.NoArgs,
		RunE: runVerify,
	}
	addWorkspaceFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	w, _, cleanup, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := w.Verify(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}
	if !report.OK() {
		return fmt.Errorf("verify %s: %w", w.Dir(), errs.ErrIntegrity)
	}
	return nil
}

func printReport(w io.Writer, r harness.Report) {
	ok := color.New(color.FgGreen).Sprint("ok")
	bad := color.New(color.FgRed).SprintFunc()
	line := func(name, problem string) {
		if problem == "" {
			fmt.Fprintf(w, "  %-10s %s\n", name, ok)
			return
		}
		fmt.Fprintf(w, "  %-10s %s\n", name, bad(problem))
	}

	fmt.Fprintf(w, "AEQ %s  CID %s\n", r.AEQ, r.CID)
	line("identity", r.Identity)
	line("manifest", r.Manifest)
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "    %s\n", bad(m.String()))
	}
	line("ledger", r.Ledger)
	fmt.Fprintf(w, "  %d ledger entries\n", r.Entries)
}

// #endregion verify
