package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/identity"
	"github.com/danielpatrickdp/ablation-harness/internal/ledger"
)

// #region ledger
func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and correct the decision ledger",
	}
	cmd.AddCommand(newLedgerListCmd(), newLedgerCorrectCmd())
	return cmd
}

func newLedgerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries in append order",
		Example: `  harness ledger list --out outputs
  harness ledger list --out outputs --aeq 3f2a9c0d1e4b --yaml`,
		Args: cobra.NoArgs,
		RunE: runLedgerList,
	}
	addWorkspaceFlags(cmd)
	cmd.Flags().String("aeq", "", "Only entries for this AEQ")
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	cmd.Flags().Bool("yaml", false, "Print entries as YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	w, _, cleanup, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := w.Ledger().ReadAll(cmd.Context())
	if err != nil {
		return err
	}
	if aeq, _ := cmd.Flags().GetString("aeq"); aeq != "" {
		entries = ledger.Find(entries, aeq)
	}

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	switch {
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case asYAML:
		return writeYAML(out, entries)
	default:
		return writeTable(out, entries)
	}
}

// writeYAML encodes entries through their JSON form so both outputs share
// field names.
func writeYAML(w io.Writer, entries []ledger.Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	var generic []map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeTable(w io.Writer, entries []ledger.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No ledger entries.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tAEQ\tCID\tMODE\tOVERALL\tRUN")
	for _, e := range entries {
		overall := "fail"
		if e.Overall {
			overall = "pass"
		}
		if e.Event == ledger.EventCorrection {
			overall = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Event, e.AEQ, e.CID, e.Mode, overall, e.RunID)
	}
	return tw.Flush()
}

// #endregion ledger

// #region correct
func newLedgerCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Append a correction referencing an earlier decision",
		Long: `correct appends a correction entry for an AEQ. The corrected entries stay
in the ledger; the correction only annotates them.`,
		Example: `  harness ledger correct --out outputs --aeq 3f2a9c0d1e4b --note "scorer bug in run 2"`,
		Args:    cobra.NoArgs,
		RunE:    runLedgerCorrect,
	}
	addWorkspaceFlags(cmd)
	cmd.Flags().String("aeq", "", "AEQ of the corrected decision")
	cmd.Flags().String("cid", "", "CID of the corrected decision (defaults to the latest entry's)")
	cmd.Flags().String("note", "", "Why the decision is corrected")
	_ = cmd.MarkFlagRequired("aeq")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func runLedgerCorrect(cmd *cobra.Command, _ []string) error {
	aeq, _ := cmd.Flags().GetString("aeq")
	cid, _ := cmd.Flags().GetString("cid")
	note, _ := cmd.Flags().GetString("note")
	if note == "" {
		return errs.Argumentf("--note must not be empty")
	}

	w, log, cleanup, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	entries, err := w.Ledger().ReadAll(ctx)
	if err != nil {
		return err
	}
	matching := ledger.Find(entries, aeq)
	if len(matching) == 0 {
		return errs.Argumentf("no ledger entry for AEQ %s", aeq)
	}
	ref := ledger.Ref{AEQ: identity.ID(aeq), CID: matching[len(matching)-1].CID}
	if cid != "" {
		ref.CID = identity.ID(cid)
	}

	e, err := w.Ledger().Append(ctx, ledger.Correction(ref, uuid.NewString(), note))
	if err != nil {
		return err
	}
	log.Info("correction recorded", "seq", e.Seq, "aeq", ref.AEQ, "cid", ref.CID)
	fmt.Fprintf(cmd.OutOrStdout(), "correction %d recorded for %s/%s\n", e.Seq, ref.AEQ, ref.CID)
	return nil
}

// #endregion correct
