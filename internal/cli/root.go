// Package cli is the harness command line: run, verify, ledger, replay and
// scorer. Every command loads its configuration through internal/config and
// reports failures through the exit codes of internal/errs.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/ablation-harness/internal/config"
	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/logger"
)

// #region root
// NewRootCmd builds the harness command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harness",
		Short: "Preregistered ablation gate harness",
		Long: `harness freezes the thresholds of an ablation study before any metric
exists, scores baseline, ablation and negative control, evaluates the
preregistered gates and appends every decision to a tamper-evident ledger.`,
		Example: `  harness run --out outputs --seed 123
  harness run --out outputs --blind --reveal
  harness verify --out outputs
  harness ledger list --out outputs --json
  harness replay --fixture internal/replay/testdata`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .yml or .json)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Argumentf("%v", err)
	})

	root.AddCommand(newRunCmd(), newVerifyCmd(), newLedgerCmd(), newReplayCmd(), newScorerCmd())
	return root
}

// Execute runs the command line with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ExecuteContext(ctx, NewRootCmd(), os.Args[1:], os.Stderr)
}

// ExecuteContext runs root with args and maps the outcome to an exit code.
// Errors are printed to stderr with their category.
func ExecuteContext(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return errs.ExitOK
	}
	if errs.Classify(err) == errs.Internal && isUsageError(err) {
		err = errs.Argumentf("%v", err)
	}
	fmt.Fprintf(stderr, "error (%s): %v\n", errs.Classify(err), err)
	return errs.ExitCode(err)
}

// isUsageError recognises cobra's own argument validation failures.
func isUsageError(err error) bool {
	msg := err.Error()
	prefixes := []string{
		"unknown command", "accepts ", "requires at least", "unknown flag",
		"unknown shorthand", "required flag", "if any flags in the group",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// #endregion root

// #region shared
// bindings map command flags to configuration keys. Only flags the user set
// become overrides, so unset flags never mask the file or environment.
type bindings map[string]string

func (b bindings) overrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	visit := func(f *pflag.Flag) {
		if key, ok := b[f.Name]; ok && f.Changed {
			out[key] = f.Value.String()
		}
	}
	cmd.Flags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)
	return out
}

var commonBindings = bindings{
	"log-level":  "log.level",
	"log-format": "log.format",
}

// loadConfig resolves the configuration of cmd with the given flag bindings.
func loadConfig(cmd *cobra.Command, b bindings) (*config.Configuration, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, errs.Argumentf("%v", err)
	}
	merged := bindings{}
	for k, v := range commonBindings {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return config.Load(config.LoadOptions{Path: path, Overrides: merged.overrides(cmd)})
}

// newLogger builds the logger of cfg. The returned closer is always safe to call.
func newLogger(cfg *config.Configuration) (*slog.Logger, func() error, error) {
	log, closer, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, func() error { return nil }, errs.Argumentf("logger: %v", err)
	}
	return log, closer, nil
}

// #endregion shared
