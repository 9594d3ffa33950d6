package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
	"github.com/danielpatrickdp/ablation-harness/internal/scorer"
)

// #region scorer
func newScorerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scorer",
		Short: "Scorer service utilities",
	}
	cmd.AddCommand(newScorerServeCmd())
	return cmd
}

func newScorerServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the synthetic scorer over gRPC",
		Long: `serve exposes the synthetic scorer as a gRPC scorer service so that
"harness run --scorer grpc" can be exercised end to end.`,
		Example: `  harness scorer serve --addr 127.0.0.1:7070`,
		Args:    cobra.NoArgs,
		RunE:    runScorerServe,
	}
	cmd.Flags().String("addr", "127.0.0.1:7070", "Listen address")
	return cmd
}

func runScorerServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	addr, _ := cmd.Flags().GetString("addr")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Argumentf("listen %s: %v", addr, err)
	}

	srv := grpc.NewServer()
	scorer.RegisterServer(srv, scorer.NewSynthetic(cfg.SyntheticScorer()))

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Info("scorer listening", "addr", lis.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "scorer listening on %s\n", lis.Addr())
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve scorer: %w", err)
	}
	log.Info("scorer stopped")
	return nil
}

// #endregion scorer
