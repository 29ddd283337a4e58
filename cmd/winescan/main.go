package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/joelkehle/winelist-scanner/internal/config"
	"github.com/joelkehle/winelist-scanner/internal/observability"
)

type app struct {
	cfgFile  string
	envFile  string
	logLevel string

	cfg      *config.Config
	log      zerolog.Logger
	shutdown observability.ShutdownFunc
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "winescan",
		Short: "Find the best-value wines on a restaurant wine list",
		Long: `winescan matches wine-list lines against a wine identity service, falls back
to LLM-backed web search for wines the service does not know, looks up market
prices and critic scores, and ranks the list by rating, value and price.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newScanCmd(a),
		newRankCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = observability.NewLogger(cfg.Log)

	shutdown, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}
