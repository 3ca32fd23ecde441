package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mappy4ever/tcgsync/internal/bootstrap"
	"github.com/mappy4ever/tcgsync/internal/config"
	"github.com/mappy4ever/tcgsync/internal/logging"
)

// errCardsFailed makes the process exit 1 after a sync that completed with
// card failures. The summary has already been printed.
var errCardsFailed = errors.New("sync completed with failed cards")

var (
	configPath  string
	logLevel    string
	storeKind   string
	storeDSN    string
	upstreamURL string

	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "tcgsync",
		Short:         "Sync the TCGdex card catalog into a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $TCGSYNC_CONFIG or ./tcgsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store-kind", "", "Store kind (sqlite|postgres)")
	rootCmd.PersistentFlags().StringVar(&storeDSN, "store-dsn", "", "Store DSN or SQLite path")
	rootCmd.PersistentFlags().StringVar(&upstreamURL, "upstream-url", "", "TCGdex API base URL")

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(hashKeyCmd())
	rootCmd.AddCommand(issueTokenCmd())
	rootCmd.AddCommand(fakeUpstreamCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errCardsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// loadConfig layers flags over the koanf configuration.
func loadConfig(cmd *cobra.Command) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("store-kind") {
		cfg.Store.Kind = storeKind
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN = storeDSN
	}
	if flags.Changed("upstream-url") {
		cfg.Upstream.BaseURL = upstreamURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger = bootstrap.NewLogger(cfg.Log)
	return nil
}

func openStack(ctx context.Context) (*bootstrap.Stack, error) {
	return bootstrap.Build(ctx, cfg, logger)
}
