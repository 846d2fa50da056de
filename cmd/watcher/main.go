package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"walletScope/internal/config"
	"walletScope/internal/metrics"
	"walletScope/internal/watcher"
)

func main() {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "Per-block wallet PnL from execution traces",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides the config file")

	startCmd := &cobra.Command{
		Use:   "start <config>",
		Short: "Follow every configured chain and report PnL per block",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}
	root.AddCommand(startCmd)

	runBlockCmd := &cobra.Command{
		Use:   "run-block <config>",
		Short: "Process one height and print its records as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlock,
	}
	runBlockCmd.Flags().String("chain", "", "chain name from the config")
	runBlockCmd.Flags().Uint64("block", 0, "block height")
	runBlockCmd.Flags().String("wallet", "", "only print records of this wallet")
	root.AddCommand(runBlockCmd)

	backtestCmd := &cobra.Command{
		Use:   "backtest <config> <cases.yaml>",
		Short: "Check historical blocks against expected wallet deltas",
		Args:  cobra.ExactArgs(2),
		RunE:  runBacktest,
	}
	root.AddCommand(backtestCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env, then the config file; a --log-level flag wins over both.
func loadConfig(cmd *cobra.Command, path string) (config.Config, *zap.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return config.Config{}, nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	metrics.StartServer(ctx, cfg.MetricsAddr, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range app.pipelines {
		p := p
		runner := watcher.NewRunner(watcher.RunConfig{
			Chain:          p.name,
			StartBlock:     p.chain.StartBlock,
			PrefetchWindow: p.chain.PrefetchWindow,
			MaxRetries:     cfg.MaxRetries,
			RetryBackoff:   cfg.RetryBackoff,
		}, p.client, p.engine, app.dispatcher, p.state, logger)

		logger.Info("watcher start",
			zap.String("chain", p.name),
			zap.String("dialect", p.chain.Dialect),
			zap.Int("wallets", p.wallets),
			zap.Int("prefetch_window", p.chain.PrefetchWindow),
			zap.String("state_backend", cfg.StateBackend),
		)
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}

	err = group.Wait()
	for _, p := range app.pipelines {
		for wallet, total := range p.engine.Totals().Snapshot() {
			logger.Info("running total",
				zap.String("chain", p.name),
				zap.String("wallet", wallet),
				zap.Int("records", total.Records),
				zap.String("total", total.Total),
				zap.Uint64("last_block", total.LastBlock),
			)
		}
	}
	if err != nil {
		return err
	}
	logger.Info("watcher stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
