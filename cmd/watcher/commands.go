package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"walletScope/internal/config"
	"walletScope/internal/engine"
	"walletScope/internal/model"
)

func runBlock(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	defer logger.Sync()

	chainName, _ := cmd.Flags().GetString("chain")
	height, _ := cmd.Flags().GetUint64("block")
	wallet, _ := cmd.Flags().GetString("wallet")
	chainCfg, ok := cfg.Chains[chainName]
	if !ok {
		return fmt.Errorf("unknown chain %q", chainName)
	}
	if height == 0 {
		return fmt.Errorf("block is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, chainCfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.process(ctx, height)
	if err != nil {
		return err
	}
	records := make([]model.PnLRecord, 0, len(result.Records))
	for _, r := range result.Records {
		if wallet == "" || r.Wallet == wallet {
			records = append(records, r)
		}
	}
	logger.Info("block processed",
		zap.String("chain", chainName),
		zap.Uint64("block", height),
		zap.Int("records", len(records)),
		zap.Int("malformed", len(result.Malformed)),
		zap.Int("violations", len(result.Violations)),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	defer logger.Sync()

	cases, err := config.LoadCases(args[1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelines := make(map[string]*pipeline)
	defer func() {
		for _, p := range pipelines {
			p.Close()
		}
	}()
	type blockKey struct {
		chain  string
		height uint64
	}
	results := make(map[blockKey]engine.BlockResult)

	failed := 0
	for _, c := range cases {
		p, ok := pipelines[c.Chain]
		if !ok {
			chainCfg, known := cfg.Chains[c.Chain]
			if !known {
				return fmt.Errorf("case %s: unknown chain %q", c.Name, c.Chain)
			}
			p, err = newPipeline(ctx, cfg, chainCfg, logger)
			if err != nil {
				return fmt.Errorf("case %s: %w", c.Name, err)
			}
			pipelines[c.Chain] = p
		}

		key := blockKey{chain: c.Chain, height: c.Block}
		result, seen := results[key]
		if !seen {
			result, err = p.process(ctx, c.Block)
			if err != nil {
				failed++
				logger.Error("case failed", zap.String("case", c.Name), zap.Error(err))
				continue
			}
			results[key] = result
		}

		if problems := checkCase(c, result.Records); len(problems) > 0 {
			failed++
			logger.Error("case failed", zap.String("case", c.Name), zap.Strings("problems", problems))
			continue
		}
		logger.Info("case passed", zap.String("case", c.Name))
	}

	logger.Info("backtest done", zap.Int("cases", len(cases)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(cases))
	}
	return nil
}

// process fetches one height and runs it through the engine.
func (p *pipeline) process(ctx context.Context, height uint64) (engine.BlockResult, error) {
	raw, err := p.client.FetchBlock(ctx, height)
	if err != nil {
		return engine.BlockResult{}, fmt.Errorf("fetch block %d: %w", height, err)
	}
	return p.engine.Process(ctx, raw)
}

// checkCase compares a wallet's summed records at one block with the expectation.
func checkCase(c config.BacktestCase, records []model.PnLRecord) []string {
	var problems []string
	native := new(big.Rat)
	reward := new(big.Rat)
	count := 0
	for _, r := range records {
		if r.Wallet != c.Wallet {
			continue
		}
		count++
		if v, ok := new(big.Rat).SetString(r.NativeDelta); ok {
			native.Add(native, v)
		}
		if r.BuilderReward != "" {
			if v, ok := new(big.Rat).SetString(r.BuilderReward); ok {
				reward.Add(reward, v)
			}
		}
	}

	if c.Records != nil && *c.Records != count {
		problems = append(problems, fmt.Sprintf("records: got %d want %d", count, *c.Records))
	}
	if c.NativeDelta != "" {
		problems = append(problems, compareDecimal("native delta", native, c.NativeDelta)...)
	}
	if c.BuilderReward != "" {
		problems = append(problems, compareDecimal("builder reward", reward, c.BuilderReward)...)
	}
	return problems
}

func compareDecimal(label string, got *big.Rat, want string) []string {
	expected, ok := new(big.Rat).SetString(want)
	if !ok {
		return []string{fmt.Sprintf("%s: bad expectation %q", label, want)}
	}
	if got.Cmp(expected) != 0 {
		return []string{fmt.Sprintf("%s: got %s want %s", label, got.FloatString(18), want)}
	}
	return nil
}
