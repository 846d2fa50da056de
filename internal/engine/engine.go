package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"walletScope/internal/aggregate"
	"walletScope/internal/attribution"
	"walletScope/internal/builder"
	"walletScope/internal/ledger"
	"walletScope/internal/metrics"
	"walletScope/internal/model"
	"walletScope/internal/pricing"
	"walletScope/internal/trace"
)

// PriceResolver prices a set of assets at one height.
type PriceResolver interface {
	Resolve(ctx context.Context, assets []common.Address, height uint64) map[common.Address]pricing.Result
}

// Options configures an Engine for one chain.
type Options struct {
	Chain         string
	Wallets       []model.Wallet
	Rules         []ledger.TokenRule
	SelfDestruct  ledger.SelfDestructPolicy
	Tolerance     *big.Int
	BuilderPolicy builder.Policy
	WrappedNative *common.Address
	Prices        PriceResolver
	Logger        *zap.Logger
}

// BlockResult is everything the engine derived from one block.
type BlockResult struct {
	Block      *model.Block
	Records    []model.PnLRecord
	Payments   []model.BuilderPayment
	Malformed  []*model.MalformedTraceError
	Violations []*model.InconsistentAccountingError
}

// Engine runs the per-block pipeline. Process is not safe for concurrent use;
// blocks must be fed in height order.
type Engine struct {
	chain      string
	normalizer *trace.Normalizer
	extractor  *ledger.Extractor
	grouper    *attribution.Grouper
	isolator   *builder.Isolator
	aggregator *aggregate.Aggregator
	prices     PriceResolver
	logger     *zap.Logger
}

func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wallets := make([]model.Wallet, 0, len(opts.Wallets))
	for _, w := range opts.Wallets {
		if w.WatchesChain(opts.Chain) {
			wallets = append(wallets, w)
		}
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("chain %s: %w", opts.Chain, model.ErrNoWallets)
	}
	rules := opts.Rules
	if rules == nil {
		defaults, err := ledger.DefaultRules(opts.WrappedNative)
		if err != nil {
			return nil, err
		}
		rules = defaults
	}

	watch := attribution.NewWatchList(wallets)
	return &Engine{
		chain:      opts.Chain,
		normalizer: trace.NewNormalizer(),
		extractor: ledger.NewExtractor(ledger.Config{
			Rules:        rules,
			SelfDestruct: opts.SelfDestruct,
			Tolerance:    opts.Tolerance,
		}),
		grouper:    attribution.NewGrouper(watch),
		isolator:   builder.NewIsolator(opts.BuilderPolicy, watch, logger),
		aggregator: aggregate.NewAggregator(aggregate.Config{WrappedNative: opts.WrappedNative}, watch, logger),
		prices:     opts.Prices,
		logger:     logger,
	}, nil
}

// Totals exposes the running totals.
func (e *Engine) Totals() *aggregate.Totals {
	return e.aggregator.Totals()
}

// Process turns one fetched block into PnL records. Per-transaction problems are reported in
// the result; an error means the block as a whole could not be normalized.
func (e *Engine) Process(ctx context.Context, raw *trace.RawBlock) (BlockResult, error) {
	start := time.Now()

	block, malformed, err := e.normalizer.Normalize(e.chain, raw)
	if err != nil {
		return BlockResult{}, fmt.Errorf("normalize block: %w", err)
	}
	result := BlockResult{Block: block, Malformed: malformed}
	for _, m := range malformed {
		metrics.MalformedTraces.WithLabelValues(e.chain).Inc()
		e.logger.Warn("trace malformed",
			zap.String("chain", e.chain),
			zap.Uint64("block", block.Number),
			zap.Uint64("tx_index", m.TxIndex),
			zap.String("tx", m.TxHash.Hex()),
			zap.String("reason", m.Reason),
		)
	}

	ledgers, errs := e.extractor.ExtractBlock(block)
	for _, err := range errs {
		var accounting *model.InconsistentAccountingError
		if !errors.As(err, &accounting) {
			continue
		}
		result.Violations = append(result.Violations, accounting)
		metrics.AccountingViolations.WithLabelValues(e.chain).Inc()
		e.logger.Error("inconsistent accounting",
			zap.String("chain", e.chain),
			zap.Uint64("block", block.Number),
			zap.Uint64("tx_index", accounting.TxIndex),
			zap.String("tx", accounting.TxHash.Hex()),
			zap.String("residual", accounting.Residual.String()),
			zap.String("detail", accounting.Detail),
		)
	}

	grouping := e.grouper.Group(block, ledgers)
	payments, isolated := e.isolator.Isolate(block, ledgers)
	result.Payments = payments

	var quotes map[common.Address]pricing.Result
	if assets := e.aggregator.AssetsToPrice(grouping, isolated); len(assets) > 0 && e.prices != nil {
		quotes = e.prices.Resolve(ctx, assets, block.Number)
	}

	result.Records = e.aggregator.Aggregate(block, grouping, isolated, payments, quotes)
	for _, r := range result.Records {
		metrics.RecordsEmitted.WithLabelValues(e.chain, r.Wallet).Inc()
		if len(r.Unpriced) > 0 {
			metrics.UnpricedAssets.WithLabelValues(e.chain).Add(float64(len(r.Unpriced)))
		}
	}

	metrics.BlocksProcessed.WithLabelValues(e.chain).Inc()
	metrics.BlockDuration.WithLabelValues(e.chain).Observe(time.Since(start).Seconds())
	e.logger.Debug("block processed",
		zap.String("chain", e.chain),
		zap.Uint64("block", block.Number),
		zap.Int("txs", len(block.Transactions)),
		zap.Int("groups", len(grouping.Groups)),
		zap.Int("records", len(result.Records)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
