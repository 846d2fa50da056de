package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"walletScope/internal/aggregate"
	"walletScope/internal/engine"
	"walletScope/internal/metrics"
	"walletScope/internal/model"
	"walletScope/internal/trace"
)

// Fetcher loads everything needed for one height.
type Fetcher interface {
	FetchBlock(ctx context.Context, height uint64) (*trace.RawBlock, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Processor turns a fetched block into records.
type Processor interface {
	Process(ctx context.Context, raw *trace.RawBlock) (engine.BlockResult, error)
}

// Dispatcher delivers the records of one block.
type Dispatcher interface {
	Dispatch(ctx context.Context, records []model.PnLRecord) error
}

// RunConfig holds runtime settings for one chain's stream.
type RunConfig struct {
	Chain string
	// StartBlock is used when no state was saved; zero means the current head.
	StartBlock uint64
	// StopBlock ends the run after this height; zero follows the head forever.
	StopBlock      uint64
	PrefetchWindow int
	MaxRetries     int
	RetryBackoff   time.Duration
	PollInterval   time.Duration
}

// Runner feeds blocks to the processor strictly in height order while fetching
// up to PrefetchWindow heights ahead.
type Runner struct {
	cfg        RunConfig
	fetcher    Fetcher
	processor  Processor
	dispatcher Dispatcher
	state      aggregate.StateStore
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies. state and dispatcher may be nil.
func NewRunner(cfg RunConfig, fetcher Fetcher, processor Processor, dispatcher Dispatcher, state aggregate.StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PrefetchWindow <= 0 {
		cfg.PrefetchWindow = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if state == nil {
		state = &aggregate.MemoryStateStore{}
	}
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		processor:  processor,
		dispatcher: dispatcher,
		state:      state,
		logger:     logger.With(zap.String("chain", cfg.Chain)),
	}
}

type fetchResult struct {
	height uint64
	raw    *trace.RawBlock
	err    error
}

// Run processes heights until ctx is cancelled or StopBlock is passed. A cancelled
// context stops new fetches at once; the block being processed is finished and
// delivered first. Failed heights are skipped, so only startup problems return an error.
func (r *Runner) Run(ctx context.Context) error {
	if r.fetcher == nil {
		return fmt.Errorf("fetcher is nil")
	}
	if r.processor == nil {
		return fmt.Errorf("processor is nil")
	}

	from, err := r.resumeHeight(ctx)
	if err != nil {
		return err
	}
	if r.cfg.StopBlock > 0 && from > r.cfg.StopBlock {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", r.cfg.StopBlock))
		return nil
	}
	r.logger.Info("stream starting", zap.Uint64("from", from), zap.Int("window", r.cfg.PrefetchWindow))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan fetchResult)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(results)
		r.stream(streamCtx, from, results)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stream stopped")
			return nil
		default:
		}

		var res fetchResult
		var ok bool
		select {
		case <-ctx.Done():
			r.logger.Info("stream stopped")
			return nil
		case res, ok = <-results:
		}
		if !ok {
			r.logger.Info("stream finished", zap.Uint64("stop", r.cfg.StopBlock))
			return nil
		}

		// Work for a block already in hand is not interrupted by shutdown.
		r.handle(context.WithoutCancel(ctx), res)
	}
}

func (r *Runner) resumeHeight(ctx context.Context) (uint64, error) {
	last, ok, err := r.state.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	if ok {
		r.logger.Info("resume from state", zap.Uint64("last_processed", last))
		return last + 1, nil
	}
	if r.cfg.StartBlock > 0 {
		return r.cfg.StartBlock, nil
	}
	var latest uint64
	err = withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, isRetryable, nil, func(ctx context.Context) error {
		var err error
		latest, err = r.fetcher.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	metrics.ChainHead.WithLabelValues(r.cfg.Chain).Set(float64(latest))
	return latest, nil
}

// stream keeps up to PrefetchWindow fetches in flight and emits their results in height order.
func (r *Runner) stream(ctx context.Context, from uint64, out chan<- fetchResult) {
	pending := make(map[uint64]chan fetchResult)
	next := from
	head := uint64(0)

	start := func(height uint64) {
		ch := make(chan fetchResult, 1)
		pending[height] = ch
		go func() {
			raw, err := r.fetchWithRetry(ctx, height)
			ch <- fetchResult{height: height, raw: raw, err: err}
		}()
	}

	fill := func() {
		for height := next + uint64(len(pending)); height <= head && len(pending) < r.cfg.PrefetchWindow; height++ {
			if r.cfg.StopBlock > 0 && height > r.cfg.StopBlock {
				return
			}
			if _, exists := pending[height]; !exists {
				start(height)
			}
		}
	}

	refresh := func() {
		latest, err := r.fetcher.LatestBlockNumber(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("head refresh failed", zap.Error(err))
			}
			return
		}
		if latest > head {
			head = latest
			metrics.ChainHead.WithLabelValues(r.cfg.Chain).Set(float64(head))
		}
	}

	refresh()
	fill()
	for {
		if ctx.Err() != nil {
			return
		}
		if r.cfg.StopBlock > 0 && next > r.cfg.StopBlock {
			return
		}

		ch, ok := pending[next]
		if !ok {
			timer := time.NewTimer(r.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			refresh()
			fill()
			continue
		}

		var res fetchResult
		select {
		case <-ctx.Done():
			return
		case res = <-ch:
		}
		delete(pending, next)
		if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
			return
		}

		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
		next++
		fill()
	}
}

func (r *Runner) fetchWithRetry(ctx context.Context, height uint64) (*trace.RawBlock, error) {
	var raw *trace.RawBlock
	onRetry := func(attempt int, err error) {
		metrics.RPCRetries.WithLabelValues(r.cfg.Chain).Inc()
		r.logger.Warn("block fetch failed", zap.Uint64("block", height), zap.Int("attempt", attempt), zap.Error(err))
	}
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, isRetryable, onRetry, func(ctx context.Context) error {
		var err error
		raw, err = r.fetcher.FetchBlock(ctx, height)
		return err
	})
	return raw, err
}

func (r *Runner) handle(ctx context.Context, res fetchResult) {
	defer r.checkpoint(ctx, res.height)

	if res.err != nil {
		r.skip(res.height, skipReason(res.err), res.err)
		return
	}

	result, err := r.processor.Process(ctx, res.raw)
	if err != nil {
		r.skip(res.height, "normalize", err)
		return
	}
	if r.dispatcher == nil || len(result.Records) == 0 {
		return
	}
	if err := r.dispatcher.Dispatch(ctx, result.Records); err != nil {
		r.logger.Warn("dispatch incomplete", zap.Uint64("block", res.height), zap.Error(err))
	}
}

func (r *Runner) skip(height uint64, reason string, err error) {
	metrics.HeightsSkipped.WithLabelValues(r.cfg.Chain, reason).Inc()
	fields := []zap.Field{zap.Uint64("block", height), zap.String("reason", reason), zap.Error(err)}
	if reason == "fatal" {
		r.logger.Error("height skipped", fields...)
		return
	}
	r.logger.Warn("height skipped", fields...)
}

func (r *Runner) checkpoint(ctx context.Context, height uint64) {
	metrics.LastBlock.WithLabelValues(r.cfg.Chain).Set(float64(height))
	if err := r.state.Save(ctx, height); err != nil {
		r.logger.Error("save state failed", zap.Uint64("block", height), zap.Error(err))
	}
}

func skipReason(err error) string {
	var fatal *model.RPCFatalError
	if errors.As(err, &fatal) {
		return "fatal"
	}
	return "transient"
}
