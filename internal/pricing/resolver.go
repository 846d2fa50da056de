package pricing

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"walletScope/internal/model"
)

// Result is the outcome of one price lookup.
type Result struct {
	Quote Quote
	Err   error
}

// Priced reports whether a quote is available.
func (r Result) Priced() bool {
	return r.Err == nil && r.Quote.Price != nil
}

// Resolver runs the price lookups of one block on a bounded goroutine pool.
type Resolver struct {
	source Source
	pool   *ants.Pool
	logger *zap.Logger
}

func NewResolver(source Source, workers int, logger *zap.Logger) (*Resolver, error) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Resolver{source: source, pool: pool, logger: logger}, nil
}

// Close releases the worker pool.
func (r *Resolver) Close() {
	r.pool.Release()
}

// Resolve prices every asset at height. The native asset is always priced at one.
// Every failure is returned as *model.PriceUnavailableError.
func (r *Resolver) Resolve(ctx context.Context, assets []common.Address, height uint64) map[common.Address]Result {
	out := make(map[common.Address]Result, len(assets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	store := func(asset common.Address, res Result) {
		mu.Lock()
		out[asset] = res
		mu.Unlock()
	}

	seen := make(map[common.Address]struct{}, len(assets))
	for _, asset := range assets {
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		if asset == model.NativeAsset {
			store(asset, Result{Quote: NativeQuote()})
			continue
		}
		asset := asset
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			q, err := r.source.PriceOf(ctx, asset, height)
			store(asset, Result{Quote: q, Err: unavailable(asset, height, err)})
		})
		if err != nil {
			wg.Done()
			store(asset, Result{Err: unavailable(asset, height, err)})
		}
	}
	wg.Wait()

	for asset, res := range out {
		if res.Err != nil {
			r.logger.Debug("price unavailable", zap.String("asset", asset.Hex()), zap.Uint64("block", height), zap.Error(res.Err))
		}
	}
	return out
}

func unavailable(asset common.Address, height uint64, err error) error {
	if err == nil {
		return nil
	}
	var pe *model.PriceUnavailableError
	if errors.As(err, &pe) {
		return pe
	}
	return &model.PriceUnavailableError{Asset: asset, Height: height, Reason: err.Error()}
}
