package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// NativeDecimals is the decimals of the native asset and of its wrapped token.
const NativeDecimals = 18

// Quote is the price of one whole unit of an asset in the reference currency.
type Quote struct {
	Price    *big.Rat
	Decimals uint8
}

// Value converts a raw on-chain amount into reference units.
func (q Quote) Value(amount *big.Int) *big.Rat {
	if amount == nil || q.Price == nil {
		return new(big.Rat)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(q.Decimals)), nil)
	v := new(big.Rat).SetFrac(amount, denom)
	return v.Mul(v, q.Price)
}

// NativeQuote prices the native asset at exactly one reference unit.
func NativeQuote() Quote {
	return Quote{Price: big.NewRat(1, 1), Decimals: NativeDecimals}
}

// Source looks up the price of an asset at a block height.
// A missing price is reported as *model.PriceUnavailableError.
type Source interface {
	PriceOf(ctx context.Context, asset common.Address, height uint64) (Quote, error)
}

// StaticSource serves fixed prices from configuration.
type StaticSource struct {
	prices map[common.Address]Quote
}

func NewStaticSource(prices map[common.Address]Quote) *StaticSource {
	out := make(map[common.Address]Quote, len(prices)+1)
	for asset, q := range prices {
		out[asset] = q
	}
	if _, ok := out[model.NativeAsset]; !ok {
		out[model.NativeAsset] = NativeQuote()
	}
	return &StaticSource{prices: out}
}

func (s *StaticSource) PriceOf(_ context.Context, asset common.Address, height uint64) (Quote, error) {
	q, ok := s.prices[asset]
	if !ok {
		return Quote{}, &model.PriceUnavailableError{Asset: asset, Height: height, Reason: "no static price"}
	}
	return q, nil
}

// Multi asks each source in order and returns the first price found.
type Multi []Source

func (m Multi) PriceOf(ctx context.Context, asset common.Address, height uint64) (Quote, error) {
	var lastErr error
	for _, src := range m {
		q, err := src.PriceOf(ctx, asset, height)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &model.PriceUnavailableError{Asset: asset, Height: height, Reason: "no price source"}
	}
	return Quote{}, lastErr
}

// CachedSource memoizes prices for the most recent height only.
type CachedSource struct {
	inner Source

	mu     sync.Mutex
	height uint64
	quotes map[common.Address]Quote
	misses map[common.Address]error
}

func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{
		inner:  inner,
		quotes: make(map[common.Address]Quote),
		misses: make(map[common.Address]error),
	}
}

func (c *CachedSource) PriceOf(ctx context.Context, asset common.Address, height uint64) (Quote, error) {
	c.mu.Lock()
	if height != c.height {
		c.height = height
		c.quotes = make(map[common.Address]Quote)
		c.misses = make(map[common.Address]error)
	}
	if q, ok := c.quotes[asset]; ok {
		c.mu.Unlock()
		return q, nil
	}
	if err, ok := c.misses[asset]; ok {
		c.mu.Unlock()
		return Quote{}, err
	}
	c.mu.Unlock()

	q, err := c.inner.PriceOf(ctx, asset, height)

	c.mu.Lock()
	defer c.mu.Unlock()
	if height == c.height {
		var unavailable *model.PriceUnavailableError
		switch {
		case err == nil:
			c.quotes[asset] = q
		case errors.As(err, &unavailable):
			c.misses[asset] = err
		}
	}
	return q, err
}

// ParsePrice parses a decimal price such as "0.00031".
func ParsePrice(input string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(input)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", input)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("negative price %q", input)
	}
	return r, nil
}
