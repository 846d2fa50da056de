package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/model"
	"walletScope/internal/token"
)

var (
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	pairA = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
)

type pairCaller struct {
	token0   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	blocks   []*big.Int
}

func (c *pairCaller) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return nil, err
	}
	method, err := pairABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	c.blocks = append(c.blocks, block)
	switch method.Name {
	case "token0":
		return method.Outputs.Pack(c.token0)
	case "getReserves":
		return method.Outputs.Pack(c.reserve0, c.reserve1, uint32(0))
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func TestQuoteValue(t *testing.T) {
	q := Quote{Price: big.NewRat(1, 2000), Decimals: 6}
	// 3000 USDC at 1/2000 native per token
	v := q.Value(big.NewInt(3_000_000_000))
	assert.Equal(t, "1.500000", v.FloatString(6))
}

func TestPairSourcePricesAgainstWrappedNative(t *testing.T) {
	// token0 = USDC: 2,000,000 USDC against 1,000 WETH -> 0.0005 WETH per USDC
	usdcReserve, _ := new(big.Int).SetString("2000000000000", 10)
	wethReserve, _ := new(big.Int).SetString("1000000000000000000000", 10)
	caller := &pairCaller{token0: usdc, reserve0: usdcReserve, reserve1: wethReserve}

	meta := token.NewMetaCache(nil, nil)
	meta.Set(usdc, model.TokenMeta{Address: usdc.Hex(), Decimals: 6, Symbol: "USDC"})

	src := NewPairSource(caller, weth, map[common.Address]common.Address{usdc: pairA}, meta)
	q, err := src.PriceOf(context.Background(), usdc, 17_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), q.Decimals)
	assert.Equal(t, 0, q.Price.Cmp(big.NewRat(1, 2000)), "price %s", q.Price.FloatString(8))

	last := caller.blocks[len(caller.blocks)-1]
	require.NotNil(t, last)
	assert.Equal(t, uint64(17_000_000), last.Uint64())
}

func TestPairSourceReversedOrder(t *testing.T) {
	usdcReserve, _ := new(big.Int).SetString("2000000000000", 10)
	wethReserve, _ := new(big.Int).SetString("1000000000000000000000", 10)
	caller := &pairCaller{token0: weth, reserve0: wethReserve, reserve1: usdcReserve}

	meta := token.NewMetaCache(nil, nil)
	meta.Set(usdc, model.TokenMeta{Decimals: 6})

	src := NewPairSource(caller, weth, map[common.Address]common.Address{usdc: pairA}, meta)
	q, err := src.PriceOf(context.Background(), usdc, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Price.Cmp(big.NewRat(1, 2000)))
}

func TestPairSourceUnknownToken(t *testing.T) {
	src := NewPairSource(&pairCaller{}, weth, nil, nil)
	_, err := src.PriceOf(context.Background(), usdc, 1)
	var pe *model.PriceUnavailableError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, usdc, pe.Asset)

	q, err := src.PriceOf(context.Background(), weth, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Price.Cmp(big.NewRat(1, 1)))
}

func TestMultiFallsThrough(t *testing.T) {
	static := NewStaticSource(map[common.Address]Quote{usdc: {Price: big.NewRat(1, 2000), Decimals: 6}})
	empty := NewStaticSource(nil)
	q, err := Multi{empty, static}.PriceOf(context.Background(), usdc, 5)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), q.Decimals)

	_, err = Multi{empty}.PriceOf(context.Background(), weth, 5)
	var pe *model.PriceUnavailableError
	assert.True(t, errors.As(err, &pe))
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) PriceOf(_ context.Context, asset common.Address, height uint64) (Quote, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Quote{}, s.err
	}
	return Quote{Price: big.NewRat(int64(height), 1), Decimals: 18}, nil
}

func TestCachedSourceResetsPerHeight(t *testing.T) {
	inner := &countingSource{}
	cached := NewCachedSource(inner)
	ctx := context.Background()

	_, err := cached.PriceOf(ctx, usdc, 10)
	require.NoError(t, err)
	_, err = cached.PriceOf(ctx, usdc, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	q, err := cached.PriceOf(ctx, usdc, 11)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, q.Price.Cmp(big.NewRat(11, 1)))
}

func TestResolverWrapsErrors(t *testing.T) {
	resolver, err := NewResolver(&countingSource{err: errors.New("rpc down")}, 2, nil)
	require.NoError(t, err)
	defer resolver.Close()

	results := resolver.Resolve(context.Background(), []common.Address{model.NativeAsset, usdc, weth, usdc}, 7)
	require.Len(t, results, 3)
	assert.True(t, results[model.NativeAsset].Priced())

	for _, asset := range []common.Address{usdc, weth} {
		res := results[asset]
		assert.False(t, res.Priced())
		var pe *model.PriceUnavailableError
		require.True(t, errors.As(res.Err, &pe))
		assert.Equal(t, uint64(7), pe.Height)
		assert.Contains(t, pe.Reason, "rpc down")
	}
}

func TestResolverConcurrentLookups(t *testing.T) {
	inner := &countingSource{}
	resolver, err := NewResolver(inner, 4, nil)
	require.NoError(t, err)
	defer resolver.Close()

	assets := make([]common.Address, 0, 20)
	for i := 1; i <= 20; i++ {
		assets = append(assets, common.BigToAddress(big.NewInt(int64(i))))
	}
	results := resolver.Resolve(context.Background(), assets, 3)
	assert.Len(t, results, 20)
	assert.Equal(t, int32(20), inner.calls.Load())
	for _, res := range results {
		assert.True(t, res.Priced())
	}
}
