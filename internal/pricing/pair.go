package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
	"walletScope/internal/token"
)

// PairSource prices tokens from Uniswap V2 style reserves against the wrapped native token,
// read with eth_call at the block being priced.
type PairSource struct {
	caller        token.Caller
	wrappedNative common.Address
	pairs         map[common.Address]common.Address
	meta          *token.MetaCache

	mu     sync.RWMutex
	token0 map[common.Address]common.Address
}

func NewPairSource(caller token.Caller, wrappedNative common.Address, pairs map[common.Address]common.Address, meta *token.MetaCache) *PairSource {
	return &PairSource{
		caller:        caller,
		wrappedNative: wrappedNative,
		pairs:         pairs,
		meta:          meta,
		token0:        make(map[common.Address]common.Address),
	}
}

func (p *PairSource) PriceOf(ctx context.Context, asset common.Address, height uint64) (Quote, error) {
	if asset == p.wrappedNative {
		return NativeQuote(), nil
	}
	pair, ok := p.pairs[asset]
	if !ok {
		return Quote{}, &model.PriceUnavailableError{Asset: asset, Height: height, Reason: "no pair configured"}
	}

	block := new(big.Int).SetUint64(height)
	token0, err := p.pairToken0(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	reserve0, reserve1, err := p.reserves(ctx, pair, block)
	if err != nil {
		return Quote{}, err
	}

	reserveAsset, reserveNative := reserve0, reserve1
	if token0 != asset {
		reserveAsset, reserveNative = reserve1, reserve0
	}
	if reserveAsset.Sign() == 0 || reserveNative.Sign() == 0 {
		return Quote{}, &model.PriceUnavailableError{Asset: asset, Height: height, Reason: "empty reserves"}
	}

	decimals := uint8(NativeDecimals)
	if p.meta != nil {
		decimals = p.meta.Resolve(ctx, asset).Decimals
	}

	// price per whole token = (reserveNative / 10^18) / (reserveAsset / 10^decimals)
	num := new(big.Int).Mul(reserveNative, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	den := new(big.Int).Mul(reserveAsset, new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals), nil))
	return Quote{Price: new(big.Rat).SetFrac(num, den), Decimals: decimals}, nil
}

func (p *PairSource) pairToken0(ctx context.Context, pair common.Address) (common.Address, error) {
	p.mu.RLock()
	t0, ok := p.token0[pair]
	p.mu.RUnlock()
	if ok {
		return t0, nil
	}

	values, err := p.call(ctx, pair, "token0", nil)
	if err != nil {
		return common.Address{}, err
	}
	t0, ok = values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("token0 unexpected type %T", values[0])
	}
	p.mu.Lock()
	p.token0[pair] = t0
	p.mu.Unlock()
	return t0, nil
}

func (p *PairSource) reserves(ctx context.Context, pair common.Address, block *big.Int) (*big.Int, *big.Int, error) {
	values, err := p.call(ctx, pair, "getReserves", block)
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("getReserves return size %d", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves unexpected types %T %T", values[0], values[1])
	}
	return r0, r1, nil
}

func (p *PairSource) call(ctx context.Context, pair common.Address, method string, block *big.Int) ([]interface{}, error) {
	if p.caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	pairABI, err := V2PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	data, err := pairABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := pairABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}
