package token

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	responses map[string][]byte
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	resp, ok := f.responses[fmt.Sprintf("%x", msg.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	return resp, nil
}

func packed(t *testing.T, method string, value interface{}, bytes32 bool) (string, []byte) {
	t.Helper()
	parsed, err := ERC20ABI()
	require.NoError(t, err)
	if bytes32 {
		parsed, err = ERC20Bytes32ABI()
		require.NoError(t, err)
	}
	out, err := parsed.Methods[method].Outputs.Pack(value)
	require.NoError(t, err)
	return fmt.Sprintf("%x", parsed.Methods[method].ID), out
}

func TestFetchMeta(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{}}
	for _, item := range []struct {
		method string
		value  interface{}
	}{
		{"decimals", uint8(6)},
		{"symbol", "USDC"},
		{"name", "USD Coin"},
	} {
		key, resp := packed(t, item.method, item.value, false)
		caller.responses[key] = resp
	}

	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	meta, err := FetchMeta(context.Background(), caller, token, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.Equal(t, "USDC", meta.Symbol)
	assert.Equal(t, "USD Coin", meta.Name)
}

func TestFetchMetaBytes32Symbol(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{}}
	key, resp := packed(t, "decimals", uint8(18), false)
	caller.responses[key] = resp

	var symbol [32]byte
	copy(symbol[:], "MKR")
	key, resp = packed(t, "symbol", symbol, true)
	caller.responses[key] = resp

	meta, err := FetchMeta(context.Background(), caller, common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"), nil)
	require.NoError(t, err)
	assert.Equal(t, "MKR", meta.Symbol)
}

func TestMetaCacheResolveCachesFailures(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{}}
	cache := NewMetaCache(caller, nil)
	token := common.HexToAddress("0x1234567890123456789012345678901234567890")

	meta := cache.Resolve(context.Background(), token)
	assert.Equal(t, uint8(18), meta.Decimals)
	assert.Equal(t, "0x1234..7890", meta.Symbol)

	calls := caller.calls
	cache.Resolve(context.Background(), token)
	assert.Equal(t, calls, caller.calls)
}
