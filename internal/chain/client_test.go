package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/model"
	"walletScope/internal/trace"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// fakeNode answers JSON-RPC calls from a method table; a missing method is -32601.
func fakeNode(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		answer := func(req rpcRequest) rpcResponse {
			resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
			if result, ok := results[req.Method]; ok {
				resp.Result = json.RawMessage(result)
			} else {
				resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method)}
			}
			return resp
		}

		w.Header().Set("Content-Type", "application/json")
		if len(body) > 0 && body[0] == '[' {
			var reqs []rpcRequest
			require.NoError(t, json.Unmarshal(body, &reqs))
			out := make([]rpcResponse, 0, len(reqs))
			for _, req := range reqs {
				out = append(out, answer(req))
			}
			require.NoError(t, json.NewEncoder(w).Encode(out))
			return
		}
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.NoError(t, json.NewEncoder(w).Encode(answer(req)))
	}))
}

const testHeader = `{
  "number": "0x10", "hash": "0x00000000000000000000000000000000000000000000000000000000000000aa",
  "timestamp": "0x64", "miner": "0x00000000000000000000000000000000000000b1", "baseFeePerGas": "0x1",
  "transactions": [{"hash": "0x00000000000000000000000000000000000000000000000000000000000000f1",
    "transactionIndex": "0x0", "from": "0x00000000000000000000000000000000000000a1",
    "to": "0x00000000000000000000000000000000000000c1", "value": "0x5"}]
}`

const testReceipts = `[{"transactionHash": "0x00000000000000000000000000000000000000000000000000000000000000f1",
  "transactionIndex": "0x0", "from": "0x00000000000000000000000000000000000000a1",
  "to": "0x00000000000000000000000000000000000000c1", "gasUsed": "0x5208",
  "effectiveGasPrice": "0x2", "status": "0x1", "logs": []}]`

func TestFetchBlockCallTracer(t *testing.T) {
	srv := fakeNode(t, map[string]string{
		"eth_getBlockByNumber":     testHeader,
		"eth_getBlockReceipts":     testReceipts,
		"debug_traceBlockByNumber": `[{"txHash": "0x00000000000000000000000000000000000000000000000000000000000000f1", "result": {"type": "CALL"}}]`,
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, trace.DialectAuto)
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.FetchBlock(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, trace.DialectCallTracer, raw.Dialect)
	assert.Equal(t, uint64(16), uint64(raw.Header.Number))
	require.Len(t, raw.Receipts, 1)
	assert.Equal(t, uint64(0x5208), uint64(raw.Receipts[0].GasUsed))
	assert.Equal(t, trace.DialectCallTracer, client.Dialect())
}

func TestFetchBlockFallsBackToFlatTraces(t *testing.T) {
	srv := fakeNode(t, map[string]string{
		"eth_getBlockByNumber": testHeader,
		"eth_getBlockReceipts": testReceipts,
		"trace_block":          `[{"action": {"callType": "call"}, "traceAddress": [], "subtraces": 0, "transactionPosition": 0}]`,
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, trace.DialectAuto)
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.FetchBlock(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, trace.DialectFlatTracer, raw.Dialect)
	assert.Equal(t, trace.DialectFlatTracer, client.Dialect())
}

func TestFetchBlockMissingIsTransient(t *testing.T) {
	srv := fakeNode(t, map[string]string{
		"eth_getBlockByNumber":     `null`,
		"eth_getBlockReceipts":     `null`,
		"debug_traceBlockByNumber": `[]`,
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, trace.DialectCallTracer)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.FetchBlock(context.Background(), 99)
	var transient *model.RPCTransientError
	require.True(t, errors.As(err, &transient), "got %v", err)
	assert.Equal(t, uint64(99), transient.Height)
}

func TestFetchBlockUnsupportedTracerIsFatal(t *testing.T) {
	srv := fakeNode(t, map[string]string{
		"eth_getBlockByNumber": testHeader,
		"eth_getBlockReceipts": testReceipts,
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, trace.DialectCallTracer)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.FetchBlock(context.Background(), 16)
	var fatal *model.RPCFatalError
	require.True(t, errors.As(err, &fatal), "got %v", err)
}

type codeErr struct {
	code int
	msg  string
}

func (e codeErr) Error() string  { return e.msg }
func (e codeErr) ErrorCode() int { return e.code }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", rpc.HTTPError{StatusCode: 429}, true},
		{"bad gateway", rpc.HTTPError{StatusCode: 502}, true},
		{"unauthorized", rpc.HTTPError{StatusCode: 401}, false},
		{"method not found", codeErr{-32601, "method not found"}, false},
		{"header not found", codeErr{-32000, "header not found"}, true},
		{"pruned state", codeErr{-32000, "required historical state unavailable"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"block not found", ErrBlockNotFound, true},
		{"decode", errors.New("json: cannot unmarshal string into Go value"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClassifyKeepsCancellation(t *testing.T) {
	assert.Equal(t, context.Canceled, Classify(1, context.Canceled))
	assert.Nil(t, Classify(1, nil))
}
