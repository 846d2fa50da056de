package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"walletScope/internal/trace"
)

var callTracerConfig = map[string]interface{}{
	"tracer":       "callTracer",
	"tracerConfig": map[string]interface{}{"withLog": false},
}

// Client wraps go-ethereum RPC and fetches everything the engine needs for one height.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	dialect string
}

// NewClient creates a new chain client from the RPC URL. dialect selects the trace
// method; auto tries debug_traceBlockByNumber first and falls back to trace_block.
func NewClient(ctx context.Context, rpcURL string, dialect string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	if dialect == "" {
		dialect = trace.DialectAuto
	}
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		dialect:   dialect,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// Dialect reports the trace dialect in use, resolved after the first fetch in auto mode.
func (c *Client) Dialect() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dialect
}

func (c *Client) setDialect(dialect string) {
	c.mu.Lock()
	c.dialect = dialect
	c.mu.Unlock()
}

// FetchBlock loads the header with full transactions, all receipts and the block trace
// in one batch. Errors are classified as *model.RPCTransientError or *model.RPCFatalError.
func (c *Client) FetchBlock(ctx context.Context, height uint64) (*trace.RawBlock, error) {
	dialect := c.Dialect()
	number := hexutil.EncodeUint64(height)

	raw := &trace.RawBlock{}
	var header *trace.RawHeader
	var receipts []trace.RawReceipt

	batch := []rpc.BatchElem{
		{Method: "eth_getBlockByNumber", Args: []interface{}{number, true}, Result: &header},
		{Method: "eth_getBlockReceipts", Args: []interface{}{number}, Result: &receipts},
	}
	traceMethod := dialect
	if traceMethod == trace.DialectAuto {
		traceMethod = trace.DialectCallTracer
	}
	batch = append(batch, traceElem(traceMethod, number, &raw.Traces))

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, Classify(height, fmt.Errorf("batch fetch: %w", err))
	}
	for _, elem := range batch[:2] {
		if elem.Error != nil {
			return nil, Classify(height, fmt.Errorf("%s: %w", elem.Method, elem.Error))
		}
	}
	traceErr := batch[2].Error
	if traceErr != nil && dialect == trace.DialectAuto && isMethodNotFound(traceErr) {
		traceMethod = trace.DialectFlatTracer
		raw.Traces = nil
		elem := traceElem(traceMethod, number, &raw.Traces)
		traceErr = c.rpcClient.CallContext(ctx, elem.Result, elem.Method, elem.Args...)
	}
	if traceErr != nil {
		return nil, Classify(height, fmt.Errorf("%s: %w", batch[2].Method, traceErr))
	}
	if dialect == trace.DialectAuto {
		c.setDialect(traceMethod)
	}

	if header == nil {
		return nil, Classify(height, ErrBlockNotFound)
	}
	if len(receipts) != len(header.Transactions) {
		return nil, Classify(height, fmt.Errorf("%w: %d receipts for %d transactions", ErrIncompleteBlock, len(receipts), len(header.Transactions)))
	}

	raw.Header = *header
	raw.Receipts = receipts
	raw.Dialect = traceMethod
	return raw, nil
}

func traceElem(dialect string, number string, out *json.RawMessage) rpc.BatchElem {
	if dialect == trace.DialectFlatTracer {
		return rpc.BatchElem{Method: "trace_block", Args: []interface{}{number}, Result: out}
	}
	return rpc.BatchElem{Method: "debug_traceBlockByNumber", Args: []interface{}{number, callTracerConfig}, Result: out}
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeMethodNotFound
}
