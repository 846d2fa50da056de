package trace

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/model"
)

var (
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	router = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pool   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	miner  = common.HexToAddress("0x9999999999999999999999999999999999999999")
	txHash = common.HexToHash("0xaa")
)

func rawBlock(traces string, dialect string, status uint64) *RawBlock {
	return &RawBlock{
		Header: RawHeader{
			Number:    100,
			Hash:      common.HexToHash("0xb1"),
			Timestamp: 1700000000,
			Miner:     miner,
			BaseFee:   (*hexutil.Big)(big.NewInt(10)),
			Transactions: []RawTx{{
				Hash:  txHash,
				Index: 0,
				From:  alice,
				To:    &router,
				Value: (*hexutil.Big)(big.NewInt(1000)),
			}},
		},
		Receipts: []RawReceipt{{
			TxHash:            txHash,
			From:              alice,
			To:                &router,
			GasUsed:           21000,
			EffectiveGasPrice: (*hexutil.Big)(big.NewInt(15)),
			Status:            hexutil.Uint64(status),
			Logs: []RawLog{
				{Address: pool, LogIndex: 5},
				{Address: router, LogIndex: 2},
			},
		}},
		Traces:  json.RawMessage(traces),
		Dialect: dialect,
	}
}

const callTracerPayload = `[{"txHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","result":{
  "type":"CALL","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"0x3e8",
  "calls":[
    {"type":"DELEGATECALL","from":"0x2222222222222222222222222222222222222222","to":"0x3333333333333333333333333333333333333333","value":"0x10"},
    {"type":"CALL","from":"0x2222222222222222222222222222222222222222","to":"0x3333333333333333333333333333333333333333","value":"0x5","error":"execution reverted",
      "calls":[{"type":"CALL","from":"0x3333333333333333333333333333333333333333","to":"0x1111111111111111111111111111111111111111","value":"0x1"}]},
    {"type":"SELFDESTRUCT","from":"0x3333333333333333333333333333333333333333","to":"0x1111111111111111111111111111111111111111"}
  ]}}]`

func TestNormalizeCallTracer(t *testing.T) {
	block, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(callTracerPayload, DialectCallTracer, 1))
	require.NoError(t, err)
	require.Empty(t, malformed)

	assert.Equal(t, uint64(100), block.Number)
	assert.Equal(t, miner, block.Beneficiary)
	assert.Equal(t, int64(10), block.BaseFee.Int64())
	require.Len(t, block.Transactions, 1)

	tx := block.Transactions[0]
	assert.Equal(t, int64(15*21000), tx.GasCost().Int64())
	assert.Equal(t, []uint64{2, 5}, []uint64{tx.Logs[0].Index, tx.Logs[1].Index})

	root := tx.Root
	assert.False(t, root.Reverted)
	assert.Equal(t, int64(1000), root.Value.Int64())
	require.Len(t, root.Calls, 3)

	delegate := root.Calls[0]
	assert.Equal(t, 0, delegate.Value.Sign(), "delegatecall value is zeroed")

	reverted := root.Calls[1]
	assert.True(t, reverted.Reverted)
	assert.True(t, reverted.Calls[0].Reverted, "revert propagates to descendants")

	selfDestruct := root.Calls[2]
	assert.False(t, selfDestruct.ValueKnown)
}

func TestNormalizeRevertedReceiptMarksWholeTree(t *testing.T) {
	block, _, err := NewNormalizer().Normalize("ethereum", rawBlock(callTracerPayload, DialectAuto, 0))
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)

	block.Transactions[0].Root.Walk(func(f *model.CallFrame, _ int) bool {
		assert.True(t, f.Reverted)
		return true
	})
}

func TestNormalizeNonNumericValueIsMalformed(t *testing.T) {
	payload := `[{"txHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","result":{
	  "type":"CALL","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"lots"}}]`

	block, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(payload, DialectCallTracer, 1))
	require.NoError(t, err)
	assert.Empty(t, block.Transactions)
	require.Len(t, malformed, 1)
	assert.Equal(t, txHash, malformed[0].TxHash)
	assert.Contains(t, malformed[0].Reason, "non-numeric")

	var target *model.MalformedTraceError
	assert.True(t, errors.As(error(malformed[0]), &target))
}

func TestNormalizeTracerErrorIsMalformed(t *testing.T) {
	payload := `[{"txHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","error":"execution timeout"}]`

	block, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(payload, DialectCallTracer, 1))
	require.NoError(t, err)
	assert.Empty(t, block.Transactions)
	require.Len(t, malformed, 1)
}

func TestNormalizeRootCallerMismatch(t *testing.T) {
	payload := `[{"result":{"type":"CALL","from":"0x3333333333333333333333333333333333333333","to":"0x2222222222222222222222222222222222222222","value":"0x0"}}]`

	_, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(payload, DialectCallTracer, 1))
	require.NoError(t, err)
	require.Len(t, malformed, 1)
	assert.Contains(t, malformed[0].Reason, "does not match sender")
}

const flatPayload = `[
  {"action":{"callType":"call","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"0x3e8"},
   "subtraces":2,"traceAddress":[],"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","transactionPosition":0,"type":"call"},
  {"action":{"address":"0x3333333333333333333333333333333333333333","refundAddress":"0x1111111111111111111111111111111111111111","balance":"0x7"},
   "subtraces":0,"traceAddress":[1],"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","transactionPosition":0,"type":"suicide"},
  {"action":{"from":"0x2222222222222222222222222222222222222222","value":"0x2","creationMethod":"create2"},"result":{"address":"0x3333333333333333333333333333333333333333"},
   "subtraces":0,"traceAddress":[0],"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa","transactionPosition":0,"type":"create"},
  {"action":{"author":"0x9999999999999999999999999999999999999999","value":"0x1"},"subtraces":0,"traceAddress":[],"type":"reward"}
]`

func TestNormalizeFlatTracer(t *testing.T) {
	block, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(flatPayload, DialectAuto, 1))
	require.NoError(t, err)
	require.Empty(t, malformed)
	require.Len(t, block.Transactions, 1)

	root := block.Transactions[0].Root
	require.Len(t, root.Calls, 2)
	assert.Equal(t, model.CallTypeCreate2, root.Calls[0].Type, "children ordered by trace address")
	assert.Equal(t, pool, root.Calls[0].To)
	assert.Equal(t, model.CallTypeSelfDestruct, root.Calls[1].Type)
	assert.True(t, root.Calls[1].ValueKnown)
	assert.Equal(t, int64(7), root.Calls[1].Value.Int64())
}

func TestNormalizeFlatTracerMissingParent(t *testing.T) {
	payload := `[
	  {"action":{"callType":"call","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"0x0"},
	   "subtraces":1,"traceAddress":[],"transactionPosition":0,"type":"call"},
	  {"action":{"callType":"call","from":"0x2222222222222222222222222222222222222222","to":"0x3333333333333333333333333333333333333333","value":"0x0"},
	   "subtraces":0,"traceAddress":[3,0],"transactionPosition":0,"type":"call"}
	]`

	block, malformed, err := NewNormalizer().Normalize("ethereum", rawBlock(payload, DialectFlatTracer, 1))
	require.NoError(t, err)
	assert.Empty(t, block.Transactions)
	require.Len(t, malformed, 1)
	assert.Contains(t, malformed[0].Reason, "missing parent")
}

func TestDetectDialect(t *testing.T) {
	name, err := DetectDialect(json.RawMessage(flatPayload))
	require.NoError(t, err)
	assert.Equal(t, DialectFlatTracer, name)

	name, err = DetectDialect(json.RawMessage(callTracerPayload))
	require.NoError(t, err)
	assert.Equal(t, DialectCallTracer, name)

	_, err = DetectDialect(json.RawMessage(`[{"foo":1}]`))
	assert.ErrorIs(t, err, model.ErrUnknownDialect)
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in    string
		want  int64
		known bool
		fail  bool
	}{
		{in: `"0x10"`, want: 16, known: true},
		{in: `"0x"`, want: 0, known: true},
		{in: `"42"`, want: 42, known: true},
		{in: `7`, want: 7, known: true},
		{in: `null`, known: false},
		{in: ``, known: false},
		{in: `"0xzz"`, fail: true},
		{in: `"-1"`, fail: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			v, known, err := parseQuantity(json.RawMessage(tc.in))
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.known, known)
			if tc.known {
				assert.Equal(t, tc.want, v.Int64())
			}
		})
	}
}
