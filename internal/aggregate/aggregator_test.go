package aggregate

import (
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/attribution"
	"walletScope/internal/builder"
	"walletScope/internal/ledger"
	"walletScope/internal/model"
	"walletScope/internal/pricing"
)

var (
	walletW  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pool     = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenT   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	tokenU   = common.HexToAddress("0x5555555555555555555555555555555555555555")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	producer = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func call(from, to common.Address, value *big.Int, calls ...*model.CallFrame) *model.CallFrame {
	return &model.CallFrame{Type: model.CallTypeCall, From: from, To: to, Value: value, ValueKnown: true, Calls: calls}
}

func transferBlock() *model.Block {
	root := call(walletW, receiver, ether(1))
	return &model.Block{
		Chain:       "ethereum",
		Number:      100,
		Hash:        common.HexToHash("0xb100"),
		Timestamp:   1700000000,
		Beneficiary: producer,
		BaseFee:     big.NewInt(1_000_000_000),
		Transactions: []model.Transaction{{
			Index:             0,
			Hash:              common.HexToHash("0xf0"),
			From:              walletW,
			To:                &receiver,
			Value:             ether(1),
			GasUsed:           1_000_000,
			EffectiveGasPrice: big.NewInt(1_000_000_000),
			Status:            model.TxSuccess,
			Root:              root,
		}},
	}
}

type pipeline struct {
	extractor  *ledger.Extractor
	grouper    *attribution.Grouper
	isolator   *builder.Isolator
	aggregator *Aggregator
}

func newPipeline(t *testing.T, wallets ...model.Wallet) *pipeline {
	t.Helper()
	rules, err := ledger.DefaultRules(&weth)
	require.NoError(t, err)
	watch := attribution.NewWatchList(wallets)
	return &pipeline{
		extractor:  ledger.NewExtractor(ledger.Config{Rules: rules}),
		grouper:    attribution.NewGrouper(watch),
		isolator:   builder.NewIsolator(builder.StrictExceedsGas{}, watch, nil),
		aggregator: NewAggregator(Config{WrappedNative: &weth}, watch, nil),
	}
}

func (p *pipeline) run(t *testing.T, block *model.Block, quotes map[common.Address]pricing.Result) []model.PnLRecord {
	t.Helper()
	ledgers, errs := p.extractor.ExtractBlock(block)
	require.Empty(t, errs)
	grouping := p.grouper.Group(block, ledgers)
	payments, isolated := p.isolator.Isolate(block, ledgers)
	return p.aggregator.Aggregate(block, grouping, isolated, payments, quotes)
}

func TestAggregateSingleNativeTransfer(t *testing.T) {
	p := newPipeline(t, model.Wallet{Name: "w", Address: walletW})
	records := p.run(t, transferBlock(), nil)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "-1.001", r.NativeDelta)
	assert.Equal(t, "-1.001", r.Total)
	assert.Empty(t, r.TokenDeltas)
	assert.Empty(t, r.BuilderReward)
	assert.False(t, r.HasBuilderReward())
	assert.Equal(t, "100:0", r.GroupID)
	assert.Equal(t, "single", r.Pattern)
	assert.Equal(t, "ethereum:100:100:0:"+walletW.Hex(), r.ID)
	require.Len(t, r.Txs, 1)
	assert.True(t, r.Txs[0].Success)
}

func TestAggregateIsIdempotent(t *testing.T) {
	p := newPipeline(t, model.Wallet{Name: "w", Address: walletW})
	first, err := json.Marshal(p.run(t, transferBlock(), nil))
	require.NoError(t, err)
	second, err := json.Marshal(p.run(t, transferBlock(), nil))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	snap := p.aggregator.Totals().Snapshot()
	assert.Equal(t, 2, snap["w"].Records)
	assert.Equal(t, "-2.002", snap["w"].Total)

	p.aggregator.Totals().Reset()
	assert.Empty(t, p.aggregator.Totals().Snapshot())
}

func TestAggregateTokensPricedAndUnpriced(t *testing.T) {
	block := transferBlock()
	tx := &block.Transactions[0]
	tx.Value = new(big.Int)
	tx.Root = call(walletW, pool, new(big.Int))
	tx.To = &pool
	tx.Logs = []model.Log{
		transferLog(t, tokenT, pool, walletW, 3_000_000_000),
		transferLog(t, tokenU, walletW, pool, 5),
		transferLog(t, weth, walletW, pool, 1e17),
	}

	p := newPipeline(t, model.Wallet{Name: "w", Address: walletW})
	quotes := map[common.Address]pricing.Result{
		tokenT: {Quote: pricing.Quote{Price: big.NewRat(1, 2000), Decimals: 6}},
		tokenU: {Err: &model.PriceUnavailableError{Asset: tokenU, Height: 100, Reason: "none"}},
	}
	assert.Equal(t, []common.Address{tokenT, tokenU}, p.aggregator.AssetsToPrice(
		p.grouper.Group(block, mustExtract(t, p, block)), mustExtract(t, p, block)))

	records := p.run(t, block, quotes)
	require.Len(t, records, 1)
	r := records[0]

	// 0.1 WETH out merged into native, plus 0.001 gas
	assert.Equal(t, "-0.101", r.NativeDelta)
	require.Len(t, r.TokenDeltas, 2)
	assert.Equal(t, model.AssetDelta{Asset: tokenT.Hex(), Amount: "3000000000", Value: "1.5", Priced: true}, r.TokenDeltas[0])
	assert.Equal(t, model.AssetDelta{Asset: tokenU.Hex(), Amount: "-5"}, r.TokenDeltas[1])
	assert.Equal(t, []string{tokenU.Hex()}, r.Unpriced)
	assert.Equal(t, "1.399", r.Total)
}

func TestAggregateBuilderReward(t *testing.T) {
	block := transferBlock()
	tx := &block.Transactions[0]
	tx.Root = call(walletW, receiver, ether(1), call(receiver, producer, big.NewInt(5e15)))

	p := newPipeline(t, model.Wallet{Name: "w", Address: walletW, OtherAddresses: []common.Address{receiver}})
	records := p.run(t, block, nil)
	require.Len(t, records, 1)
	assert.Equal(t, "0.005", records[0].BuilderReward)
	assert.True(t, records[0].HasBuilderReward())
	assert.Equal(t, "-0.001", records[0].NativeDelta, "only gas stays in wallet PnL")
}

func TestAggregateProducerRecord(t *testing.T) {
	block := transferBlock()
	block.Transactions[0].EffectiveGasPrice = big.NewInt(3_000_000_000)

	p := newPipeline(t, model.Wallet{Name: "builder", Address: common.HexToAddress("0xbeef"), Builder: &producer})
	records := p.run(t, block, nil)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "producer", r.Pattern)
	assert.Equal(t, "100:producer", r.GroupID)
	assert.Equal(t, "0.002", r.BuilderIncome)
	assert.Equal(t, "1", r.ProposerPayment)
	assert.Equal(t, "0", r.NativeDelta)
	assert.Equal(t, "0.002", r.Total)
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	store := &FileStateStore{Path: filepath.Join(t.TempDir(), "state", "ethereum.json")}
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, 1234))
	height, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), height)
}

func TestPebbleStateStoreRoundTrip(t *testing.T) {
	store, err := OpenPebbleStateStore(t.TempDir(), "ethereum")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, 99))
	height, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(99), height)
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(-1_001_000_000_000_000_000), 18, "-1.001"},
		{big.NewInt(1_500_000), 6, "1.5"},
		{big.NewInt(0), 18, "0"},
		{big.NewInt(42), 0, "42"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.value, tc.decimals))
	}
}

func mustExtract(t *testing.T, p *pipeline, block *model.Block) []model.TxLedger {
	t.Helper()
	ledgers, errs := p.extractor.ExtractBlock(block)
	require.Empty(t, errs)
	return ledgers
}

func transferLog(t *testing.T, emitter, from, to common.Address, amount int64) model.Log {
	t.Helper()
	parsed, err := ledger.TokenEventsABI()
	require.NoError(t, err)
	data, err := parsed.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(amount))
	require.NoError(t, err)
	return model.Log{
		Address: emitter,
		Topics: []common.Hash{
			parsed.Events["Transfer"].ID,
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
		},
		Data: data,
	}
}
