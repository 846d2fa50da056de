package trace

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// Normalizer turns a raw block payload into the canonical model.Block.
type Normalizer struct {
	dialects map[string]Dialect
}

// NewNormalizer registers the known dialects.
func NewNormalizer(extra ...Dialect) *Normalizer {
	n := &Normalizer{dialects: make(map[string]Dialect)}
	for _, d := range append([]Dialect{CallTracer{}, FlatTracer{}}, extra...) {
		n.dialects[d.Name()] = d
	}
	return n
}

// Dialect returns a registered dialect by name.
func (n *Normalizer) Dialect(name string) (Dialect, error) {
	d, ok := n.dialects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownDialect, name)
	}
	return d, nil
}

// Normalize builds the block. Transactions whose trace is unusable are left out and
// reported as MalformedTraceError; a non-nil error means the block as a whole is unusable.
func (n *Normalizer) Normalize(chain string, raw *RawBlock) (*model.Block, []*model.MalformedTraceError, error) {
	if raw == nil {
		return nil, nil, fmt.Errorf("raw block is nil")
	}

	dialectName := raw.Dialect
	if dialectName == "" || dialectName == DialectAuto {
		detected, err := DetectDialect(raw.Traces)
		if err != nil {
			return nil, nil, err
		}
		dialectName = detected
	}
	dialect, err := n.Dialect(dialectName)
	if err != nil {
		return nil, nil, err
	}
	traces, err := dialect.Decode(raw.Traces)
	if err != nil {
		return nil, nil, err
	}

	byHash := make(map[common.Hash]TxTrace, len(traces))
	byPosition := make(map[int]TxTrace, len(traces))
	for _, tr := range traces {
		if tr.TxHash != (common.Hash{}) {
			byHash[tr.TxHash] = tr
		}
		byPosition[tr.Position] = tr
	}
	receipts := make(map[common.Hash]RawReceipt, len(raw.Receipts))
	for _, r := range raw.Receipts {
		receipts[r.TxHash] = r
	}

	block := &model.Block{
		Chain:       chain,
		Number:      uint64(raw.Header.Number),
		Hash:        raw.Header.Hash,
		Timestamp:   uint64(raw.Header.Timestamp),
		Beneficiary: raw.Header.Miner,
	}
	if raw.Header.BaseFee != nil {
		block.BaseFee = raw.Header.BaseFee.ToInt()
	}

	txs := append([]RawTx(nil), raw.Header.Transactions...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Index < txs[j].Index })

	var malformed []*model.MalformedTraceError
	for _, rawTx := range txs {
		fail := func(format string, args ...interface{}) {
			malformed = append(malformed, &model.MalformedTraceError{
				TxIndex: uint64(rawTx.Index),
				TxHash:  rawTx.Hash,
				Reason:  fmt.Sprintf(format, args...),
			})
		}

		receipt, ok := receipts[rawTx.Hash]
		if !ok {
			fail("missing receipt")
			continue
		}
		tr, ok := byHash[rawTx.Hash]
		if !ok {
			tr, ok = byPosition[int(rawTx.Index)]
			if ok && tr.TxHash != (common.Hash{}) && tr.TxHash != rawTx.Hash {
				ok = false
			}
		}
		if !ok {
			fail("missing trace")
			continue
		}
		if tr.Err != nil {
			fail("%v", tr.Err)
			continue
		}
		if tr.Root == nil {
			fail("empty call tree")
			continue
		}

		tx := model.Transaction{
			Index:   uint64(rawTx.Index),
			Hash:    rawTx.Hash,
			From:    rawTx.From,
			To:      rawTx.To,
			Value:   new(big.Int),
			GasUsed: uint64(receipt.GasUsed),
			Status:  model.TxStatus(receipt.Status),
			Root:    tr.Root,
		}
		if rawTx.Value != nil {
			tx.Value = rawTx.Value.ToInt()
		}
		if receipt.EffectiveGasPrice != nil {
			tx.EffectiveGasPrice = receipt.EffectiveGasPrice.ToInt()
		} else {
			tx.EffectiveGasPrice = new(big.Int)
		}
		if receipt.L1Fee != nil {
			tx.L1Fee = receipt.L1Fee.ToInt()
		}

		if err := finalizeFrame(tx.Root, !tx.Succeeded()); err != nil {
			fail("%v", err)
			continue
		}
		if tx.Root.From != tx.From {
			fail("root caller %s does not match sender %s", tx.Root.From.Hex(), tx.From.Hex())
			continue
		}

		tx.Logs = make([]model.Log, 0, len(receipt.Logs))
		for _, l := range receipt.Logs {
			tx.Logs = append(tx.Logs, model.Log{
				Address: l.Address,
				Topics:  l.Topics,
				Data:    l.Data,
				Index:   uint64(l.LogIndex),
			})
		}
		sort.SliceStable(tx.Logs, func(i, j int) bool { return tx.Logs[i].Index < tx.Logs[j].Index })

		block.Transactions = append(block.Transactions, tx)
	}

	return block, malformed, nil
}

// finalizeFrame propagates revert status top-down and normalizes value fields.
func finalizeFrame(frame *model.CallFrame, parentReverted bool) error {
	if !frame.Type.Known() {
		return fmt.Errorf("unknown call type %q", frame.Type)
	}
	frame.Reverted = parentReverted || frame.Error != ""

	switch {
	case !frame.Type.CarriesValue():
		frame.Value = new(big.Int)
		frame.ValueKnown = true
	case frame.Value == nil && frame.Type == model.CallTypeSelfDestruct:
		frame.Value = new(big.Int)
		frame.ValueKnown = false
	case frame.Value == nil:
		frame.Value = new(big.Int)
		frame.ValueKnown = true
	}

	for _, child := range frame.Calls {
		if child == nil {
			return fmt.Errorf("nil child frame")
		}
		if err := finalizeFrame(child, frame.Reverted); err != nil {
			return err
		}
	}
	return nil
}
