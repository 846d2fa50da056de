package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// Config holds extractor settings.
type Config struct {
	Rules        []TokenRule
	SelfDestruct SelfDestructPolicy
	Tolerance    *big.Int
}

// Extractor turns a normalized transaction into its balance delta ledger.
type Extractor struct {
	rules        *RuleSet
	selfDestruct SelfDestructPolicy
	tolerance    *big.Int
}

func NewExtractor(cfg Config) *Extractor {
	policy := cfg.SelfDestruct
	if policy == nil {
		policy = ObservedResidual{}
	}
	tolerance := cfg.Tolerance
	if tolerance == nil {
		tolerance = new(big.Int)
	}
	return &Extractor{
		rules:        NewRuleSet(cfg.Rules),
		selfDestruct: policy,
		tolerance:    tolerance,
	}
}

// ExtractBlock extracts every transaction of the block in index order.
// Accounting errors are returned alongside the ledgers, which are flagged untrusted.
func (e *Extractor) ExtractBlock(block *model.Block) ([]model.TxLedger, []error) {
	ledgers := make([]model.TxLedger, 0, len(block.Transactions))
	var errs []error
	for i := range block.Transactions {
		ledger, err := e.Extract(&block.Transactions[i])
		if err != nil {
			errs = append(errs, err)
		}
		ledgers = append(ledgers, ledger)
	}
	return ledgers, errs
}

// Extract walks the call tree and logs of tx. A non-nil error is always an
// *model.InconsistentAccountingError; the ledger is still returned.
func (e *Extractor) Extract(tx *model.Transaction) (model.TxLedger, error) {
	b := &ledgerBuilder{
		ledger: model.TxLedger{
			TxIndex:   tx.Index,
			TxHash:    tx.Hash,
			Sender:    tx.From,
			Target:    tx.To,
			Succeeded: tx.Succeeded(),
			GasCost:   tx.GasCost(),
		},
	}

	tx.Root.Walk(func(frame *model.CallFrame, _ int) bool {
		if frame.Reverted {
			return false
		}
		if !frame.Type.CarriesValue() {
			return true
		}
		if frame.Type == model.CallTypeSelfDestruct {
			amount, ok := e.selfDestruct.Residual(frame)
			if !ok {
				b.ledger.Incomplete = true
				return true
			}
			b.transfer(frame.From, frame.To, model.NativeAsset, amount, false)
			return true
		}
		b.transfer(frame.From, frame.To, model.NativeAsset, frame.Value, false)
		return true
	})

	if tx.Succeeded() {
		for _, log := range tx.Logs {
			transfer, ok := e.rules.Decode(log)
			if !ok {
				continue
			}
			b.transfer(transfer.From, transfer.To, transfer.Token, transfer.Amount, true)
		}
	}

	if b.ledger.GasCost.Sign() > 0 {
		b.gas(tx.From, b.ledger.GasCost)
	}

	if err := e.check(tx, &b.ledger); err != nil {
		b.ledger.Untrusted = true
		return b.ledger, err
	}
	return b.ledger, nil
}

// check validates a successful transaction's ledger. Every native delta is written as one
// side of a pair, so the conservation sum only fails when a ledger is edited afterwards;
// the value checks compare the ledger against the transaction itself.
func (e *Extractor) check(tx *model.Transaction, ledger *model.TxLedger) error {
	if !tx.Succeeded() {
		return nil
	}
	residual := CheckConservation(ledger)
	if new(big.Int).Abs(residual).Cmp(e.tolerance) > 0 {
		return &model.InconsistentAccountingError{
			TxIndex:  tx.Index,
			TxHash:   tx.Hash,
			Residual: residual,
			Detail:   "native deltas do not sum to zero",
		}
	}
	if tx.Root != nil && tx.Value != nil && tx.Root.Value.Cmp(tx.Value) != 0 {
		diff := new(big.Int).Sub(tx.Root.Value, tx.Value)
		if new(big.Int).Abs(diff).Cmp(e.tolerance) > 0 {
			return &model.InconsistentAccountingError{
				TxIndex:  tx.Index,
				TxHash:   tx.Hash,
				Residual: diff,
				Detail:   "root frame value differs from transaction value",
			}
		}
	}
	if debited, ok := senderDebit(tx, ledger); ok {
		diff := new(big.Int).Sub(tx.Value, debited)
		if new(big.Int).Abs(diff).Cmp(e.tolerance) > 0 {
			return &model.InconsistentAccountingError{
				TxIndex:  tx.Index,
				TxHash:   tx.Hash,
				Residual: diff,
				Detail:   "sender debit differs from transaction value",
			}
		}
	}
	return nil
}

// senderDebit returns what the top-level leg took from the sender. The root frame is walked
// first, so its transfer is leg 1.
func senderDebit(tx *model.Transaction, ledger *model.TxLedger) (*big.Int, bool) {
	if tx.Root == nil || tx.Root.Reverted || tx.Value == nil || tx.Value.Sign() == 0 {
		return nil, false
	}
	if tx.To != nil && *tx.To == tx.From {
		return nil, false
	}
	debited := new(big.Int)
	for _, d := range ledger.Deltas {
		if d.Leg == 1 && d.Kind == model.DeltaTransfer && d.IsNative() && d.Address == tx.From && d.Amount.Sign() < 0 {
			debited.Neg(d.Amount)
		}
	}
	return debited, true
}

// CheckConservation returns the sum of native deltas including the network sink.
// Extraction always yields zero; a nonzero sum means the ledger lost one side of a pair.
func CheckConservation(ledger *model.TxLedger) *big.Int {
	sum := new(big.Int)
	for _, d := range ledger.Deltas {
		if d.IsNative() {
			sum.Add(sum, d.Amount)
		}
	}
	return sum
}

type ledgerBuilder struct {
	ledger model.TxLedger
	leg    uint32
}

func (b *ledgerBuilder) transfer(from, to, asset common.Address, amount *big.Int, skipZeroAddress bool) {
	if amount == nil || amount.Sign() == 0 || from == to {
		return
	}
	b.leg++
	if !(skipZeroAddress && from == (common.Address{})) {
		b.ledger.Deltas = append(b.ledger.Deltas, model.BalanceDelta{
			Address:      from,
			Asset:        asset,
			Amount:       new(big.Int).Neg(amount),
			TxIndex:      b.ledger.TxIndex,
			Kind:         model.DeltaTransfer,
			Counterparty: to,
			Leg:          b.leg,
		})
	}
	if !(skipZeroAddress && to == (common.Address{})) {
		b.ledger.Deltas = append(b.ledger.Deltas, model.BalanceDelta{
			Address:      to,
			Asset:        asset,
			Amount:       new(big.Int).Set(amount),
			TxIndex:      b.ledger.TxIndex,
			Kind:         model.DeltaTransfer,
			Counterparty: from,
			Leg:          b.leg,
		})
	}
}

func (b *ledgerBuilder) gas(sender common.Address, cost *big.Int) {
	b.leg++
	b.ledger.Deltas = append(b.ledger.Deltas,
		model.BalanceDelta{
			Address: sender,
			Asset:   model.NativeAsset,
			Amount:  new(big.Int).Neg(cost),
			TxIndex: b.ledger.TxIndex,
			Kind:    model.DeltaGas,
			Leg:     b.leg,
		},
		model.BalanceDelta{
			Asset:        model.NativeAsset,
			Amount:       new(big.Int).Set(cost),
			TxIndex:      b.ledger.TxIndex,
			Kind:         model.DeltaNetworkSink,
			Counterparty: sender,
			Leg:          b.leg,
		},
	)
}
