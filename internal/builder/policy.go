package builder

import (
	"fmt"
	"math/big"

	"walletScope/internal/model"
)

// Policy decides which of a transaction's explicit payments to the producer count as a
// builder reward. Only the part strictly above the threshold is isolated.
type Policy interface {
	Name() string
	// Threshold returns nil when the policy never isolates rewards.
	Threshold(tx *model.Transaction, block *model.Block) *big.Int
}

// StrictExceedsGas isolates every strictly positive explicit payment. The ledger books the
// gas cost at the network sink, never at the beneficiary, so the fee is not part of the
// producer credits and must not be subtracted from them again.
type StrictExceedsGas struct{}

func (StrictExceedsGas) Name() string { return "strict-gas" }

func (StrictExceedsGas) Threshold(*model.Transaction, *model.Block) *big.Int { return new(big.Int) }

// Disabled never isolates rewards.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Threshold(*model.Transaction, *model.Block) *big.Int { return nil }

// PolicyByName maps a configuration name to a policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "strict-gas":
		return StrictExceedsGas{}, nil
	case "disabled":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown builder policy %q", name)
	}
}

func priorityFee(tx *model.Transaction, baseFee *big.Int) *big.Int {
	tip := new(big.Int)
	if tx.EffectiveGasPrice == nil {
		return tip
	}
	tip.Set(tx.EffectiveGasPrice)
	if baseFee != nil {
		tip.Sub(tip, baseFee)
	}
	if tip.Sign() < 0 {
		tip.SetUint64(0)
	}
	return tip.Mul(tip, new(big.Int).SetUint64(tx.GasUsed))
}

// ProducerIncome sums the priority fees of every transaction in the block.
func ProducerIncome(block *model.Block) *big.Int {
	total := new(big.Int)
	for i := range block.Transactions {
		total.Add(total, priorityFee(&block.Transactions[i], block.BaseFee))
	}
	return total
}

// ProposerPayment returns the largest native credit in the block's last transaction,
// which is where builders pay the proposer.
func ProposerPayment(ledgers []model.TxLedger) *big.Int {
	best := new(big.Int)
	if len(ledgers) == 0 {
		return best
	}
	last := ledgers[len(ledgers)-1]
	for _, d := range last.Deltas {
		if d.Kind != model.DeltaTransfer || !d.IsNative() {
			continue
		}
		if d.Amount.Cmp(best) > 0 {
			best.Set(d.Amount)
		}
	}
	return best
}
