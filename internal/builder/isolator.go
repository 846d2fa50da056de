package builder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"walletScope/internal/attribution"
	"walletScope/internal/model"
)

// Isolator separates payments to the block producer from wallet PnL.
type Isolator struct {
	policy Policy
	watch  *attribution.WatchList
	logger *zap.Logger
}

func NewIsolator(policy Policy, watch *attribution.WatchList, logger *zap.Logger) *Isolator {
	if policy == nil {
		policy = StrictExceedsGas{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Isolator{policy: policy, watch: watch, logger: logger}
}

// Isolate returns the builder payments of the block and a copy of the ledgers with those
// amounts removed from both legs of the paying transfers.
func (i *Isolator) Isolate(block *model.Block, ledgers []model.TxLedger) ([]model.BuilderPayment, []model.TxLedger) {
	out := make([]model.TxLedger, len(ledgers))
	copy(out, ledgers)

	var payments []model.BuilderPayment
	for pos := range out {
		ledger := &out[pos]
		if !ledger.Succeeded {
			continue
		}
		wallet, ok := i.payingWallet(ledger, block.Beneficiary)
		if !ok {
			continue
		}
		tx, ok := block.Tx(ledger.TxIndex)
		if !ok {
			continue
		}
		threshold := i.policy.Threshold(tx, block)
		if threshold == nil {
			continue
		}

		// Gas sits on its own leg at the network sink, so paid holds explicit transfers only.
		paid := new(big.Int)
		for _, d := range ledger.Deltas {
			if isProducerCredit(d, block.Beneficiary) {
				paid.Add(paid, d.Amount)
			}
		}
		reward := new(big.Int).Sub(paid, threshold)
		if reward.Sign() <= 0 {
			continue
		}

		legs := removeReward(ledger, block.Beneficiary, reward)
		for _, l := range legs {
			payments = append(payments, model.BuilderPayment{
				Wallet:  wallet.Name,
				Amount:  l.amount,
				Asset:   model.NativeAsset,
				From:    l.from,
				TxIndex: ledger.TxIndex,
			})
		}
		i.logger.Debug("builder payment isolated",
			zap.Uint64("block", block.Number),
			zap.Uint64("tx_index", ledger.TxIndex),
			zap.String("wallet", wallet.Name),
			zap.String("reward", reward.String()),
			zap.String("gas_cost", ledger.GasCost.String()),
		)
	}
	return payments, out
}

func (i *Isolator) payingWallet(ledger *model.TxLedger, beneficiary common.Address) (model.Wallet, bool) {
	for w := 0; w < i.watch.Len(); w++ {
		addrs := i.watch.EffectiveAddresses(w, ledger)
		if _, ok := addrs[ledger.Sender]; !ok {
			continue
		}
		if _, own := addrs[beneficiary]; own {
			return model.Wallet{}, false
		}
		return i.watch.Wallet(w), true
	}
	return model.Wallet{}, false
}

func isProducerCredit(d model.BalanceDelta, beneficiary common.Address) bool {
	return d.Kind == model.DeltaTransfer && d.IsNative() && d.Address == beneficiary && d.Amount.Sign() > 0
}

type consumedLeg struct {
	from   common.Address
	amount *big.Int
}

// removeReward takes reward out of the producer credits, latest first, together with their
// paired debits. Deltas are replaced, never mutated in place.
func removeReward(ledger *model.TxLedger, beneficiary common.Address, reward *big.Int) []consumedLeg {
	deltas := make([]model.BalanceDelta, len(ledger.Deltas))
	copy(deltas, ledger.Deltas)

	remaining := new(big.Int).Set(reward)
	var consumed []consumedLeg
	for idx := len(deltas) - 1; idx >= 0 && remaining.Sign() > 0; idx-- {
		credit := deltas[idx]
		if !isProducerCredit(credit, beneficiary) {
			continue
		}
		take := new(big.Int).Set(credit.Amount)
		if take.Cmp(remaining) > 0 {
			take.Set(remaining)
		}
		credit.Amount = new(big.Int).Sub(credit.Amount, take)
		deltas[idx] = credit

		for j := range deltas {
			debit := deltas[j]
			if debit.Leg != credit.Leg || j == idx || debit.Address != credit.Counterparty {
				continue
			}
			debit.Amount = new(big.Int).Add(debit.Amount, take)
			deltas[j] = debit
			break
		}

		consumed = append([]consumedLeg{{from: credit.Counterparty, amount: take}}, consumed...)
		remaining.Sub(remaining, take)
	}

	ledger.Deltas = deltas
	return consumed
}
