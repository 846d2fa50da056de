package attribution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// WatchList indexes the watched wallets of one chain.
type WatchList struct {
	wallets []model.Wallet
	sets    []map[common.Address]struct{}
}

// Involvement is one wallet's participation in one transaction.
type Involvement struct {
	Wallet    int
	Addresses map[common.Address]struct{}
}

func NewWatchList(wallets []model.Wallet) *WatchList {
	w := &WatchList{
		wallets: wallets,
		sets:    make([]map[common.Address]struct{}, len(wallets)),
	}
	for i, wallet := range wallets {
		w.sets[i] = wallet.AddressSet()
	}
	return w
}

func (w *WatchList) Wallets() []model.Wallet { return w.wallets }

func (w *WatchList) Wallet(i int) model.Wallet { return w.wallets[i] }

func (w *WatchList) Len() int { return len(w.wallets) }

// EffectiveAddresses returns the wallet's addresses for this transaction. With
// IncludeRecipient, the target of a transaction sent by the wallet counts as its own.
func (w *WatchList) EffectiveAddresses(i int, ledger *model.TxLedger) map[common.Address]struct{} {
	wallet := w.wallets[i]
	if !wallet.IncludeRecipient || ledger.Sender != wallet.Address || ledger.Target == nil {
		return w.sets[i]
	}
	set := make(map[common.Address]struct{}, len(w.sets[i])+1)
	for addr := range w.sets[i] {
		set[addr] = struct{}{}
	}
	set[*ledger.Target] = struct{}{}
	return set
}

// Involvement lists the wallets the transaction touches, in watch-list order.
func (w *WatchList) Involvement(ledger *model.TxLedger) []Involvement {
	var out []Involvement
	spam := -1
	for i := range w.wallets {
		addrs := w.EffectiveAddresses(i, ledger)
		_, isSender := addrs[ledger.Sender]
		touched := isSender
		if !touched {
			for _, d := range ledger.Deltas {
				if d.Kind == model.DeltaNetworkSink {
					continue
				}
				if _, ok := addrs[d.Address]; ok {
					touched = true
					break
				}
			}
		}
		if !touched {
			continue
		}
		if !isSender {
			if spam < 0 {
				spam = 0
				if isAirdropSpam(ledger) {
					spam = 1
				}
			}
			if spam == 1 {
				continue
			}
		}
		out = append(out, Involvement{Wallet: i, Addresses: addrs})
	}
	return out
}

// isAirdropSpam matches a single sender spraying one token to several accounts.
func isAirdropSpam(ledger *model.TxLedger) bool {
	type key struct {
		address common.Address
		asset   common.Address
	}
	net := make(map[key]*big.Int)
	order := make([]key, 0)
	for _, d := range ledger.Deltas {
		if d.Kind != model.DeltaTransfer {
			continue
		}
		k := key{address: d.Address, asset: d.Asset}
		sum, ok := net[k]
		if !ok {
			sum = new(big.Int)
			net[k] = sum
			order = append(order, k)
		}
		sum.Add(sum, d.Amount)
	}

	accounts := make(map[common.Address]struct{})
	var asset *common.Address
	senders := 0
	for _, k := range order {
		sum := net[k]
		if sum.Sign() == 0 {
			continue
		}
		if asset == nil {
			a := k.asset
			asset = &a
		} else if *asset != k.asset {
			return false
		}
		accounts[k.address] = struct{}{}
		if sum.Sign() < 0 {
			senders++
		}
	}
	if asset == nil || *asset == model.NativeAsset {
		return false
	}
	return len(accounts) >= 3 && senders == 1
}
