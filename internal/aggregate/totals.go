package aggregate

import (
	"math/big"
	"sync"

	"walletScope/internal/model"
)

// WalletTotal is the running total of one wallet since process start.
type WalletTotal struct {
	Records       int    `json:"records"`
	Total         string `json:"total"`
	BuilderReward string `json:"builder_reward"`
	Unpriced      int    `json:"unpriced"`
	LastBlock     uint64 `json:"last_block"`
}

type walletTotal struct {
	records   int
	total     *big.Rat
	reward    *big.Rat
	unpriced  int
	lastBlock uint64
}

// Totals holds per-wallet running totals. Only the Aggregator writes to it.
type Totals struct {
	mu   sync.RWMutex
	data map[string]*walletTotal
}

func NewTotals() *Totals {
	return &Totals{data: make(map[string]*walletTotal)}
}

// Add folds one record into its wallet's total.
func (t *Totals) Add(record model.PnLRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wt, ok := t.data[record.Wallet]
	if !ok {
		wt = &walletTotal{total: new(big.Rat), reward: new(big.Rat)}
		t.data[record.Wallet] = wt
	}
	wt.records++
	if v, ok := new(big.Rat).SetString(record.Total); ok {
		wt.total.Add(wt.total, v)
	}
	if record.BuilderReward != "" {
		if v, ok := new(big.Rat).SetString(record.BuilderReward); ok {
			wt.reward.Add(wt.reward, v)
		}
	}
	wt.unpriced += len(record.Unpriced)
	if record.BlockNumber > wt.lastBlock {
		wt.lastBlock = record.BlockNumber
	}
}

// Snapshot returns a read-only copy keyed by wallet name.
func (t *Totals) Snapshot() map[string]WalletTotal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]WalletTotal, len(t.data))
	for name, wt := range t.data {
		out[name] = WalletTotal{
			Records:       wt.records,
			Total:         formatValue(wt.total),
			BuilderReward: formatValue(wt.reward),
			Unpriced:      wt.unpriced,
			LastBlock:     wt.lastBlock,
		}
	}
	return out
}

// Reset clears every total.
func (t *Totals) Reset() {
	t.mu.Lock()
	t.data = make(map[string]*walletTotal)
	t.mu.Unlock()
}
