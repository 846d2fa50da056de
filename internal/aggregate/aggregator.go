package aggregate

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"walletScope/internal/attribution"
	"walletScope/internal/builder"
	"walletScope/internal/model"
	"walletScope/internal/pricing"
)

// Config controls aggregation behavior.
type Config struct {
	// WrappedNative is merged into the native delta when set.
	WrappedNative *common.Address
}

// Aggregator turns attributed ledgers into PnL records and owns the running totals.
type Aggregator struct {
	cfg    Config
	watch  *attribution.WatchList
	totals *Totals
	logger *zap.Logger
}

func NewAggregator(cfg Config, watch *attribution.WatchList, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, watch: watch, totals: NewTotals(), logger: logger}
}

// Totals returns the running totals owned by this aggregator.
func (a *Aggregator) Totals() *Totals {
	return a.totals
}

// AssetsToPrice lists the non-native assets the watched wallets hold a delta in, sorted.
func (a *Aggregator) AssetsToPrice(grouping attribution.Grouping, ledgers []model.TxLedger) []common.Address {
	seen := make(map[common.Address]struct{})
	for pos := range ledgers {
		ledger := &ledgers[pos]
		for _, inv := range grouping.Involvement[ledger.TxIndex] {
			for asset := range ledger.NetByAsset(inv.Addresses) {
				if a.isNativeLike(asset) {
					continue
				}
				seen[asset] = struct{}{}
			}
		}
	}
	out := make([]common.Address, 0, len(seen))
	for asset := range seen {
		out = append(out, asset)
	}
	sortAddresses(out)
	return out
}

type walletSums struct {
	native     *big.Int
	tokens     map[common.Address]*big.Int
	incomplete bool
	untrusted  bool
}

// Aggregate emits one record per watched wallet per group, in group order then watch-list
// order, and adds them to the running totals. The records depend only on the inputs.
func (a *Aggregator) Aggregate(
	block *model.Block,
	grouping attribution.Grouping,
	ledgers []model.TxLedger,
	payments []model.BuilderPayment,
	quotes map[common.Address]pricing.Result,
) []model.PnLRecord {
	byIndex := make(map[uint64]*model.TxLedger, len(ledgers))
	for pos := range ledgers {
		byIndex[ledgers[pos].TxIndex] = &ledgers[pos]
	}

	var records []model.PnLRecord
	for _, group := range grouping.Groups {
		sums := make(map[int]*walletSums)
		get := func(wallet int) *walletSums {
			s, ok := sums[wallet]
			if !ok {
				s = &walletSums{native: new(big.Int), tokens: make(map[common.Address]*big.Int)}
				sums[wallet] = s
			}
			return s
		}

		for _, index := range group.Members {
			ledger, ok := byIndex[index]
			if !ok {
				continue
			}
			for _, inv := range grouping.Involvement[index] {
				s := get(inv.Wallet)
				s.incomplete = s.incomplete || ledger.Incomplete
				s.untrusted = s.untrusted || ledger.Untrusted
				for asset, amount := range ledger.NetByAsset(inv.Addresses) {
					if a.isNativeLike(asset) {
						s.native.Add(s.native, amount)
						continue
					}
					sum, ok := s.tokens[asset]
					if !ok {
						sum = new(big.Int)
						s.tokens[asset] = sum
					}
					sum.Add(sum, amount)
				}
			}
		}

		var producerIncome, proposerPayment *big.Int
		if group.Pattern == model.PatternProducer {
			producerIncome = builder.ProducerIncome(block)
			proposerPayment = builder.ProposerPayment(ledgers)
			for w := 0; w < a.watch.Len(); w++ {
				if a.watch.Wallet(w).IsBuilder(block.Beneficiary) {
					get(w)
				}
			}
		}

		wallets := make([]int, 0, len(sums))
		for w := range sums {
			wallets = append(wallets, w)
		}
		sort.Ints(wallets)

		for _, w := range wallets {
			wallet := a.watch.Wallet(w)
			record := a.record(block, group, wallet, sums[w], payments, quotes)
			if producerIncome != nil && wallet.IsBuilder(block.Beneficiary) {
				record.BuilderIncome = FormatNative(producerIncome)
				record.ProposerPayment = FormatNative(proposerPayment)
				total, _ := new(big.Rat).SetString(record.Total)
				total.Add(total, new(big.Rat).SetFrac(producerIncome, weiPerNative))
				record.Total = formatValue(total)
			}
			records = append(records, record)
		}
	}

	for _, r := range records {
		a.totals.Add(r)
	}
	return records
}

var weiPerNative = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func (a *Aggregator) record(
	block *model.Block,
	group model.AttributionGroup,
	wallet model.Wallet,
	sums *walletSums,
	payments []model.BuilderPayment,
	quotes map[common.Address]pricing.Result,
) model.PnLRecord {
	address := wallet.Address.Hex()
	record := model.PnLRecord{
		ID:                   RecordID(block.Chain, block.Number, group.ID, address),
		Chain:                block.Chain,
		Wallet:               wallet.Name,
		Address:              address,
		BlockNumber:          block.Number,
		BlockHash:            block.Hash.Hex(),
		Timestamp:            block.Timestamp,
		GroupID:              group.ID,
		Pattern:              string(group.Pattern),
		Txs:                  make([]model.TxRef, 0, len(group.Members)),
		NativeDelta:          FormatNative(sums.native),
		IncompleteAccounting: sums.incomplete,
		Untrusted:            sums.untrusted,
	}
	for _, index := range group.Members {
		ref := model.TxRef{Index: index}
		if tx, ok := block.Tx(index); ok {
			ref.Hash = tx.Hash.Hex()
			ref.Success = tx.Succeeded()
		}
		record.Txs = append(record.Txs, ref)
	}

	total := new(big.Rat).SetFrac(sums.native, weiPerNative)

	assets := make([]common.Address, 0, len(sums.tokens))
	for asset, amount := range sums.tokens {
		if amount.Sign() != 0 {
			assets = append(assets, asset)
		}
	}
	sortAddresses(assets)
	for _, asset := range assets {
		amount := sums.tokens[asset]
		line := model.AssetDelta{Asset: asset.Hex(), Amount: amount.String()}
		if res, ok := quotes[asset]; ok && res.Priced() {
			value := res.Quote.Value(amount)
			line.Value = formatValue(value)
			line.Priced = true
			total.Add(total, value)
		} else {
			record.Unpriced = append(record.Unpriced, asset.Hex())
		}
		record.TokenDeltas = append(record.TokenDeltas, line)
	}
	record.Total = formatValue(total)

	reward := new(big.Int)
	for _, p := range payments {
		if p.Wallet == wallet.Name && group.Contains(p.TxIndex) {
			reward.Add(reward, p.Amount)
		}
	}
	if reward.Sign() > 0 {
		record.BuilderReward = FormatNative(reward)
	}

	if len(record.Unpriced) > 0 {
		a.logger.Debug("record has unpriced assets",
			zap.String("wallet", wallet.Name),
			zap.Uint64("block", block.Number),
			zap.Strings("assets", record.Unpriced),
		)
	}
	return record
}

func (a *Aggregator) isNativeLike(asset common.Address) bool {
	if asset == model.NativeAsset {
		return true
	}
	return a.cfg.WrappedNative != nil && asset == *a.cfg.WrappedNative
}

// RecordID is the deterministic identity of a record.
func RecordID(chain string, height uint64, groupID string, address string) string {
	return fmt.Sprintf("%s:%d:%s:%s", chain, height, groupID, address)
}

func sortAddresses(items []common.Address) {
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].Bytes(), items[j].Bytes()) < 0
	})
}
