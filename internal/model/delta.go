package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the asset identifier of the chain's native coin.
var NativeAsset = common.Address{}

// DeltaKind classifies a balance delta.
type DeltaKind string

const (
	DeltaTransfer    DeltaKind = "transfer"
	DeltaGas         DeltaKind = "gas"
	DeltaNetworkSink DeltaKind = "network-sink"
)

// BalanceDelta is a signed balance change of one address for one asset in one transaction.
// The two legs of a transfer share the same Leg value.
type BalanceDelta struct {
	Address      common.Address
	Asset        common.Address
	Amount       *big.Int
	TxIndex      uint64
	Kind         DeltaKind
	Counterparty common.Address
	Leg          uint32
}

// IsNative reports whether the delta moves the native asset.
func (d BalanceDelta) IsNative() bool {
	return d.Asset == NativeAsset
}

// TxLedger is the flat delta ledger of one transaction.
type TxLedger struct {
	TxIndex    uint64
	TxHash     common.Hash
	Sender     common.Address
	Target     *common.Address
	Succeeded  bool
	GasCost    *big.Int
	Deltas     []BalanceDelta
	Incomplete bool
	Untrusted  bool
}

// Touches reports whether any delta is recorded for address.
func (l *TxLedger) Touches(address common.Address) bool {
	for _, d := range l.Deltas {
		if d.Kind == DeltaNetworkSink {
			continue
		}
		if d.Address == address {
			return true
		}
	}
	return false
}

// NetByAsset sums the deltas of the given addresses per asset.
func (l *TxLedger) NetByAsset(addresses map[common.Address]struct{}) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int)
	for _, d := range l.Deltas {
		if d.Kind == DeltaNetworkSink {
			continue
		}
		if _, ok := addresses[d.Address]; !ok {
			continue
		}
		sum, ok := out[d.Asset]
		if !ok {
			sum = new(big.Int)
			out[d.Asset] = sum
		}
		sum.Add(sum, d.Amount)
	}
	return out
}
