package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GroupPattern tags the shape of an attribution group.
type GroupPattern string

const (
	PatternSingle   GroupPattern = "single"
	PatternMulti    GroupPattern = "multi"
	PatternProducer GroupPattern = "producer"
)

// AttributionGroup is a set of transactions in one block linked by shared wallet exposure.
// Members are ascending transaction indices.
type AttributionGroup struct {
	ID      string
	Members []uint64
	Pattern GroupPattern
	Wallets []string
}

// Contains reports whether the transaction index belongs to the group.
func (g AttributionGroup) Contains(txIndex uint64) bool {
	for _, m := range g.Members {
		if m == txIndex {
			return true
		}
	}
	return false
}

// BuilderPayment is a transfer to the block producer beyond the ordinary gas cost.
type BuilderPayment struct {
	Wallet  string
	Amount  *big.Int
	Asset   common.Address
	From    common.Address
	TxIndex uint64
}
