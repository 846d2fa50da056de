package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallType identifies the kind of a call frame.
type CallType string

const (
	CallTypeCall         CallType = "CALL"
	CallTypeCallCode     CallType = "CALLCODE"
	CallTypeDelegateCall CallType = "DELEGATECALL"
	CallTypeStaticCall   CallType = "STATICCALL"
	CallTypeCreate       CallType = "CREATE"
	CallTypeCreate2      CallType = "CREATE2"
	CallTypeSelfDestruct CallType = "SELFDESTRUCT"
)

// CarriesValue reports whether a frame of this type moves native value from caller to callee.
// CALLCODE runs foreign code in the caller's own context, so its value never leaves the caller.
func (t CallType) CarriesValue() bool {
	switch t {
	case CallTypeCall, CallTypeCreate, CallTypeCreate2, CallTypeSelfDestruct:
		return true
	default:
		return false
	}
}

// Known reports whether the call type is one of the canonical kinds.
func (t CallType) Known() bool {
	switch t {
	case CallTypeCall, CallTypeCallCode, CallTypeDelegateCall, CallTypeStaticCall,
		CallTypeCreate, CallTypeCreate2, CallTypeSelfDestruct:
		return true
	default:
		return false
	}
}

// CallFrame is one node of a transaction's execution tree.
type CallFrame struct {
	Type  CallType
	From  common.Address
	To    common.Address
	Value *big.Int
	// ValueKnown is false when the source omitted the value of a frame that can carry one.
	ValueKnown bool
	Reverted   bool
	Error      string
	Calls      []*CallFrame
}

// Walk visits the frame and its descendants depth-first in execution order.
// Returning false from fn skips the visited frame's children.
func (f *CallFrame) Walk(fn func(frame *CallFrame, depth int) bool) {
	if f == nil {
		return
	}
	f.walk(fn, 0)
}

func (f *CallFrame) walk(fn func(*CallFrame, int) bool, depth int) {
	if !fn(f, depth) {
		return
	}
	for _, child := range f.Calls {
		child.walk(fn, depth+1)
	}
}

// Log is a persisted event emitted by a contract.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	Index   uint64
}

// TxStatus is the receipt status of a transaction.
type TxStatus uint8

const (
	TxReverted TxStatus = 0
	TxSuccess  TxStatus = 1
)

// Transaction is a mined transaction with its normalized call tree.
type Transaction struct {
	Index             uint64
	Hash              common.Hash
	From              common.Address
	To                *common.Address
	Value             *big.Int
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	L1Fee             *big.Int
	Status            TxStatus
	Root              *CallFrame
	Logs              []Log
}

// GasCost returns gasUsed * effectiveGasPrice plus any L1 data fee.
func (tx *Transaction) GasCost() *big.Int {
	cost := new(big.Int).SetUint64(tx.GasUsed)
	if tx.EffectiveGasPrice != nil {
		cost.Mul(cost, tx.EffectiveGasPrice)
	} else {
		cost.SetUint64(0)
	}
	if tx.L1Fee != nil {
		cost.Add(cost, tx.L1Fee)
	}
	return cost
}

// Succeeded reports whether the receipt status is success.
func (tx *Transaction) Succeeded() bool {
	return tx.Status == TxSuccess
}

// Block is a fetched block with every transaction's trace materialized.
type Block struct {
	Chain        string
	Number       uint64
	Hash         common.Hash
	Timestamp    uint64
	Beneficiary  common.Address
	BaseFee      *big.Int
	Transactions []Transaction
}

// Tx returns the transaction with the given index.
func (b *Block) Tx(index uint64) (*Transaction, bool) {
	for i := range b.Transactions {
		if b.Transactions[i].Index == index {
			return &b.Transactions[i], true
		}
	}
	return nil, false
}
