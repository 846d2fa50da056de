package model

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownDialect = errors.New("unknown trace dialect")
	ErrNoWallets      = errors.New("no wallets configured")
)

// MalformedTraceError marks one transaction whose trace could not be normalized.
type MalformedTraceError struct {
	TxIndex uint64
	TxHash  common.Hash
	Reason  string
}

func (e *MalformedTraceError) Error() string {
	return fmt.Sprintf("malformed trace tx %d (%s): %s", e.TxIndex, e.TxHash.Hex(), e.Reason)
}

// RPCTransientError is a retryable RPC failure for a height.
type RPCTransientError struct {
	Height uint64
	Err    error
}

func (e *RPCTransientError) Error() string {
	return fmt.Sprintf("rpc transient error at block %d: %v", e.Height, e.Err)
}

func (e *RPCTransientError) Unwrap() error { return e.Err }

// RPCFatalError is a permanent RPC failure for a height.
type RPCFatalError struct {
	Height uint64
	Err    error
}

func (e *RPCFatalError) Error() string {
	return fmt.Sprintf("rpc fatal error at block %d: %v", e.Height, e.Err)
}

func (e *RPCFatalError) Unwrap() error { return e.Err }

// PriceUnavailableError reports that no price exists for an asset at a height.
type PriceUnavailableError struct {
	Asset  common.Address
	Height uint64
	Reason string
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for %s at block %d: %s", e.Asset.Hex(), e.Height, e.Reason)
}

// InconsistentAccountingError reports a native conservation violation in a successful transaction.
type InconsistentAccountingError struct {
	TxIndex  uint64
	TxHash   common.Hash
	Residual *big.Int
	Detail   string
}

func (e *InconsistentAccountingError) Error() string {
	msg := fmt.Sprintf("inconsistent accounting tx %d (%s): residual %s", e.TxIndex, e.TxHash.Hex(), e.Residual)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
