package ledger

import (
	"fmt"
	"math/big"

	"walletScope/internal/model"
)

// SelfDestructPolicy decides the residual balance a self-destruct frame hands to its beneficiary.
// ok=false means the residual is unknown and the transaction is flagged as incomplete.
type SelfDestructPolicy interface {
	Residual(frame *model.CallFrame) (amount *big.Int, ok bool)
}

// ObservedResidual trusts the value reported by the trace when present.
type ObservedResidual struct{}

func (ObservedResidual) Residual(frame *model.CallFrame) (*big.Int, bool) {
	if !frame.ValueKnown || frame.Value == nil {
		return nil, false
	}
	return frame.Value, true
}

// FlagResidual never trusts reported residuals.
type FlagResidual struct{}

func (FlagResidual) Residual(*model.CallFrame) (*big.Int, bool) {
	return nil, false
}

// SelfDestructPolicyByName maps a configuration name to a policy.
func SelfDestructPolicyByName(name string) (SelfDestructPolicy, error) {
	switch name {
	case "", "observed":
		return ObservedResidual{}, nil
	case "flag":
		return FlagResidual{}, nil
	default:
		return nil, fmt.Errorf("unknown self-destruct policy %q", name)
	}
}
