package model

import "github.com/ethereum/go-ethereum/common"

// Wallet is a watched wallet with its display metadata.
type Wallet struct {
	Name             string
	Address          common.Address
	Builder          *common.Address
	OtherAddresses   []common.Address
	IncludeRecipient bool
	Chains           []string
}

// Addresses returns the wallet's own address, its builder and other addresses.
func (w Wallet) Addresses() []common.Address {
	out := make([]common.Address, 0, 2+len(w.OtherAddresses))
	out = append(out, w.Address)
	if w.Builder != nil {
		out = append(out, *w.Builder)
	}
	out = append(out, w.OtherAddresses...)
	return out
}

// AddressSet returns Addresses as a set.
func (w Wallet) AddressSet() map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, 2+len(w.OtherAddresses))
	for _, addr := range w.Addresses() {
		set[addr] = struct{}{}
	}
	return set
}

// WatchesChain reports whether the wallet is watched on chain. An empty list watches every chain.
func (w Wallet) WatchesChain(chain string) bool {
	if len(w.Chains) == 0 {
		return true
	}
	for _, c := range w.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

// IsBuilder reports whether the wallet's builder address is the given beneficiary.
func (w Wallet) IsBuilder(beneficiary common.Address) bool {
	return w.Builder != nil && *w.Builder == beneficiary
}
