package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"walletScope/internal/ledger"
	"walletScope/internal/model"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseTopic0 converts a topic0 hash, or an event signature such as
// "Transfer(address,address,uint256)", into common.Hash.
func ParseTopic0(topic0, signature string) (common.Hash, error) {
	topic0 = strings.TrimSpace(topic0)
	if topic0 == "" {
		signature = strings.ReplaceAll(signature, " ", "")
		if signature == "" {
			return common.Hash{}, fmt.Errorf("empty topic0")
		}
		return crypto.Keccak256Hash([]byte(signature)), nil
	}
	data, err := hexutil.Decode(topic0)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic0: %s", topic0)
	}
	if len(data) != 32 {
		return common.Hash{}, fmt.Errorf("invalid topic0 length: %s", topic0)
	}
	return common.BytesToHash(data), nil
}

// ParseAmount parses a non-negative decimal or 0x-prefixed integer.
func ParseAmount(input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		input = input[2:]
		base = 16
	}
	val, ok := new(big.Int).SetString(input, base)
	if !ok || val.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %s", input)
	}
	return val, nil
}

// BuildWallets converts wallet configs into model wallets.
func BuildWallets(items []WalletConfig) ([]model.Wallet, error) {
	if len(items) == 0 {
		return nil, model.ErrNoWallets
	}
	wallets := make([]model.Wallet, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		address, err := ParseAddress(item.Address)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		others, err := ParseAddresses(item.OtherAddresses)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		w := model.Wallet{
			Name:             item.Name,
			Address:          address,
			OtherAddresses:   others,
			IncludeRecipient: item.IncludeRecipient,
			Chains:           cleanStrings(item.Chains),
		}
		if w.Name == "" {
			w.Name = address.Hex()
		}
		if _, dup := seen[w.Name]; dup {
			return nil, fmt.Errorf("wallet %d: duplicate name %q", i, w.Name)
		}
		seen[w.Name] = struct{}{}
		if item.Builder != "" {
			builder, err := ParseAddress(item.Builder)
			if err != nil {
				return nil, fmt.Errorf("wallet %d builder: %w", i, err)
			}
			w.Builder = &builder
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// BuildTokenRules converts declarative rule configs into ledger rules.
func BuildTokenRules(items []TokenRuleConfig) ([]ledger.TokenRule, error) {
	rules := make([]ledger.TokenRule, 0, len(items))
	for i, item := range items {
		topic0, err := ParseTopic0(item.Topic0, item.Signature)
		if err != nil {
			return nil, fmt.Errorf("token rule %d: %w", i, err)
		}
		rule := ledger.TokenRule{
			Name:   item.Name,
			Topic0: topic0,
			Topics: item.Topics,
			From:   fieldRef(item.From),
			To:     fieldRef(item.To),
			Amount: fieldRef(item.Amount),
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i)
		}
		if len(item.Contracts) > 0 {
			contracts, err := ParseAddresses(item.Contracts)
			if err != nil {
				return nil, fmt.Errorf("token rule %s: %w", rule.Name, err)
			}
			rule.Contracts = make(map[common.Address]struct{}, len(contracts))
			for _, c := range contracts {
				rule.Contracts[c] = struct{}{}
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func fieldRef(ref FieldRefConfig) ledger.FieldRef {
	source := ledger.FieldSource(strings.TrimSpace(ref.Source))
	if source == "" {
		source = ledger.SourceNone
	}
	return ledger.FieldRef{Source: source, Index: ref.Index}
}
