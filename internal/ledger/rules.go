package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// FieldSource says where a decoded field lives in a log.
type FieldSource string

const (
	SourceNone  FieldSource = "none"
	SourceTopic FieldSource = "topic"
	SourceData  FieldSource = "data"
)

// FieldRef addresses a topic or a 32-byte data word.
type FieldRef struct {
	Source FieldSource
	Index  int
}

// TokenRule maps an event signature to the positions of from, to and amount.
// A SourceNone from or to marks a mint or burn leg.
type TokenRule struct {
	Name      string
	Topic0    common.Hash
	Topics    int
	Contracts map[common.Address]struct{}
	From      FieldRef
	To        FieldRef
	Amount    FieldRef
}

// TokenTransfer is a decoded token movement.
type TokenTransfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Match decodes the log when it satisfies the rule.
func (r TokenRule) Match(log model.Log) (TokenTransfer, bool) {
	if len(log.Topics) == 0 || log.Topics[0] != r.Topic0 {
		return TokenTransfer{}, false
	}
	if r.Topics > 0 && len(log.Topics) != r.Topics {
		return TokenTransfer{}, false
	}
	if len(r.Contracts) > 0 {
		if _, ok := r.Contracts[log.Address]; !ok {
			return TokenTransfer{}, false
		}
	}

	from, ok := r.address(log, r.From)
	if !ok {
		return TokenTransfer{}, false
	}
	to, ok := r.address(log, r.To)
	if !ok {
		return TokenTransfer{}, false
	}
	if r.Amount.Source == SourceNone || r.Amount.Source == "" {
		return TokenTransfer{}, false
	}
	word, ok := fieldWord(log, r.Amount)
	if !ok {
		return TokenTransfer{}, false
	}

	return TokenTransfer{
		Token:  log.Address,
		From:   from,
		To:     to,
		Amount: new(big.Int).SetBytes(word),
	}, true
}

func (r TokenRule) address(log model.Log, ref FieldRef) (common.Address, bool) {
	if ref.Source == SourceNone || ref.Source == "" {
		return common.Address{}, true
	}
	word, ok := fieldWord(log, ref)
	if !ok {
		return common.Address{}, false
	}
	return common.BytesToAddress(word[12:]), true
}

func fieldWord(log model.Log, ref FieldRef) ([]byte, bool) {
	switch ref.Source {
	case SourceTopic:
		if ref.Index < 0 || ref.Index >= len(log.Topics) {
			return nil, false
		}
		return log.Topics[ref.Index].Bytes(), true
	case SourceData:
		start := ref.Index * 32
		if ref.Index < 0 || len(log.Data) < start+32 {
			return nil, false
		}
		return log.Data[start : start+32], true
	case SourceNone, "":
		return make([]byte, 32), true
	default:
		return nil, false
	}
}

// DefaultRules returns ERC20 Transfer and, when the wrapped native token is known,
// its Deposit and Withdrawal events.
func DefaultRules(wrappedNative *common.Address) ([]TokenRule, error) {
	parsed, err := TokenEventsABI()
	if err != nil {
		return nil, fmt.Errorf("parse token events abi: %w", err)
	}

	rules := []TokenRule{{
		Name:   "erc20-transfer",
		Topic0: parsed.Events["Transfer"].ID,
		Topics: 3,
		From:   FieldRef{Source: SourceTopic, Index: 1},
		To:     FieldRef{Source: SourceTopic, Index: 2},
		Amount: FieldRef{Source: SourceData, Index: 0},
	}}
	if wrappedNative == nil {
		return rules, nil
	}

	contracts := map[common.Address]struct{}{*wrappedNative: {}}
	rules = append(rules,
		TokenRule{
			Name:      "wrapped-deposit",
			Topic0:    parsed.Events["Deposit"].ID,
			Topics:    2,
			Contracts: contracts,
			From:      FieldRef{Source: SourceNone},
			To:        FieldRef{Source: SourceTopic, Index: 1},
			Amount:    FieldRef{Source: SourceData, Index: 0},
		},
		TokenRule{
			Name:      "wrapped-withdrawal",
			Topic0:    parsed.Events["Withdrawal"].ID,
			Topics:    2,
			Contracts: contracts,
			From:      FieldRef{Source: SourceTopic, Index: 1},
			To:        FieldRef{Source: SourceNone},
			Amount:    FieldRef{Source: SourceData, Index: 0},
		},
	)
	return rules, nil
}

// RuleSet indexes rules by topic0.
type RuleSet struct {
	byTopic map[common.Hash][]TokenRule
}

// NewRuleSet builds a RuleSet; later rules for the same topic0 are tried after earlier ones.
func NewRuleSet(rules []TokenRule) *RuleSet {
	set := &RuleSet{byTopic: make(map[common.Hash][]TokenRule)}
	for _, rule := range rules {
		set.byTopic[rule.Topic0] = append(set.byTopic[rule.Topic0], rule)
	}
	return set
}

// Decode returns the first rule match for log.
func (s *RuleSet) Decode(log model.Log) (TokenTransfer, bool) {
	if s == nil || len(log.Topics) == 0 {
		return TokenTransfer{}, false
	}
	for _, rule := range s.byTopic[log.Topics[0]] {
		if transfer, ok := rule.Match(log); ok {
			return transfer, true
		}
	}
	return TokenTransfer{}, false
}
