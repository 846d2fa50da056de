package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// parseQuantity accepts a quoted hex or decimal string, or a bare JSON number.
// A missing or null value yields ok=false.
func parseQuantity(raw json.RawMessage) (*big.Int, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, false, fmt.Errorf("value %s: %w", raw, err)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, nil
	}

	base := 10
	digits := text
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		base = 16
		digits = text[2:]
		if digits == "" {
			return new(big.Int), true, nil
		}
	}
	val, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, false, fmt.Errorf("non-numeric value %q", text)
	}
	if val.Sign() < 0 {
		return nil, false, fmt.Errorf("negative value %q", text)
	}
	return val, true, nil
}

// parseAddress accepts an empty string as the zero address.
func parseAddress(text string) (common.Address, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(text) {
		return common.Address{}, fmt.Errorf("invalid address %q", text)
	}
	return common.HexToAddress(text), nil
}
