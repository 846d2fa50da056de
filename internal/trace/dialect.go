package trace

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

const (
	DialectAuto       = "auto"
	DialectCallTracer = "calltracer"
	DialectFlatTracer = "flattracer"
)

// TxTrace is the decoded call tree of one transaction.
// TxHash is zero when the payload identifies transactions by position only.
type TxTrace struct {
	TxHash   common.Hash
	Position int
	Root     *model.CallFrame
	Err      error
}

// Dialect decodes one node implementation's block trace payload.
type Dialect interface {
	Name() string
	Decode(payload json.RawMessage) ([]TxTrace, error)
}

// DetectDialect guesses the dialect from the first entry of a payload.
func DetectDialect(payload json.RawMessage) (string, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return "", fmt.Errorf("detect dialect: %w", err)
	}
	if len(entries) == 0 {
		return DialectCallTracer, nil
	}
	first := entries[0]
	if _, ok := first["action"]; ok {
		return DialectFlatTracer, nil
	}
	if _, ok := first["traceAddress"]; ok {
		return DialectFlatTracer, nil
	}
	if _, ok := first["result"]; ok {
		return DialectCallTracer, nil
	}
	if _, ok := first["txHash"]; ok {
		return DialectCallTracer, nil
	}
	return "", model.ErrUnknownDialect
}

func isNullPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
