package trace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// CallTracer decodes geth debug_traceBlockByNumber output produced by the callTracer.
type CallTracer struct{}

func (CallTracer) Name() string { return DialectCallTracer }

type callTracerEntry struct {
	TxHash common.Hash     `json:"txHash"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type callTracerFrame struct {
	Type         string            `json:"type"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	Value        json.RawMessage   `json:"value"`
	Error        string            `json:"error"`
	RevertReason string            `json:"revertReason"`
	Calls        []callTracerFrame `json:"calls"`
}

func (CallTracer) Decode(payload json.RawMessage) ([]TxTrace, error) {
	if isNullPayload(payload) {
		return nil, nil
	}
	var entries []callTracerEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode calltracer payload: %w", err)
	}

	out := make([]TxTrace, 0, len(entries))
	for i, entry := range entries {
		item := TxTrace{TxHash: entry.TxHash, Position: i}
		switch {
		case entry.Error != "":
			item.Err = fmt.Errorf("tracer error: %s", entry.Error)
		case isNullPayload(entry.Result):
			item.Err = fmt.Errorf("empty trace result")
		default:
			var frame callTracerFrame
			if err := json.Unmarshal(entry.Result, &frame); err != nil {
				item.Err = fmt.Errorf("decode frame: %w", err)
				break
			}
			root, err := frame.toModel()
			if err != nil {
				item.Err = err
				break
			}
			item.Root = root
		}
		out = append(out, item)
	}
	return out, nil
}

func (f callTracerFrame) toModel() (*model.CallFrame, error) {
	from, err := parseAddress(f.From)
	if err != nil {
		return nil, fmt.Errorf("frame from: %w", err)
	}
	to, err := parseAddress(f.To)
	if err != nil {
		return nil, fmt.Errorf("frame to: %w", err)
	}
	value, known, err := parseQuantity(f.Value)
	if err != nil {
		return nil, err
	}

	frame := &model.CallFrame{
		Type:       model.CallType(strings.ToUpper(f.Type)),
		From:       from,
		To:         to,
		Value:      value,
		ValueKnown: known,
		Error:      f.Error,
	}
	if frame.Error == "" && f.RevertReason != "" {
		frame.Error = "execution reverted: " + f.RevertReason
	}

	for _, child := range f.Calls {
		converted, err := child.toModel()
		if err != nil {
			return nil, err
		}
		frame.Calls = append(frame.Calls, converted)
	}
	return frame, nil
}
