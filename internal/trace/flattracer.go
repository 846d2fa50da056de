package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// FlatTracer decodes trace_block output: a flat list of frames addressed by traceAddress.
type FlatTracer struct{}

func (FlatTracer) Name() string { return DialectFlatTracer }

type flatAction struct {
	CallType       string          `json:"callType"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Value          json.RawMessage `json:"value"`
	Address        string          `json:"address"`
	RefundAddress  string          `json:"refundAddress"`
	Balance        json.RawMessage `json:"balance"`
	CreationMethod string          `json:"creationMethod"`
}

type flatResult struct {
	Address string `json:"address"`
}

type flatEntry struct {
	Action              flatAction   `json:"action"`
	Result              *flatResult  `json:"result"`
	Error               string       `json:"error"`
	Subtraces           int          `json:"subtraces"`
	TraceAddress        []int        `json:"traceAddress"`
	TransactionHash     *common.Hash `json:"transactionHash"`
	TransactionPosition *uint64      `json:"transactionPosition"`
	Type                string       `json:"type"`
}

type flatNode struct {
	frame     *model.CallFrame
	path      []int
	subtraces int
}

func (FlatTracer) Decode(payload json.RawMessage) ([]TxTrace, error) {
	if isNullPayload(payload) {
		return nil, nil
	}
	var entries []flatEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode flattracer payload: %w", err)
	}

	byTx := make(map[uint64][]flatEntry)
	hashes := make(map[uint64]common.Hash)
	order := make([]uint64, 0)
	for _, entry := range entries {
		if entry.TransactionPosition == nil {
			// block and uncle rewards
			continue
		}
		pos := *entry.TransactionPosition
		if _, ok := byTx[pos]; !ok {
			order = append(order, pos)
		}
		byTx[pos] = append(byTx[pos], entry)
		if entry.TransactionHash != nil {
			hashes[pos] = *entry.TransactionHash
		}
	}

	out := make([]TxTrace, 0, len(order))
	for _, pos := range order {
		item := TxTrace{TxHash: hashes[pos], Position: int(pos)}
		item.Root, item.Err = buildFlatTree(byTx[pos])
		out = append(out, item)
	}
	return out, nil
}

func buildFlatTree(entries []flatEntry) (*model.CallFrame, error) {
	nodes := make(map[string]*flatNode, len(entries))
	ordered := make([]*flatNode, 0, len(entries))
	for _, entry := range entries {
		frame, err := entry.toModel()
		if err != nil {
			return nil, err
		}
		key := pathKey(entry.TraceAddress)
		if _, dup := nodes[key]; dup {
			return nil, fmt.Errorf("duplicate trace address [%s]", key)
		}
		node := &flatNode{frame: frame, path: entry.TraceAddress, subtraces: entry.Subtraces}
		nodes[key] = node
		ordered = append(ordered, node)
	}

	var root *model.CallFrame
	childIndex := make(map[*model.CallFrame]int, len(entries))
	for _, node := range ordered {
		if len(node.path) == 0 {
			root = node.frame
			continue
		}
		parentKey := pathKey(node.path[:len(node.path)-1])
		parent, ok := nodes[parentKey]
		if !ok {
			return nil, fmt.Errorf("trace address [%s] references missing parent [%s]", pathKey(node.path), parentKey)
		}
		childIndex[node.frame] = node.path[len(node.path)-1]
		parent.frame.Calls = append(parent.frame.Calls, node.frame)
	}
	if root == nil {
		return nil, fmt.Errorf("no root frame")
	}

	for _, node := range ordered {
		calls := node.frame.Calls
		sort.SliceStable(calls, func(i, j int) bool {
			return childIndex[calls[i]] < childIndex[calls[j]]
		})
		if len(calls) != node.subtraces {
			return nil, fmt.Errorf("trace address [%s] declares %d subtraces, found %d", pathKey(node.path), node.subtraces, len(calls))
		}
	}
	return root, nil
}

func (e flatEntry) toModel() (*model.CallFrame, error) {
	frame := &model.CallFrame{Error: e.Error}

	var fromText, toText string
	valueRaw := e.Action.Value
	switch strings.ToLower(e.Type) {
	case "call":
		frame.Type = model.CallType(strings.ToUpper(e.Action.CallType))
		fromText, toText = e.Action.From, e.Action.To
	case "create":
		frame.Type = model.CallTypeCreate
		if strings.EqualFold(e.Action.CreationMethod, "create2") {
			frame.Type = model.CallTypeCreate2
		}
		fromText = e.Action.From
		if e.Result != nil {
			toText = e.Result.Address
		}
	case "suicide", "selfdestruct":
		frame.Type = model.CallTypeSelfDestruct
		fromText, toText = e.Action.Address, e.Action.RefundAddress
		valueRaw = e.Action.Balance
	default:
		return nil, fmt.Errorf("unsupported trace type %q", e.Type)
	}

	var err error
	if frame.From, err = parseAddress(fromText); err != nil {
		return nil, fmt.Errorf("frame from: %w", err)
	}
	if frame.To, err = parseAddress(toText); err != nil {
		return nil, fmt.Errorf("frame to: %w", err)
	}
	if frame.Value, frame.ValueKnown, err = parseQuantity(valueRaw); err != nil {
		return nil, err
	}
	return frame, nil
}

func pathKey(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
