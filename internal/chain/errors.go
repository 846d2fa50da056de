package chain

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"walletScope/internal/model"
)

const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInvalidRequest = -32600
	codeParseError     = -32700
	codeLimitExceeded  = -32005
)

var (
	ErrBlockNotFound   = errors.New("block not found")
	ErrIncompleteBlock = errors.New("incomplete block")
)

// Classify maps a fetch error for height onto the transient/fatal taxonomy.
// Context cancellation is returned unchanged.
func Classify(height uint64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var transient *model.RPCTransientError
	var fatal *model.RPCFatalError
	if errors.As(err, &transient) || errors.As(err, &fatal) {
		return err
	}
	if IsTransient(err) {
		return &model.RPCTransientError{Height: height, Err: err}
	}
	return &model.RPCFatalError{Height: height, Err: err}
}

// IsTransient reports whether retrying the same request may succeed.
func IsTransient(err error) bool {
	if errors.Is(err, ErrBlockNotFound) || errors.Is(err, ErrIncompleteBlock) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeMethodNotFound, codeInvalidParams, codeInvalidRequest, codeParseError:
			return false
		case codeLimitExceeded:
			return true
		}
		msg := strings.ToLower(rpcErr.Error())
		for _, permanent := range []string{"pruned", "missing trie node", "historical state", "not supported"} {
			if strings.Contains(msg, permanent) {
				return false
			}
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !isDecodeError(err)
}

func isDecodeError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cannot unmarshal") || strings.Contains(msg, "invalid character")
}
