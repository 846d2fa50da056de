package ledger

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const tokenEventsABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "dst", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "wad", "type": "uint256"}
    ],
    "name": "Deposit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "src", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "wad", "type": "uint256"}
    ],
    "name": "Withdrawal",
    "type": "event"
  }
]`

var (
	tokenEventsABI     abi.ABI
	tokenEventsABIOnce sync.Once
	tokenEventsABIErr  error
)

// TokenEventsABI returns the parsed ERC20 Transfer and WETH9 Deposit/Withdrawal events.
func TokenEventsABI() (abi.ABI, error) {
	tokenEventsABIOnce.Do(func() {
		tokenEventsABI, tokenEventsABIErr = abi.JSON(strings.NewReader(tokenEventsABIJSON))
	})
	return tokenEventsABI, tokenEventsABIErr
}
