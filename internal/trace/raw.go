package trace

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RawBlock is everything fetched for one height before normalization.
type RawBlock struct {
	Header   RawHeader
	Receipts []RawReceipt
	Traces   json.RawMessage
	Dialect  string
}

// RawHeader is the subset of eth_getBlockByNumber (full transactions) the engine reads.
type RawHeader struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Miner        common.Address `json:"miner"`
	BaseFee      *hexutil.Big   `json:"baseFeePerGas"`
	Transactions []RawTx        `json:"transactions"`
}

// RawTx is a transaction entry of a full block.
type RawTx struct {
	Hash  common.Hash     `json:"hash"`
	Index hexutil.Uint64  `json:"transactionIndex"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

// RawReceipt is an eth_getBlockReceipts entry.
type RawReceipt struct {
	TxHash            common.Hash     `json:"transactionHash"`
	TxIndex           hexutil.Uint64  `json:"transactionIndex"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	L1Fee             *hexutil.Big    `json:"l1Fee"`
	Status            hexutil.Uint64  `json:"status"`
	Logs              []RawLog        `json:"logs"`
}

// RawLog is a receipt log entry.
type RawLog struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	LogIndex hexutil.Uint64 `json:"logIndex"`
}
