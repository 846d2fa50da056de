package model

// AssetDelta is one non-native asset line of a PnL record.
type AssetDelta struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value,omitempty"`
	Priced bool   `json:"priced"`
}

// TxRef identifies a group member transaction.
type TxRef struct {
	Index   uint64 `json:"index"`
	Hash    string `json:"hash"`
	Success bool   `json:"success"`
}

// PnLRecord is the realized PnL of one wallet for one attribution group.
type PnLRecord struct {
	ID                   string       `json:"id"`
	Chain                string       `json:"chain"`
	Wallet               string       `json:"wallet"`
	Address              string       `json:"address"`
	BlockNumber          uint64       `json:"block_number"`
	BlockHash            string       `json:"block_hash"`
	Timestamp            uint64       `json:"timestamp"`
	GroupID              string       `json:"group_id"`
	Pattern              string       `json:"pattern"`
	Txs                  []TxRef      `json:"txs"`
	NativeDelta          string       `json:"native_delta"`
	TokenDeltas          []AssetDelta `json:"token_deltas,omitempty"`
	Total                string       `json:"total"`
	Unpriced             []string     `json:"unpriced,omitempty"`
	BuilderReward        string       `json:"builder_reward,omitempty"`
	BuilderIncome        string       `json:"builder_income,omitempty"`
	ProposerPayment      string       `json:"proposer_payment,omitempty"`
	IncompleteAccounting bool         `json:"incomplete_accounting,omitempty"`
	Untrusted            bool         `json:"untrusted,omitempty"`
}

// HasBuilderReward reports whether the wallet paid the producer in this group.
func (r PnLRecord) HasBuilderReward() bool {
	return r.BuilderReward != "" && r.BuilderReward != "0"
}
