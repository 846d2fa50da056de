package storage

import (
	"context"

	"walletScope/internal/model"
)

// HistoryStore is a sink for emitted PnL records. Writes are idempotent on record id.
type HistoryStore interface {
	PutRecords(ctx context.Context, records []model.PnLRecord) error
}

// Deduper claims record ids so a record is delivered once across restarts.
type Deduper interface {
	// Claim returns true the first time an id is seen.
	Claim(ctx context.Context, id string) (bool, error)
}
