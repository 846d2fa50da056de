package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pnl_records (
	id text PRIMARY KEY,
	chain text NOT NULL,
	wallet text NOT NULL,
	address text NOT NULL,
	block_number bigint NOT NULL,
	block_hash text NOT NULL,
	block_ts bigint NOT NULL,
	group_id text NOT NULL,
	pattern text NOT NULL,
	native_delta numeric NOT NULL,
	total numeric NOT NULL,
	builder_reward numeric,
	builder_income numeric,
	proposer_payment numeric,
	incomplete boolean NOT NULL DEFAULT false,
	untrusted boolean NOT NULL DEFAULT false,
	record jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pnl_records_wallet_block ON pnl_records (wallet, block_number);
CREATE TABLE IF NOT EXISTS watcher_state (
	name text PRIMARY KEY,
	last_processed_block bigint NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for PnL history and watcher state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutRecords upserts PnL records keyed by record id.
func (s *Store) PutRecords(ctx context.Context, records []model.PnLRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := upsertBatch(records)
	if err != nil {
		return err
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	return nil
}

func upsertBatch(records []model.PnLRecord) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
		}
		batch.Queue(`
			INSERT INTO pnl_records (
				id, chain, wallet, address, block_number, block_hash, block_ts, group_id, pattern,
				native_delta, total, builder_reward, builder_income, proposer_payment,
				incomplete, untrusted, record, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::text::numeric,$11::text::numeric,$12::text::numeric,
				$13::text::numeric,$14::text::numeric,$15,$16,$17,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				native_delta = EXCLUDED.native_delta,
				total = EXCLUDED.total,
				builder_reward = EXCLUDED.builder_reward,
				builder_income = EXCLUDED.builder_income,
				proposer_payment = EXCLUDED.proposer_payment,
				incomplete = EXCLUDED.incomplete,
				untrusted = EXCLUDED.untrusted,
				record = EXCLUDED.record,
				updated_at = now()
		`,
			r.ID,
			r.Chain,
			r.Wallet,
			r.Address,
			int64(r.BlockNumber),
			r.BlockHash,
			int64(r.Timestamp),
			r.GroupID,
			r.Pattern,
			r.NativeDelta,
			r.Total,
			nullable(r.BuilderReward),
			nullable(r.BuilderIncome),
			nullable(r.ProposerPayment),
			r.IncompleteAccounting,
			r.Untrusted,
			doc,
		)
	}
	return batch, nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var height int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM watcher_state WHERE name=$1`, name)
	if err := row.Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(height), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, height uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watcher_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(height))
	return err
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
