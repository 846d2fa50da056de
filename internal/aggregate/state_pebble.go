package aggregate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStateStore keeps one watermark key per chain in a pebble database.
type PebbleStateStore struct {
	db  *pebble.DB
	key []byte
}

// OpenPebbleStateStore opens (or creates) the database at dir.
func OpenPebbleStateStore(dir string, chain string) (*PebbleStateStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStateStore{db: db, key: []byte("meta:last_block:" + chain)}, nil
}

func (s *PebbleStateStore) Load(ctx context.Context) (uint64, bool, error) {
	val, closer, err := s.db.Get(s.key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read watermark: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("watermark has %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func (s *PebbleStateStore) Save(ctx context.Context, height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	if err := s.db.Set(s.key, buf, pebble.Sync); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (s *PebbleStateStore) Close() error {
	return s.db.Close()
}
