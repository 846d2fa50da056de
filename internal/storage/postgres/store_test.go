package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/model"
)

func TestUpsertBatch(t *testing.T) {
	records := []model.PnLRecord{
		{
			ID: "ethereum:10:10:0:0xabc", Chain: "ethereum", Wallet: "bot", Address: "0xabc",
			BlockNumber: 10, BlockHash: "0xb10", Timestamp: 1700000000, GroupID: "10:0", Pattern: "single",
			NativeDelta: "-1.001", Total: "-1.001", BuilderReward: "0.005",
		},
		{
			ID: "ethereum:10:10:1:0xdef", Chain: "ethereum", Wallet: "other", Address: "0xdef",
			BlockNumber: 10, GroupID: "10:1", Pattern: "multi", NativeDelta: "0", Total: "0", Untrusted: true,
		},
	}

	batch, err := upsertBatch(records)
	require.NoError(t, err)
	require.Len(t, batch.QueuedQueries, 2)

	first := batch.QueuedQueries[0]
	assert.Contains(t, first.SQL, "ON CONFLICT (id)")
	require.Len(t, first.Arguments, 17)
	assert.Equal(t, "ethereum:10:10:0:0xabc", first.Arguments[0])
	assert.Equal(t, int64(10), first.Arguments[4])
	assert.Equal(t, "-1.001", first.Arguments[9])

	reward, ok := first.Arguments[11].(*string)
	require.True(t, ok)
	require.NotNil(t, reward)
	assert.Equal(t, "0.005", *reward)
	assert.Nil(t, first.Arguments[12], "empty builder income is stored as NULL")

	var stored model.PnLRecord
	require.NoError(t, json.Unmarshal(first.Arguments[16].([]byte), &stored))
	assert.Equal(t, records[0].ID, stored.ID)

	second := batch.QueuedQueries[1]
	assert.Equal(t, true, second.Arguments[15])
}
