package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletScope/internal/model"
	"walletScope/internal/storage"
)

type staticTokens map[common.Address]model.TokenMeta

func (s staticTokens) Resolve(_ context.Context, token common.Address) model.TokenMeta {
	return s[token]
}

var usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

func sampleRecord() model.PnLRecord {
	return model.PnLRecord{
		ID:            "ethereum:100:100:3:0x1111111111111111111111111111111111111111",
		Chain:         "ethereum",
		Wallet:        "bot_1",
		Address:       "0x1111111111111111111111111111111111111111",
		BlockNumber:   100,
		GroupID:       "100:3",
		Pattern:       "multi",
		NativeDelta:   "-1.001",
		Total:         "0.499",
		BuilderReward: "0.01",
		TokenDeltas: []model.AssetDelta{
			{Asset: usdc.Hex(), Amount: "1500000", Value: "1.5", Priced: true},
		},
		Txs: []model.TxRef{
			{Index: 3, Hash: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Success: true},
			{Index: 12, Hash: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Success: false},
		},
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer(map[string]ChainInfo{
		"ethereum": {
			Symbol:   "ETH",
			Explorer: "https://etherscan.io",
			Tokens:   staticTokens{usdc: {Symbol: "USDC", Decimals: 6}},
		},
	})
	text := r.Render(context.Background(), sampleRecord())
	lines := strings.Split(strings.TrimSpace(text), "\n")

	assert.Equal(t, `[bot\_1](https://etherscan.io/address/0x1111111111111111111111111111111111111111) · \#ETHEREUM · [100](https://etherscan.io/block/100) \[B\]`, lines[0])
	assert.Equal(t, `ETH: *\-1\.001*`, lines[1])
	assert.Contains(t, lines[2], `[USDC](https://etherscan.io/token/`+usdc.Hex())
	assert.True(t, strings.HasSuffix(lines[2], `: 1\.5`), lines[2])
	assert.Equal(t, `Total: *0\.499 ETH*`, lines[3])
	assert.Equal(t, `Builder reward: 0\.01`, lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "\\[` 3`\\] ✓ ["), lines[5])
	assert.True(t, strings.HasPrefix(lines[6], "\\[`12`\\] ✗ ["), lines[6])
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\_b\*c\.d\-e\!`, Escape("a_b*c.d-e!"))
}

func TestTelegramSinkPosts(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "tkn", ChatID: "-100", ThreadID: 7, BaseURL: srv.URL}, NewRenderer(nil))
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), []model.PnLRecord{sampleRecord()}))

	assert.Equal(t, "/bottkn/sendMessage", path)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, 7, got.MessageThreadID)
	assert.Equal(t, "MarkdownV2", got.ParseMode)
	assert.Contains(t, got.Text, `\#ETHEREUM`)
}

func TestTelegramSinkReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"can't parse entities"}`))
	}))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "tkn", ChatID: "1", BaseURL: srv.URL}, NewRenderer(nil))
	require.NoError(t, err)
	err = sink.Send(context.Background(), []model.PnLRecord{sampleRecord()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't parse entities")
}

type recordingSink struct {
	name    string
	batches [][]model.PnLRecord
	err     error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, records []model.PnLRecord) error {
	s.batches = append(s.batches, records)
	return s.err
}

type memoryHistory struct {
	records []model.PnLRecord
}

func (m *memoryHistory) PutRecords(_ context.Context, records []model.PnLRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func TestDispatcherGroupsAndDedups(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("boom")}
	history := &memoryHistory{}
	d := NewDispatcher([]Sink{ok, failing}, []storage.HistoryStore{history}, storage.NewMemoryDeduper(), nil)

	records := []model.PnLRecord{
		{ID: "a", GroupID: "1:0", BlockNumber: 1},
		{ID: "b", GroupID: "1:0", BlockNumber: 1},
		{ID: "c", GroupID: "1:4", BlockNumber: 1},
	}
	err := d.Dispatch(context.Background(), records)
	require.Error(t, err)
	require.Len(t, ok.batches, 2)
	assert.Len(t, ok.batches[0], 2)
	assert.Len(t, ok.batches[1], 1)
	assert.Len(t, failing.batches, 2)
	assert.Len(t, history.records, 3)

	require.NoError(t, d.Dispatch(context.Background(), records))
	assert.Len(t, ok.batches, 2)
	assert.Len(t, history.records, 3)
}
