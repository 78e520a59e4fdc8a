package publish

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthsync/depthsync/internal/feed"
)

// mockRedis records every HSET as a field map per key.
type mockRedis struct {
	mu     sync.Mutex
	writes []map[string]string
	keys   []string
}

func (m *mockRedis) HSet(_ context.Context, key string, values ...any) error {
	fields := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		fields[values[i].(string)] = values[i+1].(string)
	}
	m.mu.Lock()
	m.writes = append(m.writes, fields)
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return nil
}

func snapshotRec() *Record {
	return &Record{
		Exchange:  feed.ExchangeBinance,
		Symbol:    "BTCUSDT",
		Stream:    StreamSnapshot,
		Sequence:  1,
		Timestamp: 1000,
		Asks: []Delta{
			NewDelta(DeltaInsert, decimal.NewFromInt(100), decimal.NewFromInt(1)),
			NewDelta(DeltaInsert, decimal.NewFromInt(101), decimal.NewFromInt(2)),
		},
		Bids: []Delta{
			NewDelta(DeltaInsert, decimal.NewFromInt(99), decimal.NewFromInt(1)),
		},
	}
}

func TestRedisWriterSnapshotWritesTopOfBook(t *testing.T) {
	client := &mockRedis{}
	rw := NewRedisWriter(client, nil)

	rw.write(context.Background(), snapshotRec())

	require.Len(t, client.writes, 1)
	assert.Equal(t, "book:binance:BTCUSDT", client.keys[0])
	assert.Equal(t, "100", client.writes[0]["ask"])
	assert.Equal(t, "99", client.writes[0]["bid"])
	assert.Equal(t, "1000", client.writes[0]["ts"])
}

func TestRedisWriterDeduplicatesQuotes(t *testing.T) {
	client := &mockRedis{}
	rw := NewRedisWriter(client, nil)

	rw.write(context.Background(), snapshotRec())
	rw.write(context.Background(), snapshotRec())

	assert.Len(t, client.writes, 1, "identical quote must not be re-written")
}

func TestRedisWriterDiffImprovesTop(t *testing.T) {
	client := &mockRedis{}
	rw := NewRedisWriter(client, nil)
	rw.write(context.Background(), snapshotRec())

	diff := &Record{
		Exchange:  feed.ExchangeBinance,
		Symbol:    "BTCUSDT",
		Stream:    StreamDiffBooks,
		Sequence:  2,
		Timestamp: 2000,
		Asks:      []Delta{NewDelta(DeltaInsert, decimal.RequireFromString("99.5"), decimal.NewFromInt(1))},
	}
	rw.write(context.Background(), diff)

	require.Len(t, client.writes, 2)
	assert.Equal(t, "99.5", client.writes[1]["ask"])
	assert.Equal(t, "99", client.writes[1]["bid"])
}

func TestRedisWriterDeleteInvalidatesSide(t *testing.T) {
	client := &mockRedis{}
	rw := NewRedisWriter(client, nil)
	rw.write(context.Background(), snapshotRec())

	diff := &Record{
		Exchange: feed.ExchangeBinance,
		Symbol:   "BTCUSDT",
		Stream:   StreamDiffTrade,
		Sequence: 2,
		Asks:     []Delta{NewDelta(DeltaDelete, decimal.NewFromInt(100), decimal.NewFromInt(1))},
	}
	rw.write(context.Background(), diff)

	require.Len(t, client.writes, 2)
	assert.Equal(t, "0", client.writes[1]["ask"], "deleted top invalidates the side until the next anchor")
	assert.Equal(t, "99", client.writes[1]["bid"])
}

func TestRedisWriterIgnoresTickers(t *testing.T) {
	client := &mockRedis{}
	rw := NewRedisWriter(client, nil)

	rw.write(context.Background(), &Record{
		Exchange: feed.ExchangeBinance,
		Symbol:   "BTCUSDT",
		Stream:   StreamTicker,
		Ticker:   &Ticker{Last: decimal.NewFromInt(100)},
	})

	assert.Empty(t, client.writes)
}
