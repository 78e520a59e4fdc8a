package publish

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop(), metrics.New())
}

func rec(exchange feed.Exchange, symbol string, stream StreamType) *Record {
	return &Record{Exchange: exchange, Symbol: symbol, Stream: stream, Sequence: 1}
}

func TestHubFilteredDelivery(t *testing.T) {
	h := newTestHub()

	btc := h.Subscribe(feed.ExchangeBinance, "BTCUSDT")
	eth := h.Subscribe(feed.ExchangeBinance, "ETHUSDT")

	require.NoError(t, h.Publish(context.Background(), rec(feed.ExchangeBinance, "BTCUSDT", StreamSnapshot)))

	select {
	case got := <-btc:
		assert.Equal(t, "BTCUSDT", got.Symbol)
	default:
		t.Fatal("expected delivery on matching subscription")
	}

	select {
	case <-eth:
		t.Fatal("record leaked to non-matching subscription")
	default:
	}
}

func TestHubFilterIncludesExchange(t *testing.T) {
	h := newTestHub()

	okx := h.Subscribe(feed.ExchangeOKX, "BTCUSDT")
	require.NoError(t, h.Publish(context.Background(), rec(feed.ExchangeBinance, "BTCUSDT", StreamSnapshot)))

	select {
	case <-okx:
		t.Fatal("record crossed exchanges despite matching symbol")
	default:
	}
}

func TestHubAllStreamSeesEverything(t *testing.T) {
	h := newTestHub()
	all := h.SubscribeAll()

	require.NoError(t, h.Publish(context.Background(), rec(feed.ExchangeBinance, "BTCUSDT", StreamSnapshot)))
	require.NoError(t, h.Publish(context.Background(), rec(feed.ExchangeOKX, "BTC-USDT", StreamDiffBooks)))

	assert.Len(t, all, 2)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := newTestHub()
	sub := h.Subscribe(feed.ExchangeBinance, "BTCUSDT")

	// Overflow the subscription buffer; Publish must never stall.
	for i := 0; i < cap(sub)+10; i++ {
		require.NoError(t, h.Publish(context.Background(), rec(feed.ExchangeBinance, "BTCUSDT", StreamDiffBooks)))
	}
	assert.Len(t, sub, cap(sub))
}

func TestTickerFanout(t *testing.T) {
	h := newTestHub()
	all := h.SubscribeAll()
	tf := NewTickerFanout(h)

	env := &feed.Envelope{
		Exchange:  feed.ExchangeOKX,
		Symbol:    "BTC-USDT",
		Kind:      feed.KindTicker,
		Sequence:  9,
		Timestamp: 9000,
		Ticker: &feed.TickerPayload{
			Last:   decimal.RequireFromString("50000.5"),
			Bid:    decimal.NewFromInt(50000),
			Ask:    decimal.NewFromInt(50001),
			Volume: decimal.NewFromInt(1234),
		},
	}
	require.NoError(t, tf.PublishTicker(context.Background(), env))

	got := <-all
	assert.Equal(t, StreamTicker, got.Stream)
	assert.Equal(t, int64(9), got.Sequence)
	require.NotNil(t, got.Ticker)
	assert.True(t, got.Ticker.Last.Equal(decimal.RequireFromString("50000.5")))
	assert.Nil(t, got.Asks)
	assert.Nil(t, got.Bids)
}
