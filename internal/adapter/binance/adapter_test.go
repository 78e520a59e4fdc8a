package binance

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthsync/depthsync/internal/feed"
)

// captureQueue collects enqueued envelopes for assertions.
type captureQueue struct {
	envs []*feed.Envelope
}

func (c *captureQueue) Enqueue(env *feed.Envelope) { c.envs = append(c.envs, env) }

func newParseAdapter(q *captureQueue) *Adapter {
	return &Adapter{out: q, log: zerolog.Nop()}
}

func TestHandleDepthMessage(t *testing.T) {
	q := &captureQueue{}
	a := newParseAdapter(q)

	a.handleMessage([]byte(`{
		"stream": "btcusdt@depth20@100ms",
		"data": {
			"lastUpdateId": 160,
			"bids": [["99.00", "1"]],
			"asks": [["100.00", "0.5"], ["101.0", "2"]]
		}
	}`))

	require.Len(t, q.envs, 1)
	env := q.envs[0]
	assert.Equal(t, feed.ExchangeBinance, env.Exchange)
	assert.Equal(t, "BTCUSDT", env.Symbol)
	assert.Equal(t, feed.KindOrderBook, env.Kind)
	assert.Equal(t, feed.ActionDiff, env.Action)
	assert.Equal(t, int64(160), env.Sequence)

	require.NotNil(t, env.Book)
	require.Len(t, env.Book.Asks, 2)
	require.Len(t, env.Book.Bids, 1)
	assert.True(t, env.Book.Asks[0].Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, env.Book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
}

func TestHandleTradeMessage(t *testing.T) {
	q := &captureQueue{}
	a := newParseAdapter(q)

	// Buyer-is-maker: the taker sold.
	a.handleMessage([]byte(`{
		"stream": "btcusdt@trade",
		"data": {
			"e": "trade", "E": 1700000000050, "s": "BTCUSDT",
			"p": "100.5", "q": "0.25", "T": 1700000000000, "m": true
		}
	}`))

	require.Len(t, q.envs, 1)
	env := q.envs[0]
	assert.Equal(t, feed.KindTrade, env.Kind)
	assert.Equal(t, int64(1700000000000), env.Sequence)
	assert.Equal(t, int64(1700000000050), env.Timestamp)

	require.Len(t, env.Trades, 1)
	tr := env.Trades[0]
	assert.Equal(t, feed.Sell, tr.Side)
	assert.True(t, tr.Price.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, int64(1700000000000), tr.Timestamp)
}

func TestHandleTradeTakerBuy(t *testing.T) {
	q := &captureQueue{}
	a := newParseAdapter(q)

	a.handleMessage([]byte(`{
		"stream": "btcusdt@trade",
		"data": {"e": "trade", "E": 2, "s": "BTCUSDT", "p": "100", "q": "1", "T": 1, "m": false}
	}`))

	require.Len(t, q.envs, 1)
	assert.Equal(t, feed.Buy, q.envs[0].Trades[0].Side)
}

func TestHandleTickerMessage(t *testing.T) {
	q := &captureQueue{}
	a := newParseAdapter(q)

	a.handleMessage([]byte(`{
		"stream": "btcusdt@miniTicker",
		"data": {"e": "24hrMiniTicker", "E": 1700000000000, "s": "BTCUSDT", "c": "50000.1", "v": "1234.5"}
	}`))

	require.Len(t, q.envs, 1)
	env := q.envs[0]
	assert.Equal(t, feed.KindTicker, env.Kind)
	require.NotNil(t, env.Ticker)
	assert.True(t, env.Ticker.Last.Equal(decimal.RequireFromString("50000.1")))
	assert.True(t, env.Ticker.Volume.Equal(decimal.RequireFromString("1234.5")))
}

func TestHandleMessageIgnoresAcks(t *testing.T) {
	q := &captureQueue{}
	a := newParseAdapter(q)

	a.handleMessage([]byte(`{"result": null, "id": 1}`))
	a.handleMessage([]byte(`{"stream": "btcusdt@kline_1m", "data": {}}`))

	assert.Empty(t, q.envs)
}

func TestStreamURL(t *testing.T) {
	url := StreamURL("wss://stream.binance.com:9443", []string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t,
		"wss://stream.binance.com:9443/stream?streams=btcusdt@depth20@100ms/btcusdt@trade/btcusdt@miniTicker/ethusdt@depth20@100ms/ethusdt@trade/ethusdt@miniTicker",
		url)
}
