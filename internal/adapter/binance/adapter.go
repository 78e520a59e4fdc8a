// Package binance normalizes Binance market data into feed envelopes. The
// WebSocket side consumes combined streams: partial-depth restatements
// (routed as full-depth diffs), raw trades, and mini tickers. The REST side
// polls deep depth snapshots as resync anchors.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/depthsync/depthsync/internal/adapter"
	"github.com/depthsync/depthsync/internal/feed"
)

// subscribeMsg is the Binance stream subscription command.
type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// rawDepth is a partial-depth payload: a full restatement of the top N
// levels, so anything absent is implied gone.
type rawDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// rawTrade is a trade-stream payload.
type rawTrade struct {
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// rawMiniTicker is a 24hr mini-ticker payload.
type rawMiniTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// Adapter bridges Binance combined streams to the ingestion queue.
type Adapter struct {
	ws    *adapter.WSClient
	out   feed.Enqueuer
	log   zerolog.Logger
	subID int

	symbols []string
}

// New creates an Adapter for the given symbols backed by the given
// WSClient. The caller must have already called ws.Connect; subscriptions
// are re-sent automatically after every reconnect.
func New(ws *adapter.WSClient, out feed.Enqueuer, symbols []string, log zerolog.Logger) *Adapter {
	a := &Adapter{
		ws:      ws,
		out:     out,
		log:     log.With().Str("component", "adapter").Str("exchange", "binance").Logger(),
		symbols: symbols,
	}
	ws.OnReconnect(a.Subscribe)
	return a
}

// Subscribe sends depth, trade, and mini-ticker subscriptions for every
// configured symbol.
func (a *Adapter) Subscribe() {
	params := make([]string, 0, len(a.symbols)*3)
	for _, s := range a.symbols {
		ls := strings.ToLower(s)
		params = append(params,
			ls+"@depth20@100ms",
			ls+"@trade",
			ls+"@miniTicker",
		)
	}
	a.subID++
	msg, _ := json.Marshal(subscribeMsg{Method: "SUBSCRIBE", Params: params, ID: a.subID})
	a.ws.Send(msg)
}

// Run reads from the WSClient fan-out, normalizes messages, and enqueues
// envelopes. It blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	sub := a.ws.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub:
			if !ok {
				return nil
			}
			a.handleMessage(raw)
		}
	}
}

// handleMessage routes a combined-stream frame by its stream suffix.
// Subscription acks and unknown streams are ignored.
func (a *Adapter) handleMessage(raw []byte) {
	stream := gjson.GetBytes(raw, "stream").String()
	if stream == "" {
		return
	}
	data := gjson.GetBytes(raw, "data")

	switch {
	case strings.Contains(stream, "@depth"):
		a.handleDepth(stream, []byte(data.Raw))
	case strings.HasSuffix(stream, "@trade"):
		a.handleTrade([]byte(data.Raw))
	case strings.HasSuffix(stream, "@miniTicker"):
		a.handleTicker([]byte(data.Raw))
	}
}

func (a *Adapter) handleDepth(stream string, raw []byte) {
	var d rawDepth
	if err := json.Unmarshal(raw, &d); err != nil {
		a.log.Warn().Err(err).Msg("failed to parse depth payload")
		return
	}

	// Partial-depth payloads carry no symbol; it lives in the stream name.
	symbol := strings.ToUpper(strings.SplitN(stream, "@", 2)[0])

	book := &feed.BookPayload{
		Asks: parseLevels(d.Asks),
		Bids: parseLevels(d.Bids),
	}

	a.out.Enqueue(&feed.Envelope{
		Exchange:  feed.ExchangeBinance,
		Symbol:    symbol,
		Kind:      feed.KindOrderBook,
		Action:    feed.ActionDiff,
		Sequence:  d.LastUpdateID,
		Timestamp: time.Now().UnixMilli(),
		Book:      book,
	})
}

func (a *Adapter) handleTrade(raw []byte) {
	var t rawTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		a.log.Warn().Err(err).Msg("failed to parse trade payload")
		return
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return
	}

	// Buyer-is-maker means the taker sold into resting bids.
	side := feed.Buy
	if t.BuyerIsMaker {
		side = feed.Sell
	}

	a.out.Enqueue(&feed.Envelope{
		Exchange:  feed.ExchangeBinance,
		Symbol:    t.Symbol,
		Kind:      feed.KindTrade,
		Sequence:  t.TradeTime,
		Timestamp: t.EventTime,
		Trades: []feed.Trade{{
			Price:     price,
			Quantity:  qty,
			Side:      side,
			Timestamp: t.TradeTime,
		}},
	})
}

func (a *Adapter) handleTicker(raw []byte) {
	var mt rawMiniTicker
	if err := json.Unmarshal(raw, &mt); err != nil {
		a.log.Warn().Err(err).Msg("failed to parse ticker payload")
		return
	}

	last, err := decimal.NewFromString(mt.Close)
	if err != nil {
		return
	}
	volume, _ := decimal.NewFromString(mt.Volume)

	a.out.Enqueue(&feed.Envelope{
		Exchange:  feed.ExchangeBinance,
		Symbol:    mt.Symbol,
		Kind:      feed.KindTicker,
		Sequence:  mt.EventTime,
		Timestamp: mt.EventTime,
		Ticker: &feed.TickerPayload{
			Last:   last,
			Volume: volume,
		},
	})
}

// parseLevels converts raw string price/quantity pairs into levels.
// Unparseable entries are skipped.
func parseLevels(raw [][2]string) []feed.Level {
	levels := make([]feed.Level, 0, len(raw))
	for _, r := range raw {
		p, err := decimal.NewFromString(r[0])
		if err != nil {
			continue
		}
		q, err := decimal.NewFromString(r[1])
		if err != nil {
			continue
		}
		levels = append(levels, feed.Level{Price: p, Quantity: q})
	}
	return levels
}

// StreamURL builds the combined-stream endpoint for the given symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		ls := strings.ToLower(s)
		streams = append(streams, ls+"@depth20@100ms", ls+"@trade", ls+"@miniTicker")
	}
	return fmt.Sprintf("%s/stream?streams=%s", base, strings.Join(streams, "/"))
}
