// Package okx normalizes OKX v5 public market data into feed envelopes.
// Deep books-channel snapshots anchor each symbol at subscribe time, books5
// restatements drive the diff stream, and trades and tickers pass through.
package okx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/depthsync/depthsync/internal/adapter"
	"github.com/depthsync/depthsync/internal/feed"
)

// subscribeArg identifies one channel subscription.
type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// subscribeMsg is the OKX v5 subscription command.
type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// rawBook is one entry of a books or books5 push. Levels are
// [price, size, liquidated orders, order count] string quadruples.
type rawBook struct {
	Asks  [][]string `json:"asks"`
	Bids  [][]string `json:"bids"`
	Ts    string     `json:"ts"`
	SeqID int64      `json:"seqId"`
}

// rawTrade is one entry of a trades push.
type rawTrade struct {
	InstID string `json:"instId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	Ts     string `json:"ts"`
}

// rawTicker is one entry of a tickers push.
type rawTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Vol24h string `json:"vol24h"`
	Ts     string `json:"ts"`
}

// Adapter bridges OKX public channels to the ingestion queue.
type Adapter struct {
	ws  *adapter.WSClient
	out feed.Enqueuer
	log zerolog.Logger

	symbols []string
}

// New creates an Adapter for the given instrument IDs backed by the given
// WSClient. Subscriptions are re-sent automatically after every reconnect,
// which also re-triggers the deep books snapshot.
func New(ws *adapter.WSClient, out feed.Enqueuer, symbols []string, log zerolog.Logger) *Adapter {
	a := &Adapter{
		ws:      ws,
		out:     out,
		log:     log.With().Str("component", "adapter").Str("exchange", "okx").Logger(),
		symbols: symbols,
	}
	ws.OnReconnect(a.Subscribe)
	return a
}

// Subscribe sends books, books5, trades, and tickers subscriptions for
// every configured instrument.
func (a *Adapter) Subscribe() {
	args := make([]subscribeArg, 0, len(a.symbols)*4)
	for _, s := range a.symbols {
		args = append(args,
			subscribeArg{Channel: "books", InstID: s},
			subscribeArg{Channel: "books5", InstID: s},
			subscribeArg{Channel: "trades", InstID: s},
			subscribeArg{Channel: "tickers", InstID: s},
		)
	}
	msg, _ := json.Marshal(subscribeMsg{Op: "subscribe", Args: args})
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

// handleMessage routes a push by its arg.channel. Event frames (subscribe
// acks, errors) have no data array and are logged at debug.
func (a *Adapter) handleMessage(raw []byte) {
	if ev := gjson.GetBytes(raw, "event"); ev.Exists() {
		if ev.String() == "error" {
			a.log.Warn().Str("msg", gjson.GetBytes(raw, "msg").String()).Msg("okx error event")
		}
		return
	}

	channel := gjson.GetBytes(raw, "arg.channel").String()
	instID := gjson.GetBytes(raw, "arg.instId").String()
	data := gjson.GetBytes(raw, "data")
	if channel == "" || !data.IsArray() {
		return
	}

	switch channel {
	case "books":
		// The deep channel is only used as a snapshot anchor; incremental
		// updates are covered by the books5 restatements.
		if gjson.GetBytes(raw, "action").String() == "snapshot" {
			a.handleBook(instID, data, feed.ActionSnapshot)
		}
	case "books5":
		a.handleBook(instID, data, feed.ActionDiff)
	case "trades":
		a.handleTrades(instID, data)
	case "tickers":
		a.handleTicker(data)
	}
}

func (a *Adapter) handleBook(instID string, data gjson.Result, action feed.Action) {
	for _, entry := range data.Array() {
		var b rawBook
		if err := json.Unmarshal([]byte(entry.Raw), &b); err != nil {
			a.log.Warn().Err(err).Msg("failed to parse book payload")
			continue
		}

		a.out.Enqueue(&feed.Envelope{
			Exchange:  feed.ExchangeOKX,
			Symbol:    instID,
			Kind:      feed.KindOrderBook,
			Action:    action,
			Sequence:  b.SeqID,
			Timestamp: parseMillis(b.Ts),
			Book: &feed.BookPayload{
				Asks: parseLevels(b.Asks),
				Bids: parseLevels(b.Bids),
			},
		})
	}
}

func (a *Adapter) handleTrades(instID string, data gjson.Result) {
	var trades []feed.Trade
	var latest int64
	for _, entry := range data.Array() {
		var t rawTrade
		if err := json.Unmarshal([]byte(entry.Raw), &t); err != nil {
			a.log.Warn().Err(err).Msg("failed to parse trade payload")
			continue
		}

		price, err := decimal.NewFromString(t.Px)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(t.Sz)
		if err != nil {
			continue
		}

		side := feed.Buy
		if strings.EqualFold(t.Side, "sell") {
			side = feed.Sell
		}

		ts := parseMillis(t.Ts)
		if ts > latest {
			latest = ts
		}
		trades = append(trades, feed.Trade{
			Price:     price,
			Quantity:  qty,
			Side:      side,
			Timestamp: ts,
		})
	}
	if len(trades) == 0 {
		return
	}

	a.out.Enqueue(&feed.Envelope{
		Exchange:  feed.ExchangeOKX,
		Symbol:    instID,
		Kind:      feed.KindTrade,
		Sequence:  latest,
		Timestamp: latest,
		Trades:    trades,
	})
}

func (a *Adapter) handleTicker(data gjson.Result) {
	for _, entry := range data.Array() {
		var t rawTicker
		if err := json.Unmarshal([]byte(entry.Raw), &t); err != nil {
			a.log.Warn().Err(err).Msg("failed to parse ticker payload")
			continue
		}

		last, err := decimal.NewFromString(t.Last)
		if err != nil {
			continue
		}
		bid, _ := decimal.NewFromString(t.BidPx)
		ask, _ := decimal.NewFromString(t.AskPx)
		volume, _ := decimal.NewFromString(t.Vol24h)
		ts := parseMillis(t.Ts)

		a.out.Enqueue(&feed.Envelope{
			Exchange:  feed.ExchangeOKX,
			Symbol:    t.InstID,
			Kind:      feed.KindTicker,
			Sequence:  ts,
			Timestamp: ts,
			Ticker: &feed.TickerPayload{
				Last:   last,
				Bid:    bid,
				Ask:    ask,
				Volume: volume,
			},
		})
	}
}

// parseLevels converts raw level quadruples into levels, reading only the
// leading price and size fields. Unparseable entries are skipped.
func parseLevels(raw [][]string) []feed.Level {
	levels := make([]feed.Level, 0, len(raw))
	for _, r := range raw {
		if len(r) < 2 {
			continue
		}
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

// parseMillis parses OKX's string millisecond timestamps, falling back to
// the local clock.
func parseMillis(s string) int64 {
	ts, err := decimal.NewFromString(s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return ts.IntPart()
}
