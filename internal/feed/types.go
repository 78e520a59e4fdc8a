package feed

import "github.com/shopspring/decimal"

// Exchange identifies the source of market data.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeOKX     Exchange = "okx"
)

// Kind classifies an Envelope by the channel it came from.
type Kind string

const (
	KindOrderBook Kind = "orderbook"
	KindTrade     Kind = "trade"
	KindTicker    Kind = "ticker"
)

// Action refines Kind: how the payload should be applied.
type Action string

const (
	ActionSnapshot Action = "snapshot"
	ActionDiff     Action = "diff"
	ActionInsert   Action = "insert"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
)

// Side represents the direction of a trade or resting order.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Level is a single price level in a book payload.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BookPayload carries the ask/bid levels of a snapshot or a full-depth
// restatement diff. For diffs, anything not re-stated here is implied gone.
type BookPayload struct {
	Asks []Level
	Bids []Level
}

// Trade is a single execution. Side is the taker side: a Buy consumes
// resting asks, a Sell consumes resting bids.
type Trade struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      Side
	Timestamp int64 // ms
}

// TickerPayload is the pass-through ticker shape. It never touches the
// reconciliation engine.
type TickerPayload struct {
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Volume decimal.Decimal
}

// Envelope is the normalized inbound event produced by exchange adapters.
// Adapters assign a monotonically non-decreasing Sequence per symbol per
// kind where the exchange provides one, or a receipt-order counter
// otherwise. Exactly one payload field is set, matching Kind.
type Envelope struct {
	Exchange  Exchange
	Symbol    string
	Kind      Kind
	Action    Action
	Sequence  int64
	Timestamp int64 // ms
	Book      *BookPayload
	Trades    []Trade
	Ticker    *TickerPayload
}
