// Package publish defines the normalized outbound records produced by the
// reconciliation engine and the fan-out hub and sinks that carry them.
package publish

import (
	"github.com/shopspring/decimal"

	"github.com/depthsync/depthsync/internal/feed"
)

// StreamType classifies an outbound record.
type StreamType string

const (
	StreamSnapshot  StreamType = "snapshot"
	StreamDiffBooks StreamType = "diffbooks"
	StreamDiffTrade StreamType = "difftrade"
	StreamTicker    StreamType = "ticker"
)

// DeltaAction is the per-level operation a downstream consumer applies to
// its local copy of the book.
type DeltaAction string

const (
	DeltaInsert DeltaAction = "insert"
	DeltaUpdate DeltaAction = "update"
	DeltaDelete DeltaAction = "delete"
)

// Delta is one price-level change. For deletes emitted by a book diff the
// quantity is zero; deletes implied by a trade carry the depleted resting
// quantity.
type Delta struct {
	Action   DeltaAction     `json:"action"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int64           `json:"count"`
}

// Ticker is the pass-through ticker payload on StreamTicker records.
type Ticker struct {
	Last   decimal.Decimal `json:"last"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume decimal.Decimal `json:"volume"`
}

// Record is the outbound message delivered to the publish sinks. Snapshot
// records carry the full level set and are the anchor a consumer rebuilds
// its local book from; diff records carry only changes.
type Record struct {
	Exchange  feed.Exchange `json:"exchange"`
	Symbol    string        `json:"symbol"`
	Stream    StreamType    `json:"streamType"`
	Sequence  int64         `json:"sequence"`
	Timestamp int64         `json:"timestamp"`
	Asks      []Delta       `json:"askDeltas,omitempty"`
	Bids      []Delta       `json:"bidDeltas,omitempty"`
	Ticker    *Ticker       `json:"ticker,omitempty"`
}

// NewDelta builds a Delta, deriving Amount from price and quantity. Count
// is the number of orders behind the level where the venue reports one; the
// engine itself always reports 1 for live levels and 0 for deletes.
func NewDelta(action DeltaAction, price, qty decimal.Decimal) Delta {
	count := int64(1)
	if action == DeltaDelete {
		count = 0
	}
	return Delta{
		Action:   action,
		Price:    price,
		Quantity: qty,
		Amount:   price.Mul(qty),
		Count:    count,
	}
}
