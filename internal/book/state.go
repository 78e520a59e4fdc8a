// Package book holds the in-memory order book store: per-symbol price-level
// state plus the reconciliation settings the engine keys its merge decisions
// off. State is owned exclusively by the engine; adapters never touch it.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/depthsync/depthsync/internal/feed"
)

// Side selects one half of a book.
type Side uint8

const (
	Ask Side = iota + 1
	Bid
)

func (s Side) String() string {
	switch s {
	case Ask:
		return "ask"
	case Bid:
		return "bid"
	default:
		return "unknown"
	}
}

// State is the current order book for one symbol. Asks are kept ascending
// by price, bids descending, so the best level of either side is index 0.
// A level with quantity 0 never persists here.
type State struct {
	Symbol       string
	LastSequence int64

	asks []feed.Level
	bids []feed.Level
}

// Settings carries the per-symbol reconciliation counters. Created lazily,
// exactly once, alongside the State.
type Settings struct {
	// LastBookSequence is the sequence guard watermark for book events.
	LastBookSequence int64
	// LastTradeTime is the guard watermark for trades (ms).
	LastTradeTime int64
	// PendingSnapshots counts diffs applied since the last snapshot emission.
	PendingSnapshots int

	// Side totals after the last applied book diff or snapshot.
	LastAskTotal decimal.Decimal
	LastBidTotal decimal.Decimal

	// Side totals captured immediately before the last applied trade batch.
	PreTradeAskTotal decimal.Decimal
	PreTradeBidTotal decimal.Decimal

	// TradesApplied marks that a trade mutated the book since the last diff.
	TradesApplied bool
}

func newState(symbol string) *State {
	return &State{Symbol: symbol}
}

// Initialized reports whether the symbol has ever received a snapshot or an
// implicit-snapshot diff.
func (st *State) Initialized() bool {
	return st.LastSequence != 0 || len(st.asks) > 0 || len(st.bids) > 0
}

// side returns the slice for s and whether prices sort ascending.
func (st *State) side(s Side) (*[]feed.Level, bool) {
	if s == Ask {
		return &st.asks, true
	}
	return &st.bids, false
}

// search returns the index where price belongs on the given side and
// whether a level at exactly that price exists.
func (st *State) search(s Side, price decimal.Decimal) (int, bool) {
	levels, asc := st.side(s)
	ls := *levels
	i := sort.Search(len(ls), func(i int) bool {
		c := ls[i].Price.Cmp(price)
		if asc {
			return c >= 0
		}
		return c <= 0
	})
	return i, i < len(ls) && ls[i].Price.Equal(price)
}

// Find returns the resting level at price on the given side.
func (st *State) Find(s Side, price decimal.Decimal) (feed.Level, bool) {
	i, ok := st.search(s, price)
	if !ok {
		return feed.Level{}, false
	}
	levels, _ := st.side(s)
	return (*levels)[i], true
}

// Upsert sets the quantity at price, inserting the level if absent.
// Quantity must be positive; deletions go through Remove.
func (st *State) Upsert(s Side, price, qty decimal.Decimal) {
	i, ok := st.search(s, price)
	levels, _ := st.side(s)
	if ok {
		(*levels)[i].Quantity = qty
		return
	}
	*levels = append(*levels, feed.Level{})
	copy((*levels)[i+1:], (*levels)[i:])
	(*levels)[i] = feed.Level{Price: price, Quantity: qty}
}

// Remove deletes the level at price, returning it if it existed.
func (st *State) Remove(s Side, price decimal.Decimal) (feed.Level, bool) {
	i, ok := st.search(s, price)
	if !ok {
		return feed.Level{}, false
	}
	levels, _ := st.side(s)
	lvl := (*levels)[i]
	*levels = append((*levels)[:i], (*levels)[i+1:]...)
	return lvl, true
}

// Replace swaps in a whole side from a payload, enforcing sort order and
// dropping zero-quantity levels.
func (st *State) Replace(s Side, incoming []feed.Level) {
	levels, asc := st.side(s)
	next := make([]feed.Level, 0, len(incoming))
	for _, l := range incoming {
		if l.Quantity.IsPositive() {
			next = append(next, l)
		}
	}
	sort.Slice(next, func(i, j int) bool {
		if asc {
			return next[i].Price.Cmp(next[j].Price) < 0
		}
		return next[i].Price.Cmp(next[j].Price) > 0
	})
	*levels = next
}

// Levels returns a copy of one side in its canonical order.
func (st *State) Levels(s Side) []feed.Level {
	levels, _ := st.side(s)
	out := make([]feed.Level, len(*levels))
	copy(out, *levels)
	return out
}

// Total sums the resting quantity on one side.
func (st *State) Total(s Side) decimal.Decimal {
	levels, _ := st.side(s)
	sum := decimal.Zero
	for _, l := range *levels {
		sum = sum.Add(l.Quantity)
	}
	return sum
}

// Depth returns the level counts (asks, bids).
func (st *State) Depth() (int, int) {
	return len(st.asks), len(st.bids)
}
