// Package engine implements the order book reconciliation core: it applies
// normalized snapshot, diff, and trade envelopes to the per-symbol store,
// guards against stale or duplicate delivery, reconciles the race between
// independently-arriving trades and book diffs, and emits outbound delta
// records.
package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/depthsync/depthsync/internal/book"
	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
	"github.com/depthsync/depthsync/internal/publish"
)

// Engine reconciles one exchange's event streams into the shared store.
// All mutation happens inside Store.Mutate under the per-symbol lock; the
// engine performs no blocking I/O of its own.
type Engine struct {
	exchange feed.Exchange
	store    *book.Store
	sink     publish.Sink
	sched    *SnapshotScheduler
	log      zerolog.Logger
	met      *metrics.Set
}

// New creates an Engine for one exchange.
func New(exchange feed.Exchange, store *book.Store, sink publish.Sink, sched *SnapshotScheduler, log zerolog.Logger, met *metrics.Set) *Engine {
	return &Engine{
		exchange: exchange,
		store:    store,
		sink:     sink,
		sched:    sched,
		log:      log.With().Str("component", "engine").Str("exchange", string(exchange)).Logger(),
		met:      met,
	}
}

// ApplySnapshot replaces a symbol's book wholesale from an explicit
// snapshot envelope and emits the full level set as the resync anchor.
func (e *Engine) ApplySnapshot(ctx context.Context, env *feed.Envelope) {
	var rec *publish.Record
	e.store.Mutate(env.Symbol, func(st *book.State, set *book.Settings) {
		if env.Sequence <= set.LastBookSequence {
			e.dropStale(env)
			return
		}
		rec = e.resetToSnapshot(st, set, env.Book, env.Sequence, env.Timestamp)
	})
	e.publish(ctx, rec)
}

// ApplyDiff merges a full-depth restatement into a symbol's book. On an
// uninitialized symbol the diff is treated as an implicit snapshot. A diff
// whose implied totals restate either the post-diff or the pre-trade
// baseline is skipped; otherwise per-level changes are applied and anything
// not re-stated is removed. Every applied diff advances the snapshot
// scheduler, which periodically forces a full anchor emission instead of
// the incremental record.
func (e *Engine) ApplyDiff(ctx context.Context, env *feed.Envelope) {
	var rec *publish.Record
	e.store.Mutate(env.Symbol, func(st *book.State, set *book.Settings) {
		if env.Sequence <= set.LastBookSequence {
			e.dropStale(env)
			return
		}

		if !st.Initialized() {
			rec = e.resetToSnapshot(st, set, env.Book, env.Sequence, env.Timestamp)
			return
		}

		inAsk := sumQuantity(env.Book.Asks)
		inBid := sumQuantity(env.Book.Bids)

		if inAsk.Equal(set.LastAskTotal) && inBid.Equal(set.LastBidTotal) {
			e.met.RedundantDiffsTotal.WithLabelValues(string(e.exchange)).Inc()
			e.log.Debug().
				Str("symbol", env.Symbol).
				Int64("sequence", env.Sequence).
				Msg("redundant diff skipped")
			return
		}

		if set.TradesApplied && inAsk.Equal(set.PreTradeAskTotal) && inBid.Equal(set.PreTradeBidTotal) {
			e.met.StaleDiffsTotal.WithLabelValues(string(e.exchange)).Inc()
			e.log.Debug().
				Str("symbol", env.Symbol).
				Int64("sequence", env.Sequence).
				Str("preTradeAsk", set.PreTradeAskTotal.String()).
				Str("postDiffAsk", set.LastAskTotal.String()).
				Msg("diff restates pre-trade book, skipped")
			return
		}

		askDeltas := e.mergeSide(st, book.Ask, env.Book.Asks)
		bidDeltas := e.mergeSide(st, book.Bid, env.Book.Bids)

		st.LastSequence = env.Sequence
		set.LastBookSequence = env.Sequence
		set.LastAskTotal = st.Total(book.Ask)
		set.LastBidTotal = st.Total(book.Bid)
		set.TradesApplied = false
		set.PendingSnapshots++

		if e.sched.ShouldForce(set) {
			e.sched.Reset(set)
			e.met.ForcedResyncsTotal.WithLabelValues(string(e.exchange)).Inc()
			rec = e.snapshotRecord(st, env.Sequence, env.Timestamp)
			return
		}

		if len(askDeltas) > 0 || len(bidDeltas) > 0 {
			rec = &publish.Record{
				Exchange:  e.exchange,
				Symbol:    env.Symbol,
				Stream:    publish.StreamDiffBooks,
				Sequence:  env.Sequence,
				Timestamp: env.Timestamp,
				Asks:      askDeltas,
				Bids:      bidDeltas,
			}
		}
	})
	e.publish(ctx, rec)
}

// ApplyTrades depletes resting liquidity implied by executions. Trades are
// applied in timestamp order; any trade at or before the symbol's trade
// watermark is skipped. Each applied trade also removes crossed levels the
// execution price implies must already be gone (asks below it, bids above
// it), even though no explicit event announced that.
func (e *Engine) ApplyTrades(ctx context.Context, env *feed.Envelope) {
	trades := append([]feed.Trade(nil), env.Trades...)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})

	var rec *publish.Record
	e.store.Mutate(env.Symbol, func(st *book.State, set *book.Settings) {
		if !st.Initialized() {
			// No book to deplete yet; the bootstrap snapshot will include
			// the trade's effect.
			return
		}

		set.PreTradeAskTotal = st.Total(book.Ask)
		set.PreTradeBidTotal = st.Total(book.Bid)

		var askDeltas, bidDeltas []publish.Delta
		appendDelta := func(s book.Side, d publish.Delta) {
			if s == book.Ask {
				askDeltas = append(askDeltas, d)
			} else {
				bidDeltas = append(bidDeltas, d)
			}
		}

		for _, t := range trades {
			if t.Timestamp <= set.LastTradeTime {
				e.dropStale(env)
				continue
			}
			set.LastTradeTime = t.Timestamp

			// The taker side implies which resting side was consumed.
			restingSide := book.Ask
			if t.Side == feed.Sell {
				restingSide = book.Bid
			}

			if lvl, ok := st.Find(restingSide, t.Price); ok {
				if lvl.Quantity.Cmp(t.Quantity) <= 0 {
					st.Remove(restingSide, t.Price)
					appendDelta(restingSide, publish.NewDelta(publish.DeltaDelete, t.Price, lvl.Quantity))
				} else {
					remaining := lvl.Quantity.Sub(t.Quantity)
					st.Upsert(restingSide, t.Price, remaining)
					appendDelta(restingSide, publish.NewDelta(publish.DeltaUpdate, t.Price, remaining))
				}
			}

			// Interior cleanup: price-time priority implies crossed levels
			// were consumed even without an explicit delete event.
			for _, lvl := range st.Levels(book.Ask) {
				if lvl.Price.Cmp(t.Price) >= 0 {
					break
				}
				st.Remove(book.Ask, lvl.Price)
				appendDelta(book.Ask, publish.NewDelta(publish.DeltaDelete, lvl.Price, lvl.Quantity))
			}
			for _, lvl := range st.Levels(book.Bid) {
				if lvl.Price.Cmp(t.Price) <= 0 {
					break
				}
				st.Remove(book.Bid, lvl.Price)
				appendDelta(book.Bid, publish.NewDelta(publish.DeltaDelete, lvl.Price, lvl.Quantity))
			}
		}

		if len(askDeltas) > 0 || len(bidDeltas) > 0 {
			set.TradesApplied = true
			rec = &publish.Record{
				Exchange:  e.exchange,
				Symbol:    env.Symbol,
				Stream:    publish.StreamDiffTrade,
				Sequence:  env.Sequence,
				Timestamp: env.Timestamp,
				Asks:      askDeltas,
				Bids:      bidDeltas,
			}
		}
	})
	e.publish(ctx, rec)
}

// resetToSnapshot performs the wholesale replacement shared by explicit
// snapshots, implicit diff bootstraps, and forced resyncs.
func (e *Engine) resetToSnapshot(st *book.State, set *book.Settings, payload *feed.BookPayload, seq, ts int64) *publish.Record {
	st.Replace(book.Ask, payload.Asks)
	st.Replace(book.Bid, payload.Bids)
	st.LastSequence = seq

	set.LastBookSequence = seq
	set.PendingSnapshots = 0
	set.LastAskTotal = st.Total(book.Ask)
	set.LastBidTotal = st.Total(book.Bid)
	set.TradesApplied = false

	return e.snapshotRecord(st, seq, ts)
}

// snapshotRecord builds the full-level-set anchor record from the current
// store state, every level tagged insert.
func (e *Engine) snapshotRecord(st *book.State, seq, ts int64) *publish.Record {
	asks := st.Levels(book.Ask)
	bids := st.Levels(book.Bid)

	rec := &publish.Record{
		Exchange:  e.exchange,
		Symbol:    st.Symbol,
		Stream:    publish.StreamSnapshot,
		Sequence:  seq,
		Timestamp: ts,
		Asks:      make([]publish.Delta, 0, len(asks)),
		Bids:      make([]publish.Delta, 0, len(bids)),
	}
	for _, l := range asks {
		rec.Asks = append(rec.Asks, publish.NewDelta(publish.DeltaInsert, l.Price, l.Quantity))
	}
	for _, l := range bids {
		rec.Bids = append(rec.Bids, publish.NewDelta(publish.DeltaInsert, l.Price, l.Quantity))
	}
	return rec
}

// mergeSide applies one side of a full-depth restatement: insert new
// levels, update changed ones, and remove anything the payload does not
// re-state. Unchanged levels produce no delta.
func (e *Engine) mergeSide(st *book.State, side book.Side, incoming []feed.Level) []publish.Delta {
	var deltas []publish.Delta

	prices := make([]decimal.Decimal, 0, len(incoming))
	for _, in := range incoming {
		prices = append(prices, in.Price)

		cur, ok := st.Find(side, in.Price)
		switch {
		case !ok && in.Quantity.IsPositive():
			st.Upsert(side, in.Price, in.Quantity)
			deltas = append(deltas, publish.NewDelta(publish.DeltaInsert, in.Price, in.Quantity))
		case ok && !in.Quantity.IsPositive():
			st.Remove(side, in.Price)
			deltas = append(deltas, publish.NewDelta(publish.DeltaDelete, in.Price, decimal.Zero))
		case ok && !cur.Quantity.Equal(in.Quantity):
			st.Upsert(side, in.Price, in.Quantity)
			deltas = append(deltas, publish.NewDelta(publish.DeltaUpdate, in.Price, in.Quantity))
		}
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Cmp(prices[j]) < 0 })
	for _, lvl := range st.Levels(side) {
		if containsPrice(prices, lvl.Price) {
			continue
		}
		st.Remove(side, lvl.Price)
		deltas = append(deltas, publish.NewDelta(publish.DeltaDelete, lvl.Price, decimal.Zero))
	}

	return deltas
}

func containsPrice(sorted []decimal.Decimal, p decimal.Decimal) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Cmp(p) >= 0 })
	return i < len(sorted) && sorted[i].Equal(p)
}

func sumQuantity(levels []feed.Level) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Quantity)
	}
	return sum
}

func (e *Engine) dropStale(env *feed.Envelope) {
	e.met.StaleEventsTotal.WithLabelValues(string(e.exchange), string(env.Kind)).Inc()
	e.log.Debug().
		Str("symbol", env.Symbol).
		Str("kind", string(env.Kind)).
		Int64("sequence", env.Sequence).
		Msg("stale event dropped")
}

func (e *Engine) publish(ctx context.Context, rec *publish.Record) {
	if rec == nil {
		return
	}
	if err := e.sink.Publish(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("symbol", rec.Symbol).Msg("publish failed")
	}
}
