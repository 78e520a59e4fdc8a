package publish

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by *redis.Client; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// quote is the last-written top of book for one symbol. Zero decimals mean
// the side is unknown until the next snapshot anchor.
type quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// RedisWriter maintains a top-of-book quote cache in Redis from the Hub's
// unified record stream, using the schema:
//
//	Key:    book:{exchange}:{symbol}
//	Fields: bid, ask, ts
//
// Snapshot records rebuild the quote outright. Diff records refresh it when
// a delta improves the cached top, and invalidate the side when the cached
// top is deleted; the next snapshot anchor restores it. Writes are
// non-blocking: updates are buffered internally and flushed by a dedicated
// goroutine, and duplicate quotes are suppressed.
type RedisWriter struct {
	client RedisClient
	feed   <-chan *Record
	buf    chan *Record

	mu   sync.Mutex
	last map[string]quote // keyed by Redis key
}

// NewRedisWriter creates a RedisWriter reading from the Hub's SubscribeAll
// channel.
func NewRedisWriter(client RedisClient, feed <-chan *Record) *RedisWriter {
	return &RedisWriter{
		client: client,
		feed:   feed,
		buf:    make(chan *Record, 1024),
		last:   make(map[string]quote),
	}
}

// Run starts the ingest and flush goroutines and blocks until ctx is
// cancelled.
func (rw *RedisWriter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	// Ingest: drain the hub feed into the internal buffer so the hub is
	// never blocked.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- rec:
				default:
					// Buffer full, drop; the next anchor repairs the cache.
				}
			}
		}
	}()

	// Flush: write buffered quotes to Redis.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, rec)
			}
		}
	}()

	wg.Wait()
	return nil
}

// write folds a record into the cached quote and issues an HSET when the
// quote changed.
func (rw *RedisWriter) write(ctx context.Context, rec *Record) {
	if rec.Stream == StreamTicker {
		return
	}

	key := fmt.Sprintf("book:%s:%s", rec.Exchange, rec.Symbol)

	rw.mu.Lock()
	prev := rw.last[key]
	next := fold(prev, rec)
	if next.Bid.Equal(prev.Bid) && next.Ask.Equal(prev.Ask) {
		rw.mu.Unlock()
		return
	}
	rw.last[key] = next
	rw.mu.Unlock()

	ts := strconv.FormatInt(rec.Timestamp, 10)
	rw.client.HSet(ctx, key, "bid", next.Bid.String(), "ask", next.Ask.String(), "ts", ts)
}

// fold applies one record to a cached quote.
func fold(q quote, rec *Record) quote {
	if rec.Stream == StreamSnapshot {
		// Engine snapshots are sorted best-first on both sides.
		q.Bid, q.Ask = decimal.Zero, decimal.Zero
		if len(rec.Bids) > 0 {
			q.Bid = rec.Bids[0].Price
		}
		if len(rec.Asks) > 0 {
			q.Ask = rec.Asks[0].Price
		}
		return q
	}

	for _, d := range rec.Asks {
		switch {
		case d.Action == DeltaDelete && d.Price.Equal(q.Ask):
			q.Ask = decimal.Zero
		case d.Action != DeltaDelete && (q.Ask.IsZero() || d.Price.Cmp(q.Ask) < 0):
			q.Ask = d.Price
		}
	}
	for _, d := range rec.Bids {
		switch {
		case d.Action == DeltaDelete && d.Price.Equal(q.Bid):
			q.Bid = decimal.Zero
		case d.Action != DeltaDelete && d.Price.Cmp(q.Bid) > 0:
			q.Bid = d.Price
		}
	}
	return q
}
