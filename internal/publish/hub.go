package publish

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
)

// Sink is the engine's only dependency on the outbound side.
type Sink interface {
	Publish(ctx context.Context, rec *Record) error
}

// subKey identifies a filtered subscription by exchange and symbol.
type subKey struct {
	Exchange feed.Exchange
	Symbol   string
}

// Hub is a many-to-many fan-out that accepts Records from the per-exchange
// engines and distributes them to filtered subscribers and a unified "all"
// stream. Distribution is non-blocking: slow consumers get records dropped
// rather than stalling the reconciliation path.
type Hub struct {
	log zerolog.Logger
	met *metrics.Set

	// Filtered subscribers keyed by (exchange, symbol).
	mu   sync.RWMutex
	subs map[subKey][]chan *Record

	// allMu guards the unified subscriber list.
	allMu  sync.RWMutex
	allSub []chan *Record
}

// NewHub creates a Hub ready for subscriptions.
func NewHub(log zerolog.Logger, met *metrics.Set) *Hub {
	return &Hub{
		log:  log.With().Str("component", "hub").Logger(),
		met:  met,
		subs: make(map[subKey][]chan *Record),
	}
}

// Subscribe returns a buffered channel receiving Records for one exchange
// and symbol. The caller must drain it to avoid dropped records.
func (h *Hub) Subscribe(exchange feed.Exchange, symbol string) <-chan *Record {
	ch := make(chan *Record, 256)
	key := subKey{Exchange: exchange, Symbol: symbol}

	h.mu.Lock()
	h.subs[key] = append(h.subs[key], ch)
	h.mu.Unlock()

	return ch
}

// SubscribeAll returns a buffered channel receiving every Record regardless
// of exchange or symbol. Used by the Kafka and Redis sinks and the feed
// watchdog.
func (h *Hub) SubscribeAll() <-chan *Record {
	ch := make(chan *Record, 512)

	h.allMu.Lock()
	h.allSub = append(h.allSub, ch)
	h.allMu.Unlock()

	return ch
}

// Publish distributes a record to all matching subscribers. It never
// blocks and never fails; the error return satisfies Sink.
func (h *Hub) Publish(_ context.Context, rec *Record) error {
	h.met.RecordsTotal.WithLabelValues(string(rec.Exchange), string(rec.Stream)).Inc()

	key := subKey{Exchange: rec.Exchange, Symbol: rec.Symbol}

	h.mu.RLock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- rec:
		default:
			h.log.Warn().
				Str("exchange", string(rec.Exchange)).
				Str("symbol", rec.Symbol).
				Msg("dropping record for slow subscriber")
		}
	}
	h.mu.RUnlock()

	h.allMu.RLock()
	for _, ch := range h.allSub {
		select {
		case ch <- rec:
		default:
			// Slow unified subscriber, drop.
		}
	}
	h.allMu.RUnlock()

	return nil
}
