package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
	"github.com/depthsync/depthsync/internal/publish"
)

// WatchdogConfig holds tunable parameters for the FeedWatchdog.
type WatchdogConfig struct {
	// StaleThreshold is the maximum age of the newest record before a
	// symbol is considered to have stopped producing output.
	StaleThreshold time.Duration

	// CoolOff is the duration of continuous fresh data required after a
	// recovery before the symbol is reported healthy again.
	CoolOff time.Duration

	// SweepInterval is how frequently staleness is re-evaluated and the
	// staleness gauge refreshed.
	SweepInterval time.Duration
}

// DefaultWatchdogConfig returns production-tuned defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		StaleThreshold: 5 * time.Second,
		CoolOff:        2 * time.Second,
		SweepInterval:  500 * time.Millisecond,
	}
}

// symbolKey identifies a tracked feed by exchange and symbol.
type symbolKey struct {
	Exchange feed.Exchange
	Symbol   string
}

// symbolState tracks output freshness for a single symbol.
type symbolState struct {
	LastRecord time.Time
	// RecoveredAt is set when a symbol transitions stale→fresh; health is
	// withheld until CoolOff has elapsed.
	RecoveredAt time.Time
	Healthy     bool
}

// FeedWatchdog detects the engine's only externally visible failure mode:
// a symbol that stops producing output. It consumes the hub's unified
// record stream, tracks per-symbol freshness and the WebSocket circuit of
// each exchange, and exposes both a health query and a staleness gauge.
type FeedWatchdog struct {
	cfg WatchdogConfig
	in  <-chan *publish.Record
	log zerolog.Logger
	met *metrics.Set

	connMu sync.RWMutex
	conns  map[feed.Exchange]*WSClient

	mu      sync.RWMutex
	symbols map[symbolKey]*symbolState

	nowFunc func() time.Time // injectable clock for testing
}

// NewFeedWatchdog creates a watchdog reading from the hub's SubscribeAll
// channel. WSClients are registered separately via WatchConnection.
func NewFeedWatchdog(cfg WatchdogConfig, in <-chan *publish.Record, log zerolog.Logger, met *metrics.Set) *FeedWatchdog {
	return &FeedWatchdog{
		cfg:     cfg,
		in:      in,
		log:     log.With().Str("component", "watchdog").Logger(),
		met:     met,
		conns:   make(map[feed.Exchange]*WSClient),
		symbols: make(map[symbolKey]*symbolState),
		nowFunc: time.Now,
	}
}

// WatchConnection registers a WSClient so its circuit state is considered.
func (w *FeedWatchdog) WatchConnection(exchange feed.Exchange, ws *WSClient) {
	w.connMu.Lock()
	w.conns[exchange] = ws
	w.connMu.Unlock()
}

// Healthy returns true only if the exchange's connection circuit is closed,
// the symbol's newest record is within StaleThreshold, and the cool-off
// period since recovery has elapsed.
func (w *FeedWatchdog) Healthy(exchange feed.Exchange, symbol string) bool {
	w.connMu.RLock()
	ws, ok := w.conns[exchange]
	w.connMu.RUnlock()
	if ok && ws.Circuit() == CircuitOpen {
		return false
	}

	key := symbolKey{Exchange: exchange, Symbol: symbol}
	now := w.nowFunc()

	w.mu.RLock()
	ss, exists := w.symbols[key]
	w.mu.RUnlock()

	if !exists {
		return false // no output yet
	}
	if now.Sub(ss.LastRecord) > w.cfg.StaleThreshold {
		return false
	}
	if !ss.RecoveredAt.IsZero() && now.Sub(ss.RecoveredAt) < w.cfg.CoolOff {
		return false
	}
	return true
}

// Run consumes the record stream and periodically sweeps for staleness.
// It blocks until ctx is cancelled.
func (w *FeedWatchdog) Run(ctx context.Context) error {
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-w.in:
			if !ok {
				return nil
			}
			w.recordOutput(rec)
		case <-sweep.C:
			w.sweep()
		}
	}
}

func (w *FeedWatchdog) recordOutput(rec *publish.Record) {
	key := symbolKey{Exchange: rec.Exchange, Symbol: rec.Symbol}
	now := w.nowFunc()

	w.mu.Lock()
	ss, exists := w.symbols[key]
	if !exists {
		ss = &symbolState{}
		w.symbols[key] = ss
	}
	wasHealthy := ss.Healthy
	ss.LastRecord = now
	ss.Healthy = true
	if !wasHealthy && exists {
		ss.RecoveredAt = now
	}
	w.mu.Unlock()
}

// sweep marks symbols stale and refreshes the staleness gauge.
func (w *FeedWatchdog) sweep() {
	now := w.nowFunc()

	w.mu.Lock()
	for key, ss := range w.symbols {
		age := now.Sub(ss.LastRecord)
		w.met.BookStalenessMs.
			WithLabelValues(string(key.Exchange), key.Symbol).
			Set(float64(age.Milliseconds()))

		if ss.Healthy && age > w.cfg.StaleThreshold {
			ss.Healthy = false
			w.log.Warn().
				Str("exchange", string(key.Exchange)).
				Str("symbol", key.Symbol).
				Dur("age", age).
				Msg("symbol feed went stale")
		}
	}
	w.mu.Unlock()
}
