package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthsync/depthsync/internal/metrics"
)

// mockApplier records which engine entry point each envelope reached.
type mockApplier struct {
	mu        sync.Mutex
	snapshots []*Envelope
	diffs     []*Envelope
	trades    []*Envelope
}

func (m *mockApplier) ApplySnapshot(_ context.Context, env *Envelope) {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, env)
	m.mu.Unlock()
}

func (m *mockApplier) ApplyDiff(_ context.Context, env *Envelope) {
	m.mu.Lock()
	m.diffs = append(m.diffs, env)
	m.mu.Unlock()
}

func (m *mockApplier) ApplyTrades(_ context.Context, env *Envelope) {
	m.mu.Lock()
	m.trades = append(m.trades, env)
	m.mu.Unlock()
}

func (m *mockApplier) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots), len(m.diffs), len(m.trades)
}

type mockTickers struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (m *mockTickers) PublishTicker(_ context.Context, env *Envelope) error {
	m.mu.Lock()
	m.envs = append(m.envs, env)
	m.mu.Unlock()
	return nil
}

func (m *mockTickers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envs)
}

func newTestDispatcher() (*Dispatcher, *Queue, *mockApplier, *mockTickers) {
	q := NewQueue()
	books := &mockApplier{}
	tickers := &mockTickers{}
	d := NewDispatcher(ExchangeBinance, q, books, tickers, zerolog.Nop(), metrics.New())
	return d, q, books, tickers
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDispatcherRoutesByKind(t *testing.T) {
	d, q, books, tickers := newTestDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, d.Run(ctx))
	}()

	book := &BookPayload{Asks: []Level{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}}}
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindOrderBook, Action: ActionSnapshot, Sequence: 1, Book: book})
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindOrderBook, Action: ActionDiff, Sequence: 2, Book: book})
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindTrade, Trades: []Trade{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Side: Buy, Timestamp: 1}}})
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindTicker, Ticker: &TickerPayload{Last: decimal.NewFromInt(100)}})

	waitFor(t, func() bool {
		s, df, tr := books.counts()
		return s == 1 && df == 1 && tr == 1 && tickers.count() == 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancellation")
	}
}

func TestDispatcherDropsMalformed(t *testing.T) {
	d, q, books, tickers := newTestDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Missing payloads and unknown kinds never reach the engine.
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindOrderBook, Action: ActionSnapshot})
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: "candles"})
	q.Enqueue(&Envelope{Exchange: ExchangeBinance, Kind: KindTrade, Trades: []Trade{{}}})

	// A valid envelope behind them still gets through, proving the bad ones
	// were dropped rather than wedging the loop.
	q.Enqueue(&Envelope{
		Exchange: ExchangeBinance, Symbol: "BTCUSDT", Kind: KindTicker,
		Ticker: &TickerPayload{Last: decimal.NewFromInt(1)},
	})

	waitFor(t, func() bool { return tickers.count() == 1 })

	s, df, tr := books.counts()
	assert.Zero(t, s)
	assert.Zero(t, df)
	assert.Zero(t, tr)
}
