package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/metrics"
)

// BookApplier receives orderbook and trade envelopes. Satisfied by the
// reconciliation engine.
type BookApplier interface {
	ApplySnapshot(ctx context.Context, env *Envelope)
	ApplyDiff(ctx context.Context, env *Envelope)
	ApplyTrades(ctx context.Context, env *Envelope)
}

// TickerPublisher receives ticker envelopes for pass-through publication.
type TickerPublisher interface {
	PublishTicker(ctx context.Context, env *Envelope) error
}

// Dispatcher is the single consumer of one exchange's ingestion queue. It
// drains envelopes in receipt order and routes them by kind: book and trade
// events to the reconciliation engine, tickers straight to the publisher.
// Malformed envelopes are dropped with a warning; retries are the adapter's
// responsibility, not this layer's.
type Dispatcher struct {
	exchange Exchange
	queue    *Queue
	books    BookApplier
	tickers  TickerPublisher
	log      zerolog.Logger
	met      *metrics.Set
}

// NewDispatcher creates a Dispatcher for one exchange.
func NewDispatcher(exchange Exchange, queue *Queue, books BookApplier, tickers TickerPublisher, log zerolog.Logger, met *metrics.Set) *Dispatcher {
	return &Dispatcher{
		exchange: exchange,
		queue:    queue,
		books:    books,
		tickers:  tickers,
		log:      log.With().Str("component", "dispatcher").Str("exchange", string(exchange)).Logger(),
		met:      met,
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		env, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		d.route(ctx, env)
	}
}

func (d *Dispatcher) route(ctx context.Context, env *Envelope) {
	if err := Validate(env); err != nil {
		d.met.MalformedTotal.WithLabelValues(string(d.exchange)).Inc()
		d.log.Warn().Err(err).
			Str("symbol", env.Symbol).
			Str("kind", string(env.Kind)).
			Msg("dropping malformed envelope")
		return
	}

	switch env.Kind {
	case KindOrderBook:
		if env.Action == ActionSnapshot {
			d.books.ApplySnapshot(ctx, env)
		} else {
			d.books.ApplyDiff(ctx, env)
		}
	case KindTrade:
		d.books.ApplyTrades(ctx, env)
	case KindTicker:
		if err := d.tickers.PublishTicker(ctx, env); err != nil {
			d.log.Warn().Err(err).Str("symbol", env.Symbol).Msg("ticker publish failed")
		}
	}
}
