package publish

import (
	"context"

	"github.com/depthsync/depthsync/internal/feed"
)

// TickerFanout forwards ticker envelopes straight to a Sink as StreamTicker
// records. Tickers bypass the reconciliation engine entirely.
type TickerFanout struct {
	sink Sink
}

// NewTickerFanout creates the pass-through ticker publisher.
func NewTickerFanout(sink Sink) *TickerFanout {
	return &TickerFanout{sink: sink}
}

// PublishTicker converts and publishes a ticker envelope.
func (tf *TickerFanout) PublishTicker(ctx context.Context, env *feed.Envelope) error {
	return tf.sink.Publish(ctx, &Record{
		Exchange:  env.Exchange,
		Symbol:    env.Symbol,
		Stream:    StreamTicker,
		Sequence:  env.Sequence,
		Timestamp: env.Timestamp,
		Ticker: &Ticker{
			Last:   env.Ticker.Last,
			Bid:    env.Ticker.Bid,
			Ask:    env.Ticker.Ask,
			Volume: env.Ticker.Volume,
		},
	})
}
