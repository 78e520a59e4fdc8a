package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validBook() *Envelope {
	return &Envelope{
		Exchange: ExchangeBinance,
		Symbol:   "BTCUSDT",
		Kind:     KindOrderBook,
		Action:   ActionSnapshot,
		Sequence: 1,
		Book:     &BookPayload{Asks: []Level{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}}},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Envelope)
		want   error
	}{
		{"valid snapshot", func(*Envelope) {}, nil},
		{"valid diff", func(e *Envelope) { e.Action = ActionDiff }, nil},
		{"missing exchange", func(e *Envelope) { e.Exchange = "" }, ErrMissingExchange},
		{"missing symbol", func(e *Envelope) { e.Symbol = "" }, ErrMissingSymbol},
		{"missing book payload", func(e *Envelope) { e.Book = nil }, ErrMissingPayload},
		{"unknown action", func(e *Envelope) { e.Action = "upsert" }, ErrUnknownAction},
		{"unknown kind", func(e *Envelope) { e.Kind = "candles" }, ErrUnknownKind},
		{"trade without trades", func(e *Envelope) { e.Kind = KindTrade; e.Book = nil }, ErrMissingPayload},
		{"ticker without payload", func(e *Envelope) { e.Kind = KindTicker; e.Book = nil }, ErrMissingPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validBook()
			tc.mutate(env)
			err := Validate(env)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestValidateTradeAndTicker(t *testing.T) {
	tradeEnv := &Envelope{
		Exchange: ExchangeOKX,
		Symbol:   "BTC-USDT",
		Kind:     KindTrade,
		Trades:   []Trade{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Side: Buy}},
	}
	assert.NoError(t, Validate(tradeEnv))

	tickerEnv := &Envelope{
		Exchange: ExchangeOKX,
		Symbol:   "BTC-USDT",
		Kind:     KindTicker,
		Ticker:   &TickerPayload{Last: decimal.NewFromInt(100)},
	}
	assert.NoError(t, Validate(tickerEnv))
}
