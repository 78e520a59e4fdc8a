package feed

import "errors"

// Sentinel errors returned by Validate.
var (
	ErrMissingExchange = errors.New("envelope missing exchange")
	ErrMissingSymbol   = errors.New("envelope missing symbol")
	ErrMissingPayload  = errors.New("envelope payload does not match kind")
	ErrUnknownKind     = errors.New("unknown envelope kind")
	ErrUnknownAction   = errors.New("unknown orderbook action")
)

// Validate performs the dispatcher's pre-flight checks on an inbound
// envelope. It fails fast: the first failing check returns an error and the
// envelope is dropped.
func Validate(env *Envelope) error {
	if env.Exchange == "" {
		return ErrMissingExchange
	}
	if env.Symbol == "" {
		return ErrMissingSymbol
	}

	switch env.Kind {
	case KindOrderBook:
		if env.Book == nil {
			return ErrMissingPayload
		}
		if env.Action != ActionSnapshot && env.Action != ActionDiff {
			return ErrUnknownAction
		}
	case KindTrade:
		if len(env.Trades) == 0 {
			return ErrMissingPayload
		}
	case KindTicker:
		if env.Ticker == nil {
			return ErrMissingPayload
		}
	default:
		return ErrUnknownKind
	}

	return nil
}
