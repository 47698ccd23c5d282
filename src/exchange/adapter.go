package exchange

import (
	"fmt"

	"tradingcore/src/model"

	"github.com/shopspring/decimal"
)

// UnexpectedAdapterError wraps any failure of a raw-payload normalization
// step, keeping the original payload for diagnostics.
type UnexpectedAdapterError struct {
	Op      string
	Payload any
	Err     error
}

func (e *UnexpectedAdapterError) Error() string {
	return fmt.Sprintf("adapter %s failed: %v (payload: %v)", e.Op, e.Err, e.Payload)
}

func (e *UnexpectedAdapterError) Unwrap() error {
	return e.Err
}

// adapt runs a normalization step under the adapter contract: nil input
// yields nil output without error, and any failure or panic comes back as
// an UnexpectedAdapterError.
func adapt[T any](op string, raw map[string]any, fn func(map[string]any) (*T, error)) (out *T, err error) {
	if raw == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &UnexpectedAdapterError{Op: op, Payload: raw, Err: fmt.Errorf("%v", r)}
		}
	}()
	out, err = fn(raw)
	if err != nil {
		return nil, &UnexpectedAdapterError{Op: op, Payload: raw, Err: err}
	}
	return out, nil
}

// Adapter normalizes one exchange's raw payloads into the core data model.
// Connectors embed it and supply the field extraction.
type Adapter struct {
	// OrderFields extracts the normalized order fields from a raw payload.
	OrderFields    func(raw map[string]any) (*model.RawOrder, error)
	PositionFields func(raw map[string]any) (*model.RawPosition, error)
	TickerFields   func(raw map[string]any) (*model.Ticker, error)
}

func (a *Adapter) AdaptOrder(raw map[string]any) (*model.RawOrder, error) {
	if a.OrderFields == nil {
		return nil, &UnexpectedAdapterError{Op: "order", Payload: raw, Err: fmt.Errorf("no order normalization registered")}
	}
	return adapt("order", raw, a.OrderFields)
}

func (a *Adapter) AdaptPosition(raw map[string]any) (*model.RawPosition, error) {
	if a.PositionFields == nil {
		return nil, &UnexpectedAdapterError{Op: "position", Payload: raw, Err: fmt.Errorf("no position normalization registered")}
	}
	return adapt("position", raw, a.PositionFields)
}

func (a *Adapter) AdaptTicker(raw map[string]any) (*model.Ticker, error) {
	if a.TickerFields == nil {
		return nil, &UnexpectedAdapterError{Op: "ticker", Payload: raw, Err: fmt.Errorf("no ticker normalization registered")}
	}
	return adapt("ticker", raw, a.TickerFields)
}

// ParseOrderSymbol extracts the symbol field of a raw order payload.
func ParseOrderSymbol(raw map[string]any) (model.Symbol, error) {
	s, ok := raw["symbol"].(string)
	if !ok || s == "" {
		return model.Symbol{}, fmt.Errorf("raw order has no symbol")
	}
	return model.ParseSymbol(s)
}

// ParseExchangeOrderID extracts the exchange-assigned order ID.
func ParseExchangeOrderID(raw map[string]any) (string, error) {
	for _, key := range []string{"exchange_id", "orderId", "order_id", "id"} {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return decimal.NewFromFloat(v).String(), nil
		}
	}
	return "", fmt.Errorf("raw order has no exchange order id")
}

// DecimalField reads a decimal from a raw payload, accepting string or
// float encodings.
func DecimalField(raw map[string]any, key string) (decimal.Decimal, error) {
	switch v := raw[key].(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		if v == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, fmt.Errorf("field %s has unsupported type %T", key, v)
	}
}
