package model

import (
	"fmt"
	"strings"
)

// Symbol identifies a traded pair as base/quote with an optional settlement
// asset for derivatives, rendered as "BASE/QUOTE[:SETTLE]".
type Symbol struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Settle string `json:"settle,omitempty"`
}

func NewSymbol(base, quote string) Symbol {
	return Symbol{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

func NewSettledSymbol(base, quote, settle string) Symbol {
	return Symbol{
		Base:   strings.ToUpper(base),
		Quote:  strings.ToUpper(quote),
		Settle: strings.ToUpper(settle),
	}
}

// ParseSymbol parses "BASE/QUOTE" or "BASE/QUOTE:SETTLE".
func ParseSymbol(s string) (Symbol, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))

	var settle string
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		settle = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("invalid symbol %q", s)
	}
	if settle != "" {
		return NewSettledSymbol(parts[0], parts[1], settle), nil
	}
	return NewSymbol(parts[0], parts[1]), nil
}

func (s Symbol) String() string {
	if s.Settle != "" {
		return s.Base + "/" + s.Quote + ":" + s.Settle
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) IsZero() bool {
	return s.Base == "" && s.Quote == ""
}

// IsInverse reports whether the contract settles in the base asset,
// meaning P&L accrues in base rather than quote.
func (s Symbol) IsInverse() bool {
	return s.Settle != "" && s.Settle == s.Base
}

func (s Symbol) IsLinear() bool {
	return s.Settle == "" || s.Settle == s.Quote
}

// SettlementAsset is the currency P&L is realised in.
func (s Symbol) SettlementAsset() string {
	if s.Settle != "" {
		return s.Settle
	}
	return s.Quote
}
