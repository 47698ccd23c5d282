package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	// PositionSideBoth is the single signed position of one-way mode.
	PositionSideBoth PositionSide = "both"
)

type PositionMode string

const (
	PositionModeOneWay PositionMode = "one_way"
	PositionModeHedge  PositionMode = "hedge"
)

type MarginType string

const (
	MarginTypeIsolated MarginType = "isolated"
	MarginTypeCross    MarginType = "cross"
)

type ContractType string

const (
	ContractTypeLinearPerpetual  ContractType = "linear_perpetual"
	ContractTypeInversePerpetual ContractType = "inverse_perpetual"
	ContractTypeLinearFutures    ContractType = "linear_futures"
	ContractTypeInverseFutures   ContractType = "inverse_futures"
)

func (c ContractType) IsInverse() bool {
	return c == ContractTypeInversePerpetual || c == ContractTypeInverseFutures
}

func (c ContractType) IsPerpetual() bool {
	return c == ContractTypeLinearPerpetual || c == ContractTypeInversePerpetual
}

// FutureContract carries the per-symbol derivative settings negotiated with
// the exchange at initialization.
type FutureContract struct {
	Symbol       Symbol          `json:"symbol"`
	ContractType ContractType    `json:"contract_type"`
	MarginType   MarginType      `json:"margin_type"`
	PositionMode PositionMode    `json:"position_mode"`
	Leverage     decimal.Decimal `json:"leverage"`
}

// Position is the local view of a derivative position. In one-way mode Side
// is both and the sign of Quantity encodes direction.
type Position struct {
	Symbol           Symbol          `json:"symbol"`
	Side             PositionSide    `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginType       MarginType      `json:"margin_type"`
	Margin           decimal.Decimal `json:"margin"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
	ContractType     ContractType    `json:"contract_type"`
	PositionMode     PositionMode    `json:"position_mode"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p *Position) IsIdle() bool {
	return p.Quantity.IsZero()
}

// Validate enforces the side/mode invariant: explicit long or short sides
// only exist in hedge mode.
func (p *Position) Validate() error {
	if (p.Side == PositionSideLong || p.Side == PositionSideShort) &&
		p.PositionMode != PositionModeHedge {
		return ErrInvalidPositionMode
	}
	return nil
}

// Value is the position notional at the mark price.
func (p *Position) Value() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.MarkPrice)
}

// RawPosition is the adapter-normalized position payload.
type RawPosition struct {
	Symbol           string          `json:"symbol"`
	Side             PositionSide    `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginType       MarginType      `json:"margin_type"`
	Margin           decimal.Decimal `json:"margin"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
	ContractType     ContractType    `json:"contract_type"`
	PositionMode     PositionMode    `json:"position_mode"`
	Timestamp        int64           `json:"timestamp"`
}
