package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket          OrderType = "market"
	OrderTypeLimit           OrderType = "limit"
	OrderTypeStopLoss        OrderType = "stop_loss"
	OrderTypeStopLossLimit   OrderType = "stop_loss_limit"
	OrderTypeTakeProfit      OrderType = "take_profit"
	OrderTypeTakeProfitLimit OrderType = "take_profit_limit"
	OrderTypeTrailingStop    OrderType = "trailing_stop"
)

type OrderStatus string

const (
	OrderStatusUnknown         OrderStatus = "unknown"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusClosed          OrderStatus = "closed"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status ends the order lifecycle.
// A terminal order is never re-opened.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusClosed, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderUpdateType classifies events emitted on the orders channel.
type OrderUpdateType string

const (
	OrderUpdateTypeNew         OrderUpdateType = "NEW"
	OrderUpdateTypeStateChange OrderUpdateType = "STATE_CHANGE"
	OrderUpdateTypeClosed      OrderUpdateType = "CLOSED"
)

type Fee struct {
	Currency string          `json:"currency"`
	Cost     decimal.Decimal `json:"cost"`
	Rate     decimal.Decimal `json:"rate,omitempty"`
}

// Order is an instruction sent to (or simulated against) the exchange.
// ExchangeOrderID is assigned by the exchange and may be empty while the
// creation RPC is in flight; ClientOrderID is always set.
type Order struct {
	ExchangeOrderID string    `json:"exchange_id"`
	ClientOrderID   string    `json:"id"`
	Symbol          Symbol    `json:"symbol"`
	Side            OrderSide `json:"side"`
	Type            OrderType `json:"type"`

	OriginQuantity decimal.Decimal `json:"amount"`
	OriginPrice    decimal.Decimal `json:"price"`
	FilledQuantity decimal.Decimal `json:"filled"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	TotalCost      decimal.Decimal `json:"cost"`
	Fee            *Fee            `json:"fee,omitempty"`

	Status       OrderStatus `json:"status"`
	CreationTime time.Time   `json:"creation_time"`
	ExecutedTime time.Time   `json:"executed_time,omitempty"`
	CanceledTime time.Time   `json:"canceled_time,omitempty"`

	ReduceOnly    bool `json:"reduce_only"`
	PostOnly      bool `json:"post_only"`
	IsSelfManaged bool `json:"is_self_managed"`
	Simulated     bool `json:"simulated"`

	Tag string `json:"tag,omitempty"`

	// AssociatedEntryIDs links a closing order back to the exchange order
	// IDs of the entries it closes, for PnL pairing.
	AssociatedEntryIDs []string `json:"associated_entry_ids,omitempty"`
}

func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

func (o *Order) IsCanceled() bool {
	return o.Status == OrderStatusCanceled
}

// RemainingQuantity is the unfilled part of the order.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.OriginQuantity.Sub(o.FilledQuantity)
}

// LockedCost is the quote-side value reserved while the order is open.
func (o *Order) LockedCost() decimal.Decimal {
	return o.OriginQuantity.Mul(o.OriginPrice)
}

// RawOrder is the exchange-agnostic normalized form every adapter produces.
// Timestamps are unix milliseconds as delivered on the wire.
type RawOrder struct {
	ExchangeOrderID string          `json:"exchange_id"`
	ClientOrderID   string          `json:"id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	Filled          decimal.Decimal `json:"filled"`
	AverageFill     decimal.Decimal `json:"average,omitempty"`
	Cost            decimal.Decimal `json:"cost"`
	Status          OrderStatus     `json:"status"`
	Timestamp       int64           `json:"timestamp"`
	Fee             *Fee            `json:"fee,omitempty"`
	ReduceOnly      bool            `json:"reduce_only"`
	PostOnly        bool            `json:"post_only"`
	Tag             string          `json:"tag,omitempty"`
}
