package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeStatusFilled   TradeStatus = "FILLED"
	TradeStatusCanceled TradeStatus = "CANCELED"
)

// Trade is the immutable record produced when an order reaches a terminal
// state. OriginOrderID keeps the exchange order ID of the source order.
type Trade struct {
	TradeID          string          `json:"trade_id"`
	OriginOrderID    string          `json:"origin_order_id"`
	Symbol           Symbol          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	Type             OrderType       `json:"type"`
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	ExecutedPrice    decimal.Decimal `json:"executed_price"`
	Fee              *Fee            `json:"fee,omitempty"`
	CreationTime     time.Time       `json:"creation_time"`
	ExecutedTime     time.Time       `json:"executed_time"`
	Status           TradeStatus     `json:"status"`
	IsClosingOrder   bool            `json:"is_closing_order"`

	// AssociatedEntryIDs mirrors the source order's entry links so exit
	// trades can be paired with their entries for PnL.
	AssociatedEntryIDs []string `json:"associated_entry_ids,omitempty"`
}

// Total is the traded value in quote currency.
func (t *Trade) Total() decimal.Decimal {
	return t.ExecutedQuantity.Mul(t.ExecutedPrice)
}

// TradeFromOrder derives the closing trade of a terminal order.
func TradeFromOrder(o *Order) *Trade {
	status := TradeStatusFilled
	if o.Status == OrderStatusCanceled {
		status = TradeStatusCanceled
	}
	executed := o.ExecutedTime
	if executed.IsZero() {
		executed = o.CanceledTime
	}
	return &Trade{
		TradeID:            o.ClientOrderID,
		OriginOrderID:      o.ExchangeOrderID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Type:               o.Type,
		ExecutedQuantity:   o.FilledQuantity,
		ExecutedPrice:      o.FilledPrice,
		Fee:                o.Fee,
		CreationTime:       o.CreationTime,
		ExecutedTime:       executed,
		Status:             status,
		IsClosingOrder:     len(o.AssociatedEntryIDs) > 0 || o.ReduceOnly,
		AssociatedEntryIDs: o.AssociatedEntryIDs,
	}
}

// TradePnl pairs an exit trade with its entry trades.
type TradePnl struct {
	EntryTrades []*Trade        `json:"entry_trades"`
	ExitTrade   *Trade          `json:"exit_trade"`
	Profit      decimal.Decimal `json:"profit"`
}
