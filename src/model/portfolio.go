package model

import "github.com/shopspring/decimal"

// Balance is the per-currency holding of a portfolio. The invariant
// total = free + used holds at every quiescent moment.
type Balance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

func NewBalance(free, used decimal.Decimal) Balance {
	return Balance{Free: free, Used: used, Total: free.Add(used)}
}

func (b Balance) IsZero() bool {
	return b.Free.IsZero() && b.Used.IsZero() && b.Total.IsZero()
}

// RawBalance is a single currency entry of an exchange balance snapshot.
type RawBalance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Used     decimal.Decimal `json:"used"`
	Total    decimal.Decimal `json:"total"`
}

// Ticker is the adapter-normalized price ticker.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// OrderBookEntry is one price level of an order book side.
type OrderBookEntry struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookEntry `json:"bids"`
	Asks      []OrderBookEntry `json:"asks"`
	Timestamp int64            `json:"timestamp"`
}

// PublicTrade is a single market trade from the recent-trades feed.
type PublicTrade struct {
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

// MarkPrice is the reference price used for liquidation and unrealized PnL.
type MarkPrice struct {
	Symbol      string          `json:"symbol"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	FundingRate decimal.Decimal `json:"funding_rate,omitempty"`
	NextFunding int64           `json:"next_funding,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Market describes a tradable instrument and its precision rules.
type Market struct {
	Symbol          string          `json:"symbol"`
	Active          bool            `json:"active"`
	PricePrecision  int32           `json:"price_precision"`
	AmountPrecision int32           `json:"amount_precision"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	MinNotional     decimal.Decimal `json:"min_notional"`
}
