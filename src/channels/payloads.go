package channels

import (
	"tradingcore/src/model"

	"github.com/shopspring/decimal"
)

// Payloads carried on the core channels. Every payload names its exchange
// and exchange instance so multi-exchange subscribers can demultiplex.

type OHLCVPayload struct {
	Exchange       string          `json:"exchange"`
	ExchangeID     string          `json:"exchange_id"`
	Cryptocurrency string          `json:"cryptocurrency"`
	Symbol         string          `json:"symbol"`
	TimeFrame      model.TimeFrame `json:"time_frame"`
	Candles        []model.Candle  `json:"candles"`
	// Partial marks in-construction candles; ReplaceAll marks an initial
	// backfill that supersedes any previously delivered history.
	Partial    bool `json:"partial"`
	ReplaceAll bool `json:"replace_all"`
}

type KlinePayload struct {
	Exchange       string          `json:"exchange"`
	ExchangeID     string          `json:"exchange_id"`
	Cryptocurrency string          `json:"cryptocurrency"`
	Symbol         string          `json:"symbol"`
	TimeFrame      model.TimeFrame `json:"time_frame"`
	Candle         model.Candle    `json:"candle"`
}

type TickerPayload struct {
	Exchange       string       `json:"exchange"`
	ExchangeID     string       `json:"exchange_id"`
	Cryptocurrency string       `json:"cryptocurrency"`
	Symbol         string       `json:"symbol"`
	Ticker         model.Ticker `json:"ticker"`
}

type MiniTickerPayload struct {
	Exchange   string          `json:"exchange"`
	ExchangeID string          `json:"exchange_id"`
	Symbol     string          `json:"symbol"`
	Last       decimal.Decimal `json:"last"`
	Timestamp  int64           `json:"timestamp"`
}

type OrderBookPayload struct {
	Exchange   string          `json:"exchange"`
	ExchangeID string          `json:"exchange_id"`
	Symbol     string          `json:"symbol"`
	OrderBook  model.OrderBook `json:"order_book"`
}

type RecentTradesPayload struct {
	Exchange   string              `json:"exchange"`
	ExchangeID string              `json:"exchange_id"`
	Symbol     string              `json:"symbol"`
	Trades     []model.PublicTrade `json:"trades"`
}

type MarkPricePayload struct {
	Exchange   string          `json:"exchange"`
	ExchangeID string          `json:"exchange_id"`
	Symbol     string          `json:"symbol"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
}

type FundingPayload struct {
	Exchange    string          `json:"exchange"`
	ExchangeID  string          `json:"exchange_id"`
	Symbol      string          `json:"symbol"`
	FundingRate decimal.Decimal `json:"funding_rate"`
	NextFunding int64           `json:"next_funding"`
}

type MarketsPayload struct {
	Exchange   string         `json:"exchange"`
	ExchangeID string         `json:"exchange_id"`
	Markets    []model.Market `json:"markets"`
}

type BalancePayload struct {
	Exchange   string                   `json:"exchange"`
	ExchangeID string                   `json:"exchange_id"`
	Balances   map[string]model.Balance `json:"balances"`
}

type BalanceProfitabilityPayload struct {
	Exchange      string          `json:"exchange"`
	ExchangeID    string          `json:"exchange_id"`
	Profitability decimal.Decimal `json:"profitability"`
	MarketValue   decimal.Decimal `json:"market_value"`
}

type OrderPayload struct {
	Exchange       string                `json:"exchange"`
	ExchangeID     string                `json:"exchange_id"`
	Cryptocurrency string                `json:"cryptocurrency"`
	Symbol         string                `json:"symbol"`
	Order          *model.Order          `json:"order"`
	UpdateType     model.OrderUpdateType `json:"update_type"`
	IsFromBot      bool                  `json:"is_from_bot"`
}

type TradePayload struct {
	Exchange       string       `json:"exchange"`
	ExchangeID     string       `json:"exchange_id"`
	Cryptocurrency string       `json:"cryptocurrency"`
	Symbol         string       `json:"symbol"`
	Trade          *model.Trade `json:"trade"`
	IsOld          bool         `json:"is_old"`
}

type PositionPayload struct {
	Exchange       string          `json:"exchange"`
	ExchangeID     string          `json:"exchange_id"`
	Cryptocurrency string          `json:"cryptocurrency"`
	Symbol         string          `json:"symbol"`
	Position       *model.Position `json:"position"`
	IsUpdated      bool            `json:"is_updated"`
}
