package exchange

import (
	"context"

	"tradingcore/src/model"

	"github.com/shopspring/decimal"
)

// Connector is the narrow interface every exchange adapter implements for
// the updaters and the trader. Implementations normalize their wire payloads
// through an Adapter before returning.
//
// GetOrder returns (nil, nil) when the exchange no longer knows the order;
// the caller decides what that means.
type Connector interface {
	Name() string

	GetOpenOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error)
	GetClosedOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error)
	GetOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (*model.RawOrder, error)

	GetPositions(ctx context.Context, symbols []model.Symbol) ([]*model.RawPosition, error)
	GetPosition(ctx context.Context, symbol model.Symbol) (*model.RawPosition, error)

	GetSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int) ([]model.Candle, error)
	GetPriceTicker(ctx context.Context, symbol model.Symbol) (*model.Ticker, error)
	GetOrderBook(ctx context.Context, symbol model.Symbol) (*model.OrderBook, error)
	GetRecentTrades(ctx context.Context, symbol model.Symbol, limit int) ([]model.PublicTrade, error)
	GetMarkPrice(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error)
	GetMarkPriceAndFunding(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error)
	GetMarkets(ctx context.Context) ([]model.Market, error)
	GetBalances(ctx context.Context) ([]model.RawBalance, error)

	CreateOrder(ctx context.Context, order *model.Order) (*model.RawOrder, error)
	CancelOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (model.OrderStatus, error)

	SetLeverage(ctx context.Context, symbol model.Symbol, side model.PositionSide, leverage decimal.Decimal) error
	SetMarginType(ctx context.Context, symbol model.Symbol, side model.PositionSide, marginType model.MarginType) error

	// SupportsFutures gates contract and position initialization.
	SupportsFutures() bool
	// SupportsDeepHistory gates paginated OHLCV backfills.
	SupportsDeepHistory() bool
}
