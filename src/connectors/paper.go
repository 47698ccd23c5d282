package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradingcore/src/exchange"
	"tradingcore/src/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	exchange.RegisterConnector("paper", func(exchangeID string) (exchange.Connector, error) {
		config := GetConfig()
		initial := []model.RawBalance{
			{Currency: config.GoexQuote, Free: decimal.NewFromInt(10000), Total: decimal.NewFromInt(10000)},
		}
		return NewPaperConnector(NewGoexSource(), initial), nil
	})
}

// PaperConnector simulates the private half of an exchange: public data
// comes from a real market-data source, orders and balances live in
// memory. Market orders fill instantly at the last price; limit orders
// fill once the market crosses them.
type PaperConnector struct {
	source *GoexSource

	mu       sync.Mutex
	orders   map[string]*model.RawOrder
	balances map[string]model.RawBalance
}

func NewPaperConnector(source *GoexSource, initialBalances []model.RawBalance) *PaperConnector {
	c := &PaperConnector{
		source:   source,
		orders:   make(map[string]*model.RawOrder),
		balances: make(map[string]model.RawBalance),
	}
	for _, b := range initialBalances {
		total := b.Total
		if total.IsZero() {
			total = b.Free.Add(b.Used)
		}
		b.Total = total
		c.balances[b.Currency] = b
	}
	return c
}

func (c *PaperConnector) Name() string { return "paper" }

func (c *PaperConnector) SupportsFutures() bool     { return false }
func (c *PaperConnector) SupportsDeepHistory() bool { return true }

func (c *PaperConnector) GetSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int) ([]model.Candle, error) {
	return c.source.GetSymbolPrices(ctx, symbol, timeFrame, limit)
}

func (c *PaperConnector) GetSymbolPricesUntil(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error) {
	return c.source.GetSymbolPricesUntil(ctx, symbol, timeFrame, limit, until)
}

func (c *PaperConnector) GetPriceTicker(ctx context.Context, symbol model.Symbol) (*model.Ticker, error) {
	return c.source.GetPriceTicker(ctx, symbol)
}

func (c *PaperConnector) GetOrderBook(ctx context.Context, symbol model.Symbol) (*model.OrderBook, error) {
	return c.source.GetOrderBook(ctx, symbol, 20)
}

func (c *PaperConnector) GetRecentTrades(ctx context.Context, symbol model.Symbol, limit int) ([]model.PublicTrade, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) GetMarkPrice(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) GetMarkPriceAndFunding(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) GetMarkets(ctx context.Context) ([]model.Market, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) GetPositions(ctx context.Context, symbols []model.Symbol) ([]*model.RawPosition, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) GetPosition(ctx context.Context, symbol model.Symbol) (*model.RawPosition, error) {
	return nil, model.ErrNotSupported
}

func (c *PaperConnector) SetLeverage(ctx context.Context, symbol model.Symbol, side model.PositionSide, leverage decimal.Decimal) error {
	return model.ErrNotSupported
}

func (c *PaperConnector) SetMarginType(ctx context.Context, symbol model.Symbol, side model.PositionSide, marginType model.MarginType) error {
	return model.ErrNotSupported
}

func (c *PaperConnector) GetBalances(ctx context.Context) ([]model.RawBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.RawBalance, 0, len(c.balances))
	for _, b := range c.balances {
		out = append(out, b)
	}
	return out, nil
}

func (c *PaperConnector) CreateOrder(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
	symbol := order.Symbol
	price := order.OriginPrice

	if order.Type == model.OrderTypeMarket {
		ticker, err := c.source.GetPriceTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		price = ticker.Last
	}
	if !c.canAfford(order, price) {
		return nil, fmt.Errorf("%w: simulated balance too low", model.ErrMissingFunds)
	}

	raw := &model.RawOrder{
		ExchangeOrderID: uuid.NewString(),
		ClientOrderID:   order.ClientOrderID,
		Symbol:          symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Status:          model.OrderStatusOpen,
		ReduceOnly:      order.ReduceOnly,
		PostOnly:        order.PostOnly,
		Tag:             order.Tag,
		Timestamp:       time.Now().UnixMilli(),
	}
	c.mu.Lock()
	if order.Type == model.OrderTypeMarket {
		c.fill(raw, price)
	}
	c.orders[raw.ExchangeOrderID] = raw
	c.mu.Unlock()
	return cloneRawOrder(raw), nil
}

func (c *PaperConnector) CancelOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (model.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.orders[exchangeOrderID]
	if !ok {
		return "", model.ErrOrderNotFoundOnCancel
	}
	if raw.Status.IsTerminal() {
		return raw.Status, nil
	}
	raw.Status = model.OrderStatusCanceled
	raw.Timestamp = time.Now().UnixMilli()
	return model.OrderStatusCanceled, nil
}

func (c *PaperConnector) GetOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (*model.RawOrder, error) {
	c.settleOpenOrders(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.orders[exchangeOrderID]
	if !ok {
		return nil, nil
	}
	return cloneRawOrder(raw), nil
}

func (c *PaperConnector) GetOpenOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	c.settleOpenOrders(ctx)
	return c.ordersByState(symbol, false), nil
}

func (c *PaperConnector) GetClosedOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	return c.ordersByState(symbol, true), nil
}

func (c *PaperConnector) ordersByState(symbol model.Symbol, terminal bool) []*model.RawOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.RawOrder
	for _, raw := range c.orders {
		if raw.Symbol != symbol.String() {
			continue
		}
		if raw.Status.IsTerminal() == terminal {
			out = append(out, cloneRawOrder(raw))
		}
	}
	return out
}

// settleOpenOrders fills limit orders the market has crossed since the
// last poll.
func (c *PaperConnector) settleOpenOrders(ctx context.Context) {
	c.mu.Lock()
	var open []*model.RawOrder
	for _, raw := range c.orders {
		if !raw.Status.IsTerminal() {
			open = append(open, raw)
		}
	}
	c.mu.Unlock()

	tickers := make(map[string]decimal.Decimal)
	for _, raw := range open {
		last, ok := tickers[raw.Symbol]
		if !ok {
			symbol, err := model.ParseSymbol(raw.Symbol)
			if err != nil {
				continue
			}
			ticker, err := c.source.GetPriceTicker(ctx, symbol)
			if err != nil {
				continue
			}
			last = ticker.Last
			tickers[raw.Symbol] = last
		}

		crossed := (raw.Side == model.OrderSideBuy && last.LessThanOrEqual(raw.Price)) ||
			(raw.Side == model.OrderSideSell && last.GreaterThanOrEqual(raw.Price))
		if crossed {
			c.mu.Lock()
			c.fill(raw, raw.Price)
			c.mu.Unlock()
		}
	}
}

// fill settles an order and moves the simulated balances. Callers hold
// the lock.
func (c *PaperConnector) fill(raw *model.RawOrder, price decimal.Decimal) {
	raw.Status = model.OrderStatusFilled
	raw.Filled = raw.Amount
	raw.AverageFill = price
	raw.Cost = raw.Amount.Mul(price)
	raw.Timestamp = time.Now().UnixMilli()

	symbol, err := model.ParseSymbol(raw.Symbol)
	if err != nil {
		return
	}
	if raw.Side == model.OrderSideBuy {
		c.credit(symbol.Base, raw.Amount)
		c.credit(symbol.Quote, raw.Cost.Neg())
	} else {
		c.credit(symbol.Base, raw.Amount.Neg())
		c.credit(symbol.Quote, raw.Cost)
	}
}

func (c *PaperConnector) credit(currency string, amount decimal.Decimal) {
	b := c.balances[currency]
	b.Currency = currency
	b.Free = b.Free.Add(amount)
	b.Total = b.Total.Add(amount)
	c.balances[currency] = b
}

func (c *PaperConnector) canAfford(order *model.Order, price decimal.Decimal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.Side == model.OrderSideBuy {
		return c.balances[order.Symbol.Quote].Total.GreaterThanOrEqual(order.OriginQuantity.Mul(price))
	}
	return c.balances[order.Symbol.Base].Total.GreaterThanOrEqual(order.OriginQuantity)
}

func cloneRawOrder(raw *model.RawOrder) *model.RawOrder {
	clone := *raw
	if raw.Fee != nil {
		fee := *raw.Fee
		clone.Fee = &fee
	}
	return &clone
}
