package connectors

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tradingcore/src/model"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
)

// GoexSource serves public market data through goex. The REST gateway
// covers private endpoints; paper setups run entirely off this source.
type GoexSource struct {
	exchange goex.API
}

func NewGoexSource() *GoexSource {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &GoexSource{exchange: binance.NewWithConfig(apiConfig)}
}

func goexPair(symbol model.Symbol) goex.CurrencyPair {
	return goex.NewCurrencyPair(goex.Currency{Symbol: symbol.Base}, goex.Currency{Symbol: symbol.Quote})
}

func goexPeriod(timeFrame model.TimeFrame) (goex.KlinePeriod, error) {
	switch timeFrame {
	case model.TimeFrame1m:
		return goex.KLINE_PERIOD_1MIN, nil
	case model.TimeFrame5m:
		return goex.KLINE_PERIOD_5MIN, nil
	case model.TimeFrame15m:
		return goex.KLINE_PERIOD_15MIN, nil
	case model.TimeFrame30m:
		return goex.KLINE_PERIOD_30MIN, nil
	case model.TimeFrame1h:
		return goex.KLINE_PERIOD_1H, nil
	case model.TimeFrame4h:
		return goex.KLINE_PERIOD_4H, nil
	case model.TimeFrame1d:
		return goex.KLINE_PERIOD_1DAY, nil
	case model.TimeFrame1w:
		return goex.KLINE_PERIOD_1WEEK, nil
	default:
		return 0, fmt.Errorf("%w: time frame %s", model.ErrNotSupported, timeFrame)
	}
}

// GetSymbolPrices fetches candles, newest last.
func (s *GoexSource) GetSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int) ([]model.Candle, error) {
	return s.getSymbolPrices(ctx, symbol, timeFrame, limit, time.Time{})
}

// GetSymbolPricesUntil pages backwards for deep history backfills.
func (s *GoexSource) GetSymbolPricesUntil(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error) {
	return s.getSymbolPrices(ctx, symbol, timeFrame, limit, until)
}

func (s *GoexSource) getSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	period, err := goexPeriod(timeFrame)
	if err != nil {
		return nil, err
	}

	const millis = 1000
	params := goex.OptionalParameter{}
	if !until.IsZero() {
		params = params.Optional("endTime", until.Unix()*millis)
	}

	klines, err := s.exchange.GetKlineRecords(goexPair(symbol), period, limit, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFailedRequest, err)
	}

	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, model.Candle{
			OpenTime: time.Unix(k.Timestamp, 0).UTC(),
			Open:     decimal.NewFromFloat(k.Open),
			High:     decimal.NewFromFloat(k.High),
			Low:      decimal.NewFromFloat(k.Low),
			Close:    decimal.NewFromFloat(k.Close),
			Volume:   decimal.NewFromFloat(k.Vol),
		})
	}
	return candles, nil
}

func (s *GoexSource) GetPriceTicker(ctx context.Context, symbol model.Symbol) (*model.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticker, err := s.exchange.GetTicker(goexPair(symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFailedRequest, err)
	}
	return &model.Ticker{
		Symbol:    symbol.String(),
		Bid:       decimal.NewFromFloat(ticker.Buy),
		Ask:       decimal.NewFromFloat(ticker.Sell),
		Last:      decimal.NewFromFloat(ticker.Last),
		High:      decimal.NewFromFloat(ticker.High),
		Low:       decimal.NewFromFloat(ticker.Low),
		Volume:    decimal.NewFromFloat(ticker.Vol),
		Timestamp: int64(ticker.Date),
	}, nil
}

func (s *GoexSource) GetOrderBook(ctx context.Context, symbol model.Symbol, size int) (*model.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	depth, err := s.exchange.GetDepth(size, goexPair(symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFailedRequest, err)
	}

	book := &model.OrderBook{
		Symbol:    symbol.String(),
		Timestamp: depth.UTime.UnixMilli(),
	}
	for _, level := range depth.BidList {
		book.Bids = append(book.Bids, model.OrderBookEntry{
			Price:    decimal.NewFromFloat(level.Price),
			Quantity: decimal.NewFromFloat(level.Amount),
		})
	}
	for _, level := range depth.AskList {
		book.Asks = append(book.Asks, model.OrderBookEntry{
			Price:    decimal.NewFromFloat(level.Price),
			Quantity: decimal.NewFromFloat(level.Amount),
		})
	}
	return book, nil
}
