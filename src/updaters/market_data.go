package updaters

import (
	"context"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/exchange"
	"tradingcore/src/model"

	logger "github.com/sirupsen/logrus"
)

// NewKlineUpdater publishes the in-construction candle every fast tick.
func NewKlineUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, symbol model.Symbol, timeFrame model.TimeFrame, period time.Duration) *Updater {
	return &Updater{
		Name:     "kline",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			candles, err := connector.GetSymbolPrices(ctx, symbol, timeFrame, 1)
			if err != nil {
				return err
			}
			if len(candles) == 0 {
				return nil
			}
			return producer.Send(map[string]string{
				channels.KeySymbol:         symbol.String(),
				channels.KeyCryptocurrency: symbol.Base,
				channels.KeyTimeFrame:      string(timeFrame),
			}, channels.KlinePayload{
				Exchange:       exchangeName,
				ExchangeID:     exchangeID,
				Cryptocurrency: symbol.Base,
				Symbol:         symbol.String(),
				TimeFrame:      timeFrame,
				Candle:         candles[len(candles)-1],
			})
		},
	}
}

// NewTickerUpdater publishes the full ticker and fans a reduced mini
// ticker out on its own channel.
func NewTickerUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, miniProducer *channels.Producer, symbol model.Symbol, period time.Duration) *Updater {
	return &Updater{
		Name:     "ticker",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			ticker, err := connector.GetPriceTicker(ctx, symbol)
			if err != nil {
				return err
			}
			routing := map[string]string{
				channels.KeySymbol:         symbol.String(),
				channels.KeyCryptocurrency: symbol.Base,
			}
			if err := producer.Send(routing, channels.TickerPayload{
				Exchange:       exchangeName,
				ExchangeID:     exchangeID,
				Cryptocurrency: symbol.Base,
				Symbol:         symbol.String(),
				Ticker:         *ticker,
			}); err != nil {
				return err
			}
			if miniProducer == nil {
				return nil
			}
			return miniProducer.Send(routing, channels.MiniTickerPayload{
				Exchange:   exchangeName,
				ExchangeID: exchangeID,
				Symbol:     symbol.String(),
				Last:       ticker.Last,
				Timestamp:  ticker.Timestamp,
			})
		},
	}
}

func NewOrderBookUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, symbol model.Symbol, period time.Duration) *Updater {
	return &Updater{
		Name:     "order_book",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			book, err := connector.GetOrderBook(ctx, symbol)
			if err != nil {
				return err
			}
			return producer.Send(map[string]string{
				channels.KeySymbol: symbol.String(),
			}, channels.OrderBookPayload{
				Exchange:   exchangeName,
				ExchangeID: exchangeID,
				Symbol:     symbol.String(),
				OrderBook:  *book,
			})
		},
	}
}

func NewRecentTradesUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, symbol model.Symbol, limit int, period time.Duration) *Updater {
	return &Updater{
		Name:     "recent_trades",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			publicTrades, err := connector.GetRecentTrades(ctx, symbol, limit)
			if err != nil {
				return err
			}
			if len(publicTrades) == 0 {
				return nil
			}
			return producer.Send(map[string]string{
				channels.KeySymbol: symbol.String(),
			}, channels.RecentTradesPayload{
				Exchange:   exchangeName,
				ExchangeID: exchangeID,
				Symbol:     symbol.String(),
				Trades:     publicTrades,
			})
		},
	}
}

func NewMarketsUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, period time.Duration) *Updater {
	return &Updater{
		Name:     "markets",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			markets, err := connector.GetMarkets(ctx)
			if err != nil {
				return err
			}
			return producer.Send(nil, channels.MarketsPayload{
				Exchange:   exchangeName,
				ExchangeID: exchangeID,
				Markets:    markets,
			})
		},
	}
}

// NewMarkPriceUpdater publishes the mark price; for inverse perpetuals the
// funding snapshot rides the same poll and fans out on the funding channel.
func NewMarkPriceUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, fundingProducer *channels.Producer, symbol model.Symbol, contract *model.FutureContract, period time.Duration) *Updater {
	withFunding := fundingProducer != nil && contract != nil &&
		contract.ContractType.IsInverse() && contract.ContractType.IsPerpetual()

	return &Updater{
		Name:     "mark_price",
		Producer: producer,
		Period:   period,
		Fetch: func(ctx context.Context) error {
			var mark *model.MarkPrice
			var err error
			if withFunding {
				mark, err = connector.GetMarkPriceAndFunding(ctx, symbol)
			} else {
				mark, err = connector.GetMarkPrice(ctx, symbol)
			}
			if err != nil {
				return err
			}
			routing := map[string]string{
				channels.KeySymbol: symbol.String(),
			}
			if err := producer.Send(routing, channels.MarkPricePayload{
				Exchange:   exchangeName,
				ExchangeID: exchangeID,
				Symbol:     symbol.String(),
				MarkPrice:  mark.MarkPrice,
			}); err != nil {
				return err
			}
			if !withFunding {
				return nil
			}
			return fundingProducer.Send(routing, channels.FundingPayload{
				Exchange:    exchangeName,
				ExchangeID:  exchangeID,
				Symbol:      symbol.String(),
				FundingRate: mark.FundingRate,
				NextFunding: mark.NextFunding,
			})
		},
	}
}

// RunAll starts one goroutine per updater and blocks until all have
// returned after cancellation.
func RunAll(ctx context.Context, updaters ...*Updater) {
	done := make(chan struct{}, len(updaters))
	for _, u := range updaters {
		go func(u *Updater) {
			u.Run(ctx)
			done <- struct{}{}
		}(u)
	}
	for range updaters {
		<-done
	}
	logger.WithField("component", "updaters").Debug("All updaters stopped")
}
