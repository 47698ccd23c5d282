package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// WsFeed streams exchange events into the channel fabric. Each received
// frame carries a channel discriminator; ticker and trade frames are
// normalized and pushed through the bound producers. The feed reconnects
// with a fixed wait after any failure until the context ends.
type WsFeed struct {
	exchange   string
	exchangeID string
	url        string
	symbols    []model.Symbol

	pingInterval  time.Duration
	reconnectWait time.Duration

	tickerProducer *channels.Producer
	tradesProducer *channels.Producer
}

func NewWsFeed(exchangeName, exchangeID string, config Config, symbols []model.Symbol) *WsFeed {
	return &WsFeed{
		exchange:      exchangeName,
		exchangeID:    exchangeID,
		url:           config.WsURL,
		symbols:       symbols,
		pingInterval:  config.WsPingInterval,
		reconnectWait: config.WsReconnectWait,
	}
}

func (f *WsFeed) BindTickerProducer(p *channels.Producer) { f.tickerProducer = p }
func (f *WsFeed) BindTradesProducer(p *channels.Producer) { f.tradesProducer = p }

func (f *WsFeed) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "connectors",
		"feed":      "ws",
	})
}

// wsFrame is the envelope of every stream message.
type wsFrame struct {
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

type wsTicker struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

type wsTrade struct {
	Side      model.OrderSide `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

// Run keeps one connection alive until the context is canceled.
func (f *WsFeed) Run(ctx context.Context) {
	if f.url == "" {
		f.log().Debug("No stream URL configured, feed disabled")
		return
	}
	for {
		if err := f.connectAndConsume(ctx); err != nil && ctx.Err() == nil {
			f.log().WithError(err).Warn("Stream dropped, reconnecting")
		}
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(f.reconnectWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *WsFeed) connectAndConsume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
		Proxy:             http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return err
	}

	// close the connection when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.keepAlive(ctx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read failed: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *WsFeed) subscribe(conn *websocket.Conn) error {
	symbols := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		symbols = append(symbols, s.String())
	}
	return conn.WriteJSON(map[string]any{
		"op":       "subscribe",
		"channels": []string{"ticker", "trades"},
		"symbols":  symbols,
	})
}

func (f *WsFeed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (f *WsFeed) dispatch(msg []byte) {
	var frame wsFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		f.log().WithError(err).Debug("Discarding malformed frame")
		return
	}

	switch frame.Channel {
	case "ticker":
		f.handleTicker(frame)
	case "trades":
		f.handleTrades(frame)
	}
}

func (f *WsFeed) handleTicker(frame wsFrame) {
	if f.tickerProducer == nil {
		return
	}
	var t wsTicker
	if err := json.Unmarshal(frame.Data, &t); err != nil {
		f.log().WithError(err).Debug("Discarding malformed ticker frame")
		return
	}
	symbol, err := model.ParseSymbol(frame.Symbol)
	if err != nil {
		return
	}
	err = f.tickerProducer.Send(map[string]string{
		channels.KeySymbol:         frame.Symbol,
		channels.KeyCryptocurrency: symbol.Base,
	}, channels.TickerPayload{
		Exchange:       f.exchange,
		ExchangeID:     f.exchangeID,
		Cryptocurrency: symbol.Base,
		Symbol:         frame.Symbol,
		Ticker: model.Ticker{
			Symbol:    frame.Symbol,
			Bid:       t.Bid,
			Ask:       t.Ask,
			Last:      t.Last,
			High:      t.High,
			Low:       t.Low,
			Volume:    t.Volume,
			Timestamp: t.Timestamp,
		},
	})
	if err != nil {
		f.log().WithError(err).Error("Failed to publish stream ticker")
	}
}

func (f *WsFeed) handleTrades(frame wsFrame) {
	if f.tradesProducer == nil {
		return
	}
	var raws []wsTrade
	if err := json.Unmarshal(frame.Data, &raws); err != nil {
		f.log().WithError(err).Debug("Discarding malformed trades frame")
		return
	}
	publicTrades := make([]model.PublicTrade, 0, len(raws))
	for _, t := range raws {
		publicTrades = append(publicTrades, model.PublicTrade{
			Symbol:    frame.Symbol,
			Side:      t.Side,
			Price:     t.Price,
			Quantity:  t.Quantity,
			Timestamp: t.Timestamp,
		})
	}
	err := f.tradesProducer.Send(map[string]string{
		channels.KeySymbol: frame.Symbol,
	}, channels.RecentTradesPayload{
		Exchange:   f.exchange,
		ExchangeID: f.exchangeID,
		Symbol:     frame.Symbol,
		Trades:     publicTrades,
	})
	if err != nil {
		f.log().WithError(err).Error("Failed to publish stream trades")
	}
}
