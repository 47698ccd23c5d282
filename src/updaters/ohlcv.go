package updaters

import (
	"context"
	"errors"
	"sort"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/exchange"
	"tradingcore/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// candlePollBackoff is the fixed schedule used while waiting for an
// exchange to publish a freshly closed candle. Each step is capped by the
// time left in the current candle window.
var candlePollBackoff = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	8 * time.Second,
	15 * time.Second,
	15 * time.Second,
	60 * time.Second,
}

// DeepHistorySource is the optional pagination hook a connector exposes
// when SupportsDeepHistory is true.
type DeepHistorySource interface {
	GetSymbolPricesUntil(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error)
}

// OHLCVUpdater backfills candle history at startup and then publishes each
// candle as its window closes.
type OHLCVUpdater struct {
	exchange   string
	exchangeID string
	connector  exchange.Connector
	producer   *channels.Producer
	symbol     model.Symbol
	timeFrame  model.TimeFrame

	historyLimit int
	// PushPartial also publishes the in-construction candle each poll.
	PushPartial bool

	onMarkPrice func(symbol string, markPrice decimal.Decimal)

	lastOpen time.Time

	now func() time.Time
}

func NewOHLCVUpdater(exchangeName, exchangeID string, connector exchange.Connector, producer *channels.Producer, symbol model.Symbol, timeFrame model.TimeFrame, historyLimit int) *OHLCVUpdater {
	return &OHLCVUpdater{
		exchange:     exchangeName,
		exchangeID:   exchangeID,
		connector:    connector,
		producer:     producer,
		symbol:       symbol,
		timeFrame:    timeFrame,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// OnMarkPrice registers the fallback mark-price fanout fed from each
// candle close, used on exchanges without a mark-price endpoint.
func (u *OHLCVUpdater) OnMarkPrice(fn func(symbol string, markPrice decimal.Decimal)) {
	u.onMarkPrice = fn
}

func (u *OHLCVUpdater) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component":  "updaters",
		"updater":    "ohlcv",
		"symbol":     u.symbol.String(),
		"time_frame": string(u.timeFrame),
	})
}

// Run backfills history, then follows candle closes until cancellation.
func (u *OHLCVUpdater) Run(ctx context.Context) {
	for {
		err := u.Initialize(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		if errors.Is(err, model.ErrNotSupported) {
			u.log().Warn("Candle history not supported, pausing channel")
			u.producer.Channel().Pause()
			return
		}
		u.log().WithError(err).Warn("History initialization failed, retrying")
		if !sleepCtx(ctx, failedRequestRetryDelay) {
			return
		}
	}

	for {
		if !sleepCtx(ctx, u.timeUntilNextClose()) {
			return
		}
		u.pollForClose(ctx)
	}
}

// Initialize fetches the initial history and publishes it as a replace-all
// payload. When the single fetch comes back short and the connector can
// paginate, older pages are stitched in until the limit is reached.
func (u *OHLCVUpdater) Initialize(ctx context.Context) error {
	candles, err := u.connector.GetSymbolPrices(ctx, u.symbol, u.timeFrame, u.historyLimit)
	if err != nil {
		return err
	}

	if len(candles) > 0 && len(candles) < u.historyLimit && u.connector.SupportsDeepHistory() {
		if source, ok := u.connector.(DeepHistorySource); ok {
			candles, err = u.backfill(ctx, source, candles)
			if err != nil {
				return err
			}
		}
	}

	candles = dedupeCandles(candles)
	now := u.now()
	closed := candles[:0:0]
	for _, c := range candles {
		if c.IsClosed(u.timeFrame, now) {
			closed = append(closed, c)
		}
	}
	if len(closed) == 0 {
		return nil
	}

	u.lastOpen = closed[len(closed)-1].OpenTime
	u.push(closed, true)
	u.fanOutMarkPrice(closed[len(closed)-1])
	u.log().WithField("candles", len(closed)).Info("Candle history initialized")
	return nil
}

// backfill pages backwards from the oldest candle already fetched.
func (u *OHLCVUpdater) backfill(ctx context.Context, source DeepHistorySource, candles []model.Candle) ([]model.Candle, error) {
	for len(candles) < u.historyLimit {
		oldest := candles[0].OpenTime
		page, err := source.GetSymbolPricesUntil(ctx, u.symbol, u.timeFrame, u.historyLimit-len(candles), oldest)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		grew := false
		for _, c := range page {
			if c.OpenTime.Before(oldest) {
				grew = true
			}
		}
		if !grew {
			break
		}
		candles = append(page, candles...)
	}
	return candles, nil
}

// pollForClose waits for the exchange to publish the candle whose window
// just ended, following the fixed backoff schedule.
func (u *OHLCVUpdater) pollForClose(ctx context.Context) {
	for _, delay := range candlePollBackoff {
		pushed, err := u.fetchLatest(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, model.ErrNotSupported) {
				u.producer.Channel().Pause()
				return
			}
			u.log().WithError(err).Warn("Candle fetch failed")
		}
		if pushed {
			return
		}
		if remaining := u.timeUntilNextClose(); delay > remaining {
			delay = remaining
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
	u.log().Warn("Exchange did not publish the expected candle in time")
}

func (u *OHLCVUpdater) fetchLatest(ctx context.Context) (bool, error) {
	candles, err := u.connector.GetSymbolPrices(ctx, u.symbol, u.timeFrame, 2)
	if err != nil {
		return false, err
	}

	now := u.now()
	var fresh []model.Candle
	var partial *model.Candle
	for _, c := range candles {
		if !c.IsClosed(u.timeFrame, now) {
			c := c
			partial = &c
			continue
		}
		if c.OpenTime.After(u.lastOpen) {
			fresh = append(fresh, c)
		}
	}

	if len(fresh) > 0 {
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].OpenTime.Before(fresh[j].OpenTime) })
		u.lastOpen = fresh[len(fresh)-1].OpenTime
		u.push(fresh, false)
		u.fanOutMarkPrice(fresh[len(fresh)-1])
	}
	if u.PushPartial && partial != nil {
		u.pushPartial(*partial)
	}
	return len(fresh) > 0, nil
}

func (u *OHLCVUpdater) push(candles []model.Candle, replaceAll bool) {
	u.send(channels.OHLCVPayload{
		Exchange:       u.exchange,
		ExchangeID:     u.exchangeID,
		Cryptocurrency: u.symbol.Base,
		Symbol:         u.symbol.String(),
		TimeFrame:      u.timeFrame,
		Candles:        candles,
		ReplaceAll:     replaceAll,
	})
}

func (u *OHLCVUpdater) pushPartial(candle model.Candle) {
	u.send(channels.OHLCVPayload{
		Exchange:       u.exchange,
		ExchangeID:     u.exchangeID,
		Cryptocurrency: u.symbol.Base,
		Symbol:         u.symbol.String(),
		TimeFrame:      u.timeFrame,
		Candles:        []model.Candle{candle},
		Partial:        true,
	})
}

func (u *OHLCVUpdater) send(payload channels.OHLCVPayload) {
	routing := map[string]string{
		channels.KeySymbol:         u.symbol.String(),
		channels.KeyCryptocurrency: u.symbol.Base,
		channels.KeyTimeFrame:      string(u.timeFrame),
	}
	if err := u.producer.Send(routing, payload); err != nil {
		u.log().WithError(err).Error("Failed to publish candles")
	}
}

func (u *OHLCVUpdater) fanOutMarkPrice(latest model.Candle) {
	if u.onMarkPrice != nil {
		u.onMarkPrice(u.symbol.String(), latest.Close)
	}
}

func (u *OHLCVUpdater) timeUntilNextClose() time.Duration {
	now := u.now()
	window := u.timeFrame.Duration()
	elapsed := now.Sub(now.Truncate(window))
	return window - elapsed
}

// dedupeCandles sorts by open time and collapses duplicate windows, the
// later observation of a window winning.
func dedupeCandles(candles []model.Candle) []model.Candle {
	if len(candles) < 2 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	out := candles[:1]
	for _, c := range candles[1:] {
		last := &out[len(out)-1]
		if c.OpenTime.Equal(last.OpenTime) {
			*last = last.Merge(c)
			continue
		}
		out = append(out, c)
	}
	return out
}
