package exchanges

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/channels"
	"tradingcore/src/exchange"
	"tradingcore/src/model"
	"tradingcore/src/orders"
	"tradingcore/src/portfolio"
	"tradingcore/src/positions"
	"tradingcore/src/trades"
	"tradingcore/src/transactions"
	"tradingcore/src/updaters"
)

// HistoryStorage is the persistence collaborator of one exchange instance.
// The repository package provides the gorm-backed implementation.
type HistoryStorage interface {
	trades.HistoryStorage
	GetOrderHistory() ([]*model.Order, error)
	StoreOrderHistory(orders []*model.Order) error
}

// Options describes one exchange instance.
type Options struct {
	ExchangeName string
	ExchangeID   string
	Symbols      []model.Symbol
	TimeFrames   []model.TimeFrame
	Contracts    []model.FutureContract

	Simulated          bool
	SaveCanceledTrades bool
	RecentTradesLimit  int

	History HistoryStorage
}

// OptionsFromConfig translates the environment configuration into Options.
func OptionsFromConfig(cfg Config) (Options, error) {
	opts := Options{
		ExchangeName:       cfg.ExchangeName,
		ExchangeID:         cfg.ExchangeID,
		SaveCanceledTrades: cfg.SaveCanceledTrades,
		RecentTradesLimit:  cfg.RecentTradesLimit,
	}
	if opts.ExchangeID == "" {
		opts.ExchangeID = uuid.NewString()
	}
	for _, raw := range cfg.Symbols {
		symbol, err := model.ParseSymbol(raw)
		if err != nil {
			return Options{}, err
		}
		opts.Symbols = append(opts.Symbols, symbol)
	}
	for _, raw := range cfg.TimeFrames {
		tf, err := model.ParseTimeFrame(raw)
		if err != nil {
			return Options{}, err
		}
		opts.TimeFrames = append(opts.TimeFrames, tf)
	}
	return opts, nil
}

// Manager owns everything belonging to one exchange instance: the channel
// registry, the personal-data managers, the trader and the updaters. Start
// brings the instance up, Stop tears it down and drains the consumers.
type Manager struct {
	opts      Options
	connector exchange.Connector

	Registry     *channels.Registry
	Portfolio    *portfolio.Manager
	Trades       *trades.Manager
	Transactions *transactions.Manager
	Orders       *orders.Manager
	Positions    *positions.Manager
	Trader       *orders.Trader

	ordersUpdater    *updaters.OrdersUpdater
	positionsUpdater *updaters.PositionsUpdater
	ohlcvUpdaters    []*updaters.OHLCVUpdater
	baseUpdaters     []*updaters.Updater

	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyMu sync.Mutex
	notified map[string]struct{}

	started bool
}

var (
	managersMu   sync.RWMutex
	managersByID = make(map[string]*Manager)
)

// GetManager resolves a running exchange instance by its exchange ID.
func GetManager(exchangeID string) (*Manager, bool) {
	managersMu.RLock()
	defer managersMu.RUnlock()
	m, ok := managersByID[exchangeID]
	return m, ok
}

// Managers lists the running exchange instances.
func Managers() []*Manager {
	managersMu.RLock()
	defer managersMu.RUnlock()
	all := make([]*Manager, 0, len(managersByID))
	for _, m := range managersByID {
		all = append(all, m)
	}
	return all
}

// NewManager builds an exchange instance from its registered connector and
// wires the managers to their channels. Nothing runs until Start.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("exchange %q configured without symbols", opts.ExchangeName)
	}

	connector, err := exchange.NewConnector(opts.ExchangeName, opts.ExchangeID)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:      opts,
		connector: connector,
		Registry:  channels.NewRegistry(opts.ExchangeID),
		notified:  make(map[string]struct{}),
	}

	isFutures := connector.SupportsFutures()
	m.Portfolio = portfolio.NewManager(opts.ExchangeName, opts.ExchangeID, isFutures)
	m.Trades = trades.NewManager(opts.ExchangeName, opts.ExchangeID)
	m.Transactions = transactions.NewManager(opts.ExchangeID)
	m.Orders = orders.NewManager(opts.ExchangeName, opts.ExchangeID, m.Trades, m.Portfolio)
	m.Positions = positions.NewManager(opts.ExchangeName, opts.ExchangeID)
	m.Trader = orders.NewTrader(opts.ExchangeName, opts.ExchangeID, connector, m.Orders, m.Portfolio, opts.Simulated)

	if opts.SaveCanceledTrades {
		m.Trades.EnableCanceledTrades()
	}
	if opts.History != nil {
		m.Trades.BindStorage(opts.History)
	}

	if err := m.wireChannels(); err != nil {
		return nil, err
	}
	m.buildUpdaters()
	return m, nil
}

func (m *Manager) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component":   "exchanges",
		"exchange":    m.opts.ExchangeName,
		"exchange_id": m.opts.ExchangeID,
	})
}

// Connector exposes the adapter boundary, mainly for the trader's callers.
func (m *Manager) Connector() exchange.Connector {
	return m.connector
}

func (m *Manager) ExchangeID() string {
	return m.opts.ExchangeID
}

func (m *Manager) Symbols() []model.Symbol {
	return m.opts.Symbols
}

func (m *Manager) wireChannels() error {
	names := []string{
		channels.OHLCVChannel,
		channels.KlineChannel,
		channels.TickerChannel,
		channels.MiniTickerChannel,
		channels.RecentTradesChannel,
		channels.OrderBookChannel,
		channels.MarkPriceChannel,
		channels.FundingChannel,
		channels.MarketsChannel,
		channels.BalanceChannel,
		channels.OrdersChannel,
		channels.TradesChannel,
		channels.PositionsChannel,
	}
	for _, name := range names {
		if _, err := m.Registry.CreateChannel(name); err != nil {
			return err
		}
	}

	m.Portfolio.BindProducer(m.mustProducer(channels.BalanceChannel))
	m.Trades.BindProducer(m.mustProducer(channels.TradesChannel))
	m.Orders.BindProducer(m.mustProducer(channels.OrdersChannel))
	m.Positions.BindProducer(m.mustProducer(channels.PositionsChannel))

	// Embedded mark prices reach the mark-price channel even when no
	// dedicated endpoint feeds it.
	markProducer := m.mustProducer(channels.MarkPriceChannel)
	m.Positions.OnMarkPrice(func(symbol string, markPrice decimal.Decimal) {
		m.fanOutMarkPrice(markProducer, symbol, markPrice)
	})

	fundingCh, err := m.Registry.GetChannel(channels.FundingChannel)
	if err != nil {
		return err
	}
	fundingCh.NewConsumer(m.handleFundingEvent, channels.MatchAll(), channels.PriorityMedium, 0)
	return nil
}

// handleFundingEvent settles a funding payment against every position on the
// payload's symbol. A positive payment is taken from the available balance,
// falling back to the position margin; a negative one is credited. Each
// settlement lands in the transactions ledger.
func (m *Manager) handleFundingEvent(e channels.Event) error {
	payload, ok := e.Payload.(channels.FundingPayload)
	if !ok || payload.FundingRate.IsZero() {
		return nil
	}

	for _, position := range m.Positions.Positions() {
		if position.Symbol.String() != payload.Symbol || position.IsIdle() {
			continue
		}

		signedQuantity := position.Quantity
		switch position.Side {
		case model.PositionSideLong:
			signedQuantity = position.Quantity.Abs()
		case model.PositionSideShort:
			signedQuantity = position.Quantity.Abs().Neg()
		}

		// Longs pay shorts when the rate is positive.
		payment := signedQuantity.Mul(position.MarkPrice).Mul(payload.FundingRate)
		if payment.IsZero() {
			continue
		}

		currency := position.Symbol.SettlementAsset()
		if payment.IsPositive() {
			fromMargin := m.Portfolio.HandleFundingFee(currency, payment)
			if fromMargin.IsPositive() {
				m.Positions.ReduceMargin(position.Symbol, position.Side, fromMargin)
			}
		} else {
			m.Portfolio.HandleDeposit(currency, payment.Neg())
		}

		tx := transactions.NewFundingFeeTransaction(currency, position.Symbol, payment, payload.FundingRate)
		if err := m.Transactions.Insert(tx, false); err != nil {
			m.log().WithError(err).Error("Failed to record funding settlement")
		}

		m.log().WithFields(map[string]interface{}{
			"symbol":       payload.Symbol,
			"side":         string(position.Side),
			"funding_rate": payload.FundingRate.String(),
			"payment":      payment.String(),
		}).Debug("Funding payment settled")
	}
	return nil
}

func (m *Manager) mustProducer(name string) *channels.Producer {
	ch, err := m.Registry.GetChannel(name)
	if err != nil {
		panic(err)
	}
	return ch.NewProducer()
}

func (m *Manager) fanOutMarkPrice(p *channels.Producer, symbol string, markPrice decimal.Decimal) {
	err := p.Send(map[string]string{channels.KeySymbol: symbol}, channels.MarkPricePayload{
		Exchange:   m.opts.ExchangeName,
		ExchangeID: m.opts.ExchangeID,
		Symbol:     symbol,
		MarkPrice:  markPrice,
	})
	if err != nil {
		m.log().WithError(err).Debug("Dropped embedded mark price")
	}
}

func (m *Manager) buildUpdaters() {
	cfg := updaters.GetConfig()
	isFutures := m.connector.SupportsFutures()

	m.positionsUpdater = updaters.NewPositionsUpdater(
		m.opts.ExchangeName, m.opts.ExchangeID, m.connector, m.Positions, m.opts.Symbols, m.opts.Contracts)

	m.ordersUpdater = updaters.NewOrdersUpdater(
		m.opts.ExchangeName, m.opts.ExchangeID, m.connector, m.Orders, m.Trader, m.opts.Symbols)
	m.ordersUpdater.ContractsReady = m.positionsUpdater.Ready
	if m.opts.History != nil {
		m.ordersUpdater.History = m.opts.History
	}

	tickerProducer := m.mustProducer(channels.TickerChannel)
	miniProducer := m.mustProducer(channels.MiniTickerChannel)
	bookProducer := m.mustProducer(channels.OrderBookChannel)
	tradesProducer := m.mustProducer(channels.RecentTradesChannel)
	markProducer := m.mustProducer(channels.MarkPriceChannel)
	fundingProducer := m.mustProducer(channels.FundingChannel)
	klineProducer := m.mustProducer(channels.KlineChannel)
	ohlcvProducer := m.mustProducer(channels.OHLCVChannel)

	m.baseUpdaters = append(m.baseUpdaters, updaters.NewMarketsUpdater(
		m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
		m.mustProducer(channels.MarketsChannel), cfg.SlowRefreshPeriod))

	for _, symbol := range m.opts.Symbols {
		m.baseUpdaters = append(m.baseUpdaters,
			updaters.NewTickerUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
				tickerProducer, miniProducer, symbol, cfg.FastRefreshPeriod),
			updaters.NewOrderBookUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
				bookProducer, symbol, cfg.FastRefreshPeriod),
			updaters.NewRecentTradesUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
				tradesProducer, symbol, m.opts.RecentTradesLimit, cfg.MediumRefreshPeriod),
		)
		if isFutures {
			m.baseUpdaters = append(m.baseUpdaters,
				updaters.NewMarkPriceUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
					markProducer, fundingProducer, symbol, m.contractFor(symbol), cfg.FastRefreshPeriod))
		}

		for _, tf := range m.opts.TimeFrames {
			m.baseUpdaters = append(m.baseUpdaters,
				updaters.NewKlineUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
					klineProducer, symbol, tf, cfg.FastRefreshPeriod))

			ohlcv := updaters.NewOHLCVUpdater(m.opts.ExchangeName, m.opts.ExchangeID, m.connector,
				ohlcvProducer, symbol, tf, cfg.HistoricalCandlesCountLimit)
			if !isFutures {
				ohlcv.OnMarkPrice(func(symbol string, markPrice decimal.Decimal) {
					m.fanOutMarkPrice(markProducer, symbol, markPrice)
				})
			}
			m.ohlcvUpdaters = append(m.ohlcvUpdaters, ohlcv)
		}
	}
}

func (m *Manager) contractFor(symbol model.Symbol) *model.FutureContract {
	for i := range m.opts.Contracts {
		if m.opts.Contracts[i].Symbol == symbol {
			return &m.opts.Contracts[i]
		}
	}
	return nil
}

// Start loads persisted history, takes the initial balance snapshot and
// launches every updater. The instance becomes resolvable through
// GetManager once Start returns.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return fmt.Errorf("exchange instance %s already started", m.opts.ExchangeID)
	}

	if err := m.Trades.LoadHistory(); err != nil {
		m.log().WithError(err).Warn("Could not load trade history, starting empty")
	}

	err := exchange.RetryTillSuccess(ctx, 30*time.Second, m.Trader.RefreshPortfolio)
	if err != nil {
		return fmt.Errorf("initial balance snapshot failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.positionsUpdater.Run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.ordersUpdater.Run(runCtx)
	}()
	for _, u := range m.ohlcvUpdaters {
		u := u
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			u.Run(runCtx)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		updaters.RunAll(runCtx, m.baseUpdaters...)
	}()

	managersMu.Lock()
	managersByID[m.opts.ExchangeID] = m
	managersMu.Unlock()

	m.log().WithField("symbols", len(m.opts.Symbols)).Info("Exchange instance started")
	return nil
}

// Stop cancels the producers, waits for the updaters, drains the channel
// consumers and flushes history. Safe to call once after a successful
// Start.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	m.started = false

	managersMu.Lock()
	delete(managersByID, m.opts.ExchangeID)
	managersMu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.Registry.StopAll()
	m.Trades.Close()

	if m.opts.History != nil {
		tracked := m.Orders.Orders()
		snapshot := make([]*model.Order, 0, len(tracked))
		for _, t := range tracked {
			snapshot = append(snapshot, t.Order)
		}
		if err := m.opts.History.StoreOrderHistory(snapshot); err != nil {
			m.log().WithError(err).Error("Failed to persist order history on shutdown")
		}
	}

	m.log().Info("Exchange instance stopped")
}

// NotifyCriticalOnce reports a critical condition at most once per key for
// the lifetime of the instance. Returns true on first report.
func (m *Manager) NotifyCriticalOnce(key, message string) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if _, seen := m.notified[key]; seen {
		return false
	}
	m.notified[key] = struct{}{}
	m.log().WithField("key", key).Error(message)
	return true
}
