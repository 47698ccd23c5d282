package trades

import (
	"sync"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// MaxTradesCount bounds the in-memory trade history. Exceeding it evicts
// the oldest tenth of the buffer.
const MaxTradesCount = 100000

const storeDebounceDelay = 5 * time.Second

// HistoryStorage is the external persistence collaborator. The core does
// not fix its schema.
type HistoryStorage interface {
	GetTradeHistory() ([]*model.Trade, error)
	StoreTradeHistory(trades []*model.Trade) error
}

// Manager is the authoritative trade ledger of one exchange instance:
// a bounded, insertion-ordered buffer keyed by trade ID.
type Manager struct {
	exchange   string
	exchangeID string

	mu     sync.Mutex
	trades map[string]*model.Trade
	// order keeps insertion order for oldest-first eviction.
	order    []string
	maxCount int

	// saveCanceledTrades stores trades for canceled orders too; off unless
	// the exchange is explicitly configured for it.
	saveCanceledTrades bool

	producer *channels.Producer
	storage  HistoryStorage

	storeTimer *time.Timer
}

func NewManager(exchange, exchangeID string) *Manager {
	return &Manager{
		exchange:   exchange,
		exchangeID: exchangeID,
		trades:     make(map[string]*model.Trade),
		maxCount:   MaxTradesCount,
	}
}

func (m *Manager) BindProducer(p *channels.Producer) {
	m.producer = p
}

func (m *Manager) BindStorage(s HistoryStorage) {
	m.storage = s
}

func (m *Manager) EnableCanceledTrades() {
	m.saveCanceledTrades = true
}

// UpsertTrade inserts or replaces a trade, reporting whether a new trade was
// added. Insertion past capacity evicts the oldest 10% first.
func (m *Manager) UpsertTrade(trade *model.Trade) bool {
	if trade == nil || trade.TradeID == "" {
		return false
	}

	m.mu.Lock()
	_, exists := m.trades[trade.TradeID]
	if !exists {
		if len(m.trades) >= m.maxCount {
			m.evictOldest()
		}
		m.order = append(m.order, trade.TradeID)
	}
	m.trades[trade.TradeID] = trade
	m.mu.Unlock()

	if !exists {
		m.notify(trade, false)
		m.scheduleStore()
	}
	return !exists
}

// UpsertFromOrder derives and stores the closing trade of a terminal order.
// Canceled orders are skipped unless configured otherwise.
func (m *Manager) UpsertFromOrder(order *model.Order) (*model.Trade, bool) {
	if order.Status == model.OrderStatusCanceled && !m.saveCanceledTrades {
		return nil, false
	}
	trade := model.TradeFromOrder(order)
	return trade, m.UpsertTrade(trade)
}

// HasClosingTradeWithExchangeOrderID is used by the reconciliation layer to
// recognize late echoes of orders that already closed.
func (m *Manager) HasClosingTradeWithExchangeOrderID(exchangeOrderID string) bool {
	if exchangeOrderID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, trade := range m.trades {
		if trade.OriginOrderID == exchangeOrderID {
			return true
		}
	}
	return false
}

func (m *Manager) GetTrade(tradeID string) (*model.Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[tradeID]
	return t, ok
}

// Trades snapshots the buffer in insertion order.
func (m *Manager) Trades() []*model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Trade, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.trades[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

// CompletedTradesPnl pairs exit trades with the entry trades named by their
// associated entry IDs and computes the profit of each pair. With selected
// nil every exit trade is considered.
func (m *Manager) CompletedTradesPnl(selected []string) []model.TradePnl {
	all := m.Trades()

	byOrderID := make(map[string]*model.Trade, len(all))
	for _, t := range all {
		if t.OriginOrderID != "" {
			byOrderID[t.OriginOrderID] = t
		}
	}

	selectedSet := map[string]bool{}
	for _, id := range selected {
		selectedSet[id] = true
	}

	var out []model.TradePnl
	for _, exit := range all {
		if exit.Status != model.TradeStatusFilled || len(exit.AssociatedEntryIDs) == 0 {
			continue
		}
		if selected != nil && !selectedSet[exit.TradeID] {
			continue
		}

		var entries []*model.Trade
		entryValue := decimal.Zero
		for _, entryID := range exit.AssociatedEntryIDs {
			entry, ok := byOrderID[entryID]
			if !ok {
				continue
			}
			entries = append(entries, entry)
			entryValue = entryValue.Add(entry.Total())
		}
		if len(entries) == 0 {
			continue
		}

		profit := exit.Total().Sub(entryValue)
		if exit.Side == model.OrderSideBuy {
			// Exit by buying back: profit is what was received at entry
			// minus what the buy-back cost.
			profit = entryValue.Sub(exit.Total())
		}
		out = append(out, model.TradePnl{
			EntryTrades: entries,
			ExitTrade:   exit,
			Profit:      profit,
		})
	}
	return out
}

// LoadHistory merges persisted trades into the buffer at startup.
func (m *Manager) LoadHistory() error {
	if m.storage == nil {
		return nil
	}
	history, err := m.storage.GetTradeHistory()
	if err != nil {
		return err
	}

	added := 0
	for _, trade := range history {
		if trade == nil || trade.TradeID == "" {
			continue
		}
		m.mu.Lock()
		if _, exists := m.trades[trade.TradeID]; !exists {
			if len(m.trades) >= m.maxCount {
				m.evictOldest()
			}
			m.order = append(m.order, trade.TradeID)
			m.trades[trade.TradeID] = trade
			added++
		}
		m.mu.Unlock()
	}

	logger.WithFields(map[string]interface{}{
		"component":   "trades",
		"exchange_id": m.exchangeID,
		"loaded":      added,
	}).Info("Trade history loaded")
	return nil
}

// Close flushes any pending debounced store.
func (m *Manager) Close() {
	m.mu.Lock()
	timer := m.storeTimer
	m.storeTimer = nil
	m.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	m.storeNow()
}

// scheduleStore debounces history writes: bursts of trades produce a single
// store call.
func (m *Manager) scheduleStore() {
	if m.storage == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeTimer != nil {
		m.storeTimer.Stop()
	}
	m.storeTimer = time.AfterFunc(storeDebounceDelay, m.storeNow)
}

func (m *Manager) storeNow() {
	if m.storage == nil {
		return
	}
	if err := m.storage.StoreTradeHistory(m.Trades()); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":   "trades",
			"exchange_id": m.exchangeID,
		}).WithError(err).Error("Failed to store trade history")
	}
}

// evictOldest drops the oldest 10% of capacity. Caller holds the lock.
func (m *Manager) evictOldest() {
	evictCount := m.maxCount / 10
	if evictCount < 1 {
		evictCount = 1
	}
	if evictCount > len(m.order) {
		evictCount = len(m.order)
	}
	for _, id := range m.order[:evictCount] {
		delete(m.trades, id)
	}
	m.order = m.order[evictCount:]

	logger.WithFields(map[string]interface{}{
		"component":   "trades",
		"exchange_id": m.exchangeID,
		"evicted":     evictCount,
	}).Debug("Evicted oldest trades")
}

func (m *Manager) notify(trade *model.Trade, isOld bool) {
	if m.producer == nil {
		return
	}
	payload := channels.TradePayload{
		Exchange:       m.exchange,
		ExchangeID:     m.exchangeID,
		Cryptocurrency: trade.Symbol.Base,
		Symbol:         trade.Symbol.String(),
		Trade:          trade,
		IsOld:          isOld,
	}
	routing := map[string]string{
		channels.KeySymbol:         trade.Symbol.String(),
		channels.KeyCryptocurrency: trade.Symbol.Base,
	}
	if err := m.producer.Send(routing, payload); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "trades",
			"trade_id":  trade.TradeID,
		}).WithError(err).Error("Failed to publish trade")
	}
}
