package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"
	"tradingcore/src/portfolio"
	"tradingcore/src/trades"

	logger "github.com/sirupsen/logrus"
)

// RefreshOutcomeKind classifies what a reconciliation step did, replacing
// exception-driven control flow with an explicit result.
type RefreshOutcomeKind int

const (
	RefreshSuccess RefreshOutcomeKind = iota
	RefreshStateUnchanged
	RefreshRetriableFailure
	RefreshTerminalFailure
)

type RefreshOutcome struct {
	Kind   RefreshOutcomeKind
	Order  *model.Order
	Reason string
}

// TrackedOrder pairs an order with its state machine.
type TrackedOrder struct {
	Order *model.Order
	State *StateMachine

	// mu guards the stored order's mutable fields: updates arrive
	// concurrently from the updater poll and the trader's cancel path.
	mu sync.Mutex

	// lockedLocally records that this process reserved portfolio funds for
	// the order, so terminal transitions know whether to release them.
	lockedLocally bool
}

// Manager is the authoritative order store of one exchange instance and the
// reconciliation layer aligning it with exchange truth.
type Manager struct {
	exchange   string
	exchangeID string

	mu           sync.Mutex
	orders       map[string]*TrackedOrder
	newEmitted   map[string]bool
	beingCreated map[string]bool
	// waitingCompleteInit parks remotely discovered orders whose local
	// registration hit a portfolio shortfall, until a forced portfolio
	// refresh finalizes them.
	waitingCompleteInit []*model.RawOrder

	producer     *channels.Producer
	tradesMgr    *trades.Manager
	portfolioMgr *portfolio.Manager

	// onTerminal lets the trader process chained orders when a parent
	// reaches its terminal state.
	onTerminal func(order *model.Order)

	synchronize SynchronizeFunc
}

func NewManager(exchange, exchangeID string, tradesMgr *trades.Manager, portfolioMgr *portfolio.Manager) *Manager {
	return &Manager{
		exchange:     exchange,
		exchangeID:   exchangeID,
		orders:       make(map[string]*TrackedOrder),
		newEmitted:   make(map[string]bool),
		beingCreated: make(map[string]bool),
		tradesMgr:    tradesMgr,
		portfolioMgr: portfolioMgr,
	}
}

func (m *Manager) BindProducer(p *channels.Producer) {
	m.producer = p
}

// BindSynchronize wires the per-order refresh used by drift detection.
func (m *Manager) BindSynchronize(fn SynchronizeFunc) {
	m.synchronize = fn
}

func (m *Manager) OnTerminal(fn func(order *model.Order)) {
	m.onTerminal = fn
}

// MarkBeingCreated flags a client order ID whose creation RPC is in flight,
// so a racing exchange update does not double-register it.
func (m *Manager) MarkBeingCreated(clientOrderID string) {
	m.mu.Lock()
	m.beingCreated[clientOrderID] = true
	m.mu.Unlock()
}

func (m *Manager) UnmarkBeingCreated(clientOrderID string) {
	m.mu.Lock()
	delete(m.beingCreated, clientOrderID)
	m.mu.Unlock()
}

func (m *Manager) Get(exchangeOrderID string) (*TrackedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.orders[exchangeOrderID]
	return t, ok
}

func (m *Manager) Orders() []*TrackedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TrackedOrder, 0, len(m.orders))
	for _, t := range m.orders {
		out = append(out, t)
	}
	return out
}

func (m *Manager) OpenOrders() []*TrackedOrder {
	var out []*TrackedOrder
	for _, t := range m.Orders() {
		t.mu.Lock()
		open := t.Order.IsOpen()
		t.mu.Unlock()
		if open {
			out = append(out, t)
		}
	}
	return out
}

// RegisterCreatedOrder stores an order the trader just created on the
// exchange, with funds already locked, and emits its NEW event.
func (m *Manager) RegisterCreatedOrder(order *model.Order) *TrackedOrder {
	tracked := &TrackedOrder{
		Order:         order,
		State:         NewStateMachine(order, StateOpen),
		lockedLocally: true,
	}
	tracked.State.BindSynchronize(m.synchronize)

	m.mu.Lock()
	m.orders[order.ExchangeOrderID] = tracked
	m.mu.Unlock()

	m.emitNewOnce(order)
	return tracked
}

// RestoreVirtualOrder re-registers a self-managed order loaded from storage
// at startup. Restoration is one-shot: it is not re-triggered on
// reconnection.
func (m *Manager) RestoreVirtualOrder(order *model.Order) *TrackedOrder {
	if !order.IsSelfManaged {
		return nil
	}
	tracked := &TrackedOrder{
		Order: order,
		State: NewStateMachine(order, stateForStatus(order.Status)),
	}
	tracked.State.BindSynchronize(m.synchronize)

	m.mu.Lock()
	m.orders[order.ExchangeOrderID] = tracked
	// restored orders were already announced in a previous life
	m.newEmitted[order.ExchangeOrderID] = true
	m.mu.Unlock()
	return tracked
}

// HandleOrderUpdateFromRaw reconciles one exchange order payload with local
// state. It is the single entry point for every order update, pushed or
// polled.
func (m *Manager) HandleOrderUpdateFromRaw(raw *model.RawOrder) RefreshOutcome {
	log := logger.WithFields(map[string]interface{}{
		"component":         "orders",
		"op":                "HandleOrderUpdateFromRaw",
		"exchange_order_id": raw.ExchangeOrderID,
	})

	// A closing trade already recorded for this ID means the update is a
	// late echo of an order that finished its lifecycle.
	if m.tradesMgr != nil && m.tradesMgr.HasClosingTradeWithExchangeOrderID(raw.ExchangeOrderID) {
		log.Debug("Discarding late echo for closed order")
		return RefreshOutcome{Kind: RefreshStateUnchanged, Reason: "late echo"}
	}

	m.mu.Lock()
	if raw.ClientOrderID != "" && m.beingCreated[raw.ClientOrderID] {
		m.mu.Unlock()
		log.Debug("Discarding update for order being created")
		return RefreshOutcome{Kind: RefreshStateUnchanged, Reason: "creation in flight"}
	}
	tracked, exists := m.orders[raw.ExchangeOrderID]
	m.mu.Unlock()

	if !exists {
		return m.registerFromRaw(raw)
	}

	tracked.mu.Lock()
	if tracked.State.IsTerminal() {
		tracked.mu.Unlock()
		log.Debug("Discarding update on terminal order")
		return RefreshOutcome{Kind: RefreshStateUnchanged, Order: tracked.Order, Reason: "order is terminal"}
	}

	previousStatus := tracked.Order.Status
	changed := applyRawToOrder(tracked.Order, raw)
	if !changed {
		tracked.mu.Unlock()
		return RefreshOutcome{Kind: RefreshStateUnchanged, Order: tracked.Order}
	}

	if err := tracked.State.ApplyStatus(tracked.Order.Status); err != nil {
		tracked.mu.Unlock()
		// terminal already: nothing left to change
		log.WithError(err).Debug("Ignoring update on terminal order")
		return RefreshOutcome{Kind: RefreshStateUnchanged, Order: tracked.Order}
	}
	status := tracked.Order.Status
	reachedTerminal := status.IsTerminal() && !previousStatus.IsTerminal()
	tracked.mu.Unlock()

	if reachedTerminal {
		m.onRefreshSuccessful(tracked, previousStatus)
	} else {
		m.emitOrderEvent(tracked.Order, status, model.OrderUpdateTypeStateChange)
	}
	return RefreshOutcome{Kind: RefreshSuccess, Order: tracked.Order}
}

// registerFromRaw creates a locally unknown order discovered on the
// exchange.
func (m *Manager) registerFromRaw(raw *model.RawOrder) RefreshOutcome {
	order, err := orderFromRaw(raw)
	if err != nil {
		return RefreshOutcome{Kind: RefreshTerminalFailure, Reason: err.Error()}
	}

	tracked := &TrackedOrder{
		Order: order,
		State: NewStateMachine(order, stateForStatus(order.Status)),
	}
	tracked.State.BindSynchronize(m.synchronize)

	if order.IsOpen() && m.portfolioMgr != nil {
		if err := m.portfolioMgr.LockFundsForOrder(order); err != nil {
			if errors.Is(err, model.ErrMissingFunds) {
				// Portfolio may simply be stale; park the order until
				// the post-batch refresh settles it.
				m.mu.Lock()
				m.waitingCompleteInit = append(m.waitingCompleteInit, raw)
				m.mu.Unlock()
				logger.WithFields(map[string]interface{}{
					"component":         "orders",
					"exchange_order_id": raw.ExchangeOrderID,
				}).Debug("Parked order pending portfolio refresh")
				return RefreshOutcome{Kind: RefreshRetriableFailure, Reason: "portfolio shortfall"}
			}
			return RefreshOutcome{Kind: RefreshTerminalFailure, Reason: err.Error()}
		}
		tracked.lockedLocally = true
	}

	m.mu.Lock()
	m.orders[order.ExchangeOrderID] = tracked
	m.mu.Unlock()

	m.emitNewOnce(order)
	return RefreshOutcome{Kind: RefreshSuccess, Order: order}
}

// FinalizeWaitingOrders retries parked orders once the portfolio has been
// force-refreshed after an open-orders batch.
func (m *Manager) FinalizeWaitingOrders(ctx context.Context, refreshPortfolio func(ctx context.Context) error) {
	m.mu.Lock()
	waiting := m.waitingCompleteInit
	m.waitingCompleteInit = nil
	m.mu.Unlock()

	if len(waiting) == 0 {
		return
	}
	if refreshPortfolio != nil {
		if err := refreshPortfolio(ctx); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "orders",
				"op":        "FinalizeWaitingOrders",
			}).WithError(err).Error("Portfolio refresh failed, re-parking orders")
			m.mu.Lock()
			m.waitingCompleteInit = append(m.waitingCompleteInit, waiting...)
			m.mu.Unlock()
			return
		}
	}
	for _, raw := range waiting {
		m.HandleOrderUpdateFromRaw(raw)
	}
}

// DetectDrift compares local open orders against the IDs just returned by
// an open-orders poll and force-synchronizes every order the exchange no
// longer lists, so its state machine settles on FILLED or CANCELED from the
// exchange's truth.
func (m *Manager) DetectDrift(ctx context.Context, remoteOpenIDs map[string]bool) {
	for _, tracked := range m.OpenOrders() {
		if tracked.Order.IsSelfManaged {
			continue
		}
		if remoteOpenIDs[tracked.Order.ExchangeOrderID] {
			continue
		}
		logger.WithFields(map[string]interface{}{
			"component":         "orders",
			"exchange_order_id": tracked.Order.ExchangeOrderID,
		}).Info("Open order missing remotely, forcing synchronization")
		if err := tracked.State.Synchronize(ctx, true); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":         "orders",
				"exchange_order_id": tracked.Order.ExchangeOrderID,
			}).WithError(err).Error("Drift synchronization failed")
		}
	}
}

// onRefreshSuccessful applies the side-effects of a terminal transition:
// portfolio settlement, trade emission, chained-order processing and the
// channel notification. It runs at most once per order because callers gate
// on the previous status.
func (m *Manager) onRefreshSuccessful(tracked *TrackedOrder, previousStatus model.OrderStatus) {
	order := tracked.Order

	if m.portfolioMgr != nil && tracked.lockedLocally {
		switch order.Status {
		case model.OrderStatusFilled:
			m.portfolioMgr.HandleOrderFill(order)
		case model.OrderStatusCanceled, model.OrderStatusClosed, model.OrderStatusRejected:
			// An order canceled after partial execution still spent part of
			// the locked value; settle the executed quantity and refund only
			// the residual.
			if order.FilledQuantity.IsPositive() {
				m.portfolioMgr.HandleOrderFill(order)
			} else {
				m.portfolioMgr.UnlockFundsForOrder(order)
			}
		}
	}

	if m.tradesMgr != nil {
		m.tradesMgr.UpsertFromOrder(order)
	}

	if m.onTerminal != nil {
		m.onTerminal(order)
	}

	updateType := model.OrderUpdateTypeStateChange
	if order.Status == model.OrderStatusClosed {
		updateType = model.OrderUpdateTypeClosed
	}
	m.emitOrderEvent(order, order.Status, updateType)

	logger.WithFields(map[string]interface{}{
		"component":         "orders",
		"exchange_order_id": order.ExchangeOrderID,
		"from":              string(previousStatus),
		"to":                string(order.Status),
	}).Info("Order reached terminal state")
}

// emitNewOnce publishes the NEW event, at most once per exchange order ID.
func (m *Manager) emitNewOnce(order *model.Order) {
	m.mu.Lock()
	if m.newEmitted[order.ExchangeOrderID] {
		m.mu.Unlock()
		return
	}
	m.newEmitted[order.ExchangeOrderID] = true
	m.mu.Unlock()

	m.emitOrderEvent(order, order.Status, model.OrderUpdateTypeNew)
}

// emitOrderEvent publishes the order on the orders channel. The status is
// passed explicitly so callers racing a concurrent reconciliation snapshot
// it under the order's lock.
func (m *Manager) emitOrderEvent(order *model.Order, status model.OrderStatus, updateType model.OrderUpdateType) {
	if m.producer == nil {
		return
	}
	payload := channels.OrderPayload{
		Exchange:       m.exchange,
		ExchangeID:     m.exchangeID,
		Cryptocurrency: order.Symbol.Base,
		Symbol:         order.Symbol.String(),
		Order:          order,
		UpdateType:     updateType,
		IsFromBot:      !order.IsSelfManaged && !order.Simulated,
	}
	routing := map[string]string{
		channels.KeySymbol:         order.Symbol.String(),
		channels.KeyCryptocurrency: order.Symbol.Base,
		channels.KeyState:          string(status),
	}
	if err := m.producer.Send(routing, payload); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":         "orders",
			"exchange_order_id": order.ExchangeOrderID,
		}).WithError(err).Error("Failed to publish order event")
	}
}

// applyRawToOrder folds a normalized payload into the stored order,
// reporting whether anything changed.
func applyRawToOrder(order *model.Order, raw *model.RawOrder) bool {
	changed := false

	if raw.Status != "" && raw.Status != order.Status {
		order.Status = raw.Status
		changed = true
	}
	if !raw.Filled.Equal(order.FilledQuantity) {
		order.FilledQuantity = raw.Filled
		changed = true
	}
	if raw.AverageFill.IsPositive() && !raw.AverageFill.Equal(order.FilledPrice) {
		order.FilledPrice = raw.AverageFill
		changed = true
	}
	if raw.Cost.IsPositive() && !raw.Cost.Equal(order.TotalCost) {
		order.TotalCost = raw.Cost
		changed = true
	}
	if raw.Fee != nil && (order.Fee == nil || !order.Fee.Cost.Equal(raw.Fee.Cost)) {
		order.Fee = raw.Fee
		changed = true
	}

	if changed {
		if order.Status == model.OrderStatusFilled && order.ExecutedTime.IsZero() {
			order.ExecutedTime = timestampOrNow(raw.Timestamp)
			if order.FilledPrice.IsZero() {
				order.FilledPrice = order.OriginPrice
			}
		}
		if order.Status == model.OrderStatusCanceled && order.CanceledTime.IsZero() {
			order.CanceledTime = timestampOrNow(raw.Timestamp)
		}
	}
	return changed
}

func orderFromRaw(raw *model.RawOrder) (*model.Order, error) {
	symbol, err := model.ParseSymbol(raw.Symbol)
	if err != nil {
		return nil, err
	}
	order := &model.Order{
		ExchangeOrderID: raw.ExchangeOrderID,
		ClientOrderID:   raw.ClientOrderID,
		Symbol:          symbol,
		Side:            raw.Side,
		Type:            raw.Type,
		OriginQuantity:  raw.Amount,
		OriginPrice:     raw.Price,
		FilledQuantity:  raw.Filled,
		FilledPrice:     raw.AverageFill,
		TotalCost:       raw.Cost,
		Fee:             raw.Fee,
		Status:          raw.Status,
		CreationTime:    timestampOrNow(raw.Timestamp),
		ReduceOnly:      raw.ReduceOnly,
		PostOnly:        raw.PostOnly,
		Tag:             raw.Tag,
	}
	if order.Status == model.OrderStatusFilled {
		order.ExecutedTime = order.CreationTime
		if order.FilledPrice.IsZero() {
			order.FilledPrice = order.OriginPrice
		}
	}
	if order.Status == model.OrderStatusCanceled {
		order.CanceledTime = order.CreationTime
	}
	return order, nil
}

func timestampOrNow(millis int64) time.Time {
	if millis <= 0 {
		return time.Now()
	}
	return time.UnixMilli(millis)
}
