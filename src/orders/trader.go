package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradingcore/src/exchange"
	"tradingcore/src/model"
	"tradingcore/src/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// OrderDataFetchingTimeout bounds the pre-order data fetch.
const OrderDataFetchingTimeout = 10 * time.Second

// ChainedTrigger says when a chained order is submitted relative to its
// parent's lifecycle.
type ChainedTrigger string

const (
	TriggerImmediate ChainedTrigger = "IMMEDIATE"
	TriggerOnFill    ChainedTrigger = "ON_FILL"
	TriggerOnCancel  ChainedTrigger = "ON_CANCEL"
	TriggerOnClose   ChainedTrigger = "ON_CLOSE"
)

// WrappedOrder is a chained order: persisted immediately, submitted to the
// exchange only once its trigger fires.
type WrappedOrder struct {
	Order *model.Order
	// Trigger selects the parent transition that releases the order.
	Trigger ChainedTrigger
	// AllowBundling submits parent and chained order atomically when the
	// exchange supports it.
	AllowBundling bool
}

// Trader drives order creation and cancellation against one exchange.
type Trader struct {
	exchange   string
	exchangeID string

	connector    exchange.Connector
	orders       *Manager
	portfolioMgr *portfolio.Manager

	mu      sync.Mutex
	chained map[string][]*WrappedOrder

	simulated bool
}

func NewTrader(exchangeName, exchangeID string, connector exchange.Connector, ordersMgr *Manager, portfolioMgr *portfolio.Manager, simulated bool) *Trader {
	t := &Trader{
		exchange:     exchangeName,
		exchangeID:   exchangeID,
		connector:    connector,
		orders:       ordersMgr,
		portfolioMgr: portfolioMgr,
		chained:      make(map[string][]*WrappedOrder),
		simulated:    simulated,
	}
	ordersMgr.OnTerminal(t.handleParentTerminal)
	ordersMgr.BindSynchronize(t.SynchronizeOrder)
	return t
}

// PreOrderData is the snapshot used to size and validate an order before
// creation.
type PreOrderData struct {
	Symbol         model.Symbol
	CurrentPrice   decimal.Decimal
	MarketQuantity decimal.Decimal
	BaseAvailable  decimal.Decimal
}

// GetPreOrderData snapshots price and available funds for a symbol.
func (t *Trader) GetPreOrderData(ctx context.Context, symbol model.Symbol) (*PreOrderData, error) {
	ctx, cancel := context.WithTimeout(ctx, OrderDataFetchingTimeout)
	defer cancel()

	ticker, err := t.connector.GetPriceTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	data := &PreOrderData{
		Symbol:        symbol,
		CurrentPrice:  ticker.Last,
		BaseAvailable: t.portfolioMgr.GetBalance(symbol.Base).Free,
	}
	quoteFree := t.portfolioMgr.GetBalance(symbol.Quote).Free
	if ticker.Last.IsPositive() {
		data.MarketQuantity = quoteFree.Div(ticker.Last)
	}
	return data, nil
}

// CanCreateOrder reports whether an order on this side can be funded at
// all: buys need a positive market quantity, sells a base balance.
func (t *Trader) CanCreateOrder(side model.OrderSide, data *PreOrderData) bool {
	if data == nil {
		return false
	}
	if side == model.OrderSideBuy {
		return data.MarketQuantity.IsPositive()
	}
	return data.BaseAvailable.IsPositive()
}

// CreateOrder funds, submits and registers an order. The portfolio
// coordination lock covers the precheck and the funds reservation only;
// it is released before the exchange RPC. An exchange-side missing-funds
// refusal triggers one forced portfolio refresh and a single retry.
func (t *Trader) CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	if order.CreationTime.IsZero() {
		order.CreationTime = time.Now()
	}
	order.Simulated = t.simulated

	log := logger.WithFields(map[string]interface{}{
		"component": "orders",
		"op":        "CreateOrder",
		"symbol":    order.Symbol.String(),
		"side":      string(order.Side),
		"type":      string(order.Type),
		"amount":    order.OriginQuantity.String(),
	})

	t.portfolioMgr.Lock()
	if !t.portfolioMgr.CanAffordOrder(order) {
		t.portfolioMgr.Unlock()
		return nil, fmt.Errorf("%w: cannot afford %s %s %s", model.ErrMissingFunds,
			order.Side, order.OriginQuantity, order.Symbol)
	}
	if err := t.portfolioMgr.LockFundsForOrder(order); err != nil {
		t.portfolioMgr.Unlock()
		return nil, err
	}
	t.orders.MarkBeingCreated(order.ClientOrderID)
	t.portfolioMgr.Unlock()

	if order.IsSelfManaged {
		// no exchange counterpart: the core simulates the whole lifecycle
		order.ExchangeOrderID = order.ClientOrderID
		order.Status = model.OrderStatusOpen
		t.orders.UnmarkBeingCreated(order.ClientOrderID)
		t.orders.RegisterCreatedOrder(order)
		t.releaseChained(order, TriggerImmediate)
		log.Info("Self-managed order created")
		return order, nil
	}

	raw, err := t.submitWithFundsRetry(ctx, order)
	if err != nil {
		t.portfolioMgr.UnlockFundsForOrder(order)
		t.orders.UnmarkBeingCreated(order.ClientOrderID)
		return nil, err
	}

	order.ExchangeOrderID = raw.ExchangeOrderID
	order.Status = model.OrderStatusOpen
	t.orders.UnmarkBeingCreated(order.ClientOrderID)
	t.orders.RegisterCreatedOrder(order)

	// a market order may come back already terminal
	if raw.Status.IsTerminal() {
		t.orders.HandleOrderUpdateFromRaw(raw)
	}

	t.releaseChained(order, TriggerImmediate)
	log.WithField("exchange_order_id", order.ExchangeOrderID).Info("Order created")
	return order, nil
}

func (t *Trader) submitWithFundsRetry(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
	raw, err := t.connector.CreateOrder(ctx, order)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, model.ErrMissingFunds) {
		return nil, &model.OrderCreationError{Symbol: order.Symbol, Reason: err.Error(), Err: err}
	}

	logger.WithFields(map[string]interface{}{
		"component": "orders",
		"symbol":    order.Symbol.String(),
	}).Warn("Exchange refused order for missing funds, refreshing portfolio and retrying once")

	if refreshErr := t.RefreshPortfolio(ctx); refreshErr != nil {
		return nil, fmt.Errorf("%w (portfolio refresh also failed: %v)", err, refreshErr)
	}
	raw, err = t.connector.CreateOrder(ctx, order)
	if err != nil {
		return nil, &model.OrderCreationError{Symbol: order.Symbol, Reason: err.Error(), Err: err}
	}
	return raw, nil
}

// RefreshPortfolio forces an authoritative balance snapshot.
func (t *Trader) RefreshPortfolio(ctx context.Context) error {
	balances, err := t.connector.GetBalances(ctx)
	if err != nil {
		return err
	}
	t.portfolioMgr.HandleBalanceSnapshot(balances, true)
	return nil
}

// RegisterChainedOrder attaches a chained order to its parent. The wrapped
// order is persisted now and submitted when the trigger fires; its entry
// link is the parent's exchange order ID.
func (t *Trader) RegisterChainedOrder(parent *model.Order, wrapped *WrappedOrder) {
	wrapped.Order.AssociatedEntryIDs = append(wrapped.Order.AssociatedEntryIDs, parent.ExchangeOrderID)

	t.mu.Lock()
	t.chained[parent.ExchangeOrderID] = append(t.chained[parent.ExchangeOrderID], wrapped)
	t.mu.Unlock()
}

// ChainedOrders lists the pending chained orders of a parent.
func (t *Trader) ChainedOrders(parentExchangeOrderID string) []*WrappedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*WrappedOrder(nil), t.chained[parentExchangeOrderID]...)
}

func (t *Trader) handleParentTerminal(parent *model.Order) {
	switch parent.Status {
	case model.OrderStatusFilled:
		t.releaseChained(parent, TriggerOnFill)
	case model.OrderStatusCanceled, model.OrderStatusRejected:
		t.releaseChained(parent, TriggerOnCancel)
	}
	t.releaseChained(parent, TriggerOnClose)
}

// releaseChained submits every pending chained order whose trigger matches.
func (t *Trader) releaseChained(parent *model.Order, trigger ChainedTrigger) {
	t.mu.Lock()
	pending := t.chained[parent.ExchangeOrderID]
	var remaining []*WrappedOrder
	var due []*WrappedOrder
	for _, w := range pending {
		if w.Trigger == trigger {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	t.chained[parent.ExchangeOrderID] = remaining
	t.mu.Unlock()

	for _, w := range due {
		// chained orders are submitted individually after the trigger;
		// bundling only changes the initial submission batch
		go func(w *WrappedOrder) {
			ctx, cancel := context.WithTimeout(context.Background(), OrderDataFetchingTimeout)
			defer cancel()
			if _, err := t.CreateOrder(ctx, w.Order); err != nil {
				logger.WithFields(map[string]interface{}{
					"component": "orders",
					"parent":    parent.ExchangeOrderID,
					"trigger":   string(trigger),
				}).WithError(err).Error("Chained order submission failed")
			}
		}(w)
	}
}

// CancelOrder asks the exchange to cancel an order.
//
// A terminal order returns (false, "", nil): there is nothing to cancel.
// An order currently being filled is not awaited from the cancel path; the
// call returns promptly so a caller holding the portfolio lock can never
// deadlock against the fill refresh.
func (t *Trader) CancelOrder(ctx context.Context, tracked *TrackedOrder, waitForCancelling bool) (bool, model.OrderStatus, error) {
	order := tracked.Order

	if tracked.State.IsTerminal() {
		return false, "", nil
	}
	state := tracked.State.State()
	if state == StateFilling || state == StateFillingRefresh {
		// a concurrent refresh is already closing this order
		return false, "", nil
	}

	if err := tracked.State.Transition(StateCancelRefresh); err != nil {
		return false, "", nil
	}

	if order.IsSelfManaged {
		t.forceCanceled(tracked)
		return true, model.OrderStatusCanceled, nil
	}

	status, err := t.connector.CancelOrder(ctx, order.ExchangeOrderID, order.Symbol)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFoundOnCancel) {
			return t.ensureProbablyCanceledOrder(ctx, tracked)
		}
		tracked.State.SetLastError(err)
		// back to the pre-cancel steady state so the next refresh retries;
		// an already acknowledged cancel stays PENDING_CANCEL
		_ = tracked.State.Transition(state)
		return false, "", err
	}

	switch status {
	case model.OrderStatusPendingCancel:
		tracked.mu.Lock()
		order.Status = model.OrderStatusPendingCancel
		tracked.mu.Unlock()
		_ = tracked.State.Transition(StatePendingCancel)
		// the next orders-updater cycle finalizes
	case model.OrderStatusCanceled, model.OrderStatusClosed:
		t.forceCanceled(tracked)
	default:
		_ = tracked.State.Transition(state)
	}

	if waitForCancelling && !tracked.State.IsTerminal() {
		if err := tracked.State.WaitForTerminal(ctx); err != nil {
			return true, order.Status, err
		}
	}
	return true, order.Status, nil
}

// ensureProbablyCanceledOrder handles a cancel RPC answered with "order not
// found": one poll decides between a fill that won the race and an order
// the exchange simply forgot.
func (t *Trader) ensureProbablyCanceledOrder(ctx context.Context, tracked *TrackedOrder) (bool, model.OrderStatus, error) {
	order := tracked.Order
	raw, err := t.connector.GetOrder(ctx, order.ExchangeOrderID, order.Symbol)
	if err == nil && raw != nil {
		t.orders.HandleOrderUpdateFromRaw(raw)
		return true, order.Status, nil
	}
	// gone for good: force the terminal state
	t.forceCanceled(tracked)
	return true, model.OrderStatusCanceled, nil
}

func (t *Trader) forceCanceled(tracked *TrackedOrder) {
	raw := &model.RawOrder{
		ExchangeOrderID: tracked.Order.ExchangeOrderID,
		Symbol:          tracked.Order.Symbol.String(),
		Side:            tracked.Order.Side,
		Type:            tracked.Order.Type,
		Amount:          tracked.Order.OriginQuantity,
		Price:           tracked.Order.OriginPrice,
		Filled:          tracked.Order.FilledQuantity,
		Status:          model.OrderStatusCanceled,
		Timestamp:       time.Now().UnixMilli(),
	}
	t.orders.HandleOrderUpdateFromRaw(raw)
}

// SynchronizeOrder fetches the exchange's view of one order and reconciles
// it. A missing order is presumed gone and forced to canceled.
func (t *Trader) SynchronizeOrder(ctx context.Context, order *model.Order) error {
	raw, err := t.connector.GetOrder(ctx, order.ExchangeOrderID, order.Symbol)
	if err != nil {
		return err
	}
	if raw == nil {
		logger.WithFields(map[string]interface{}{
			"component":         "orders",
			"exchange_order_id": order.ExchangeOrderID,
		}).Info("Order unknown to exchange, presuming canceled")
		raw = &model.RawOrder{
			ExchangeOrderID: order.ExchangeOrderID,
			Symbol:          order.Symbol.String(),
			Side:            order.Side,
			Type:            order.Type,
			Amount:          order.OriginQuantity,
			Price:           order.OriginPrice,
			Filled:          order.FilledQuantity,
			Status:          model.OrderStatusCanceled,
			Timestamp:       time.Now().UnixMilli(),
		}
	}
	t.orders.HandleOrderUpdateFromRaw(raw)
	return nil
}
