package updaters

import (
	"context"
	"time"

	"tradingcore/src/exchange"
	"tradingcore/src/jobs"
	"tradingcore/src/model"
	"tradingcore/src/orders"

	logger "github.com/sirupsen/logrus"
)

const (
	openOrdersUpdatePeriod   = 7 * time.Second
	closedOrdersUpdatePeriod = 81 * time.Second
	// ordersJobSeparation keeps the open and closed polls from hammering
	// the exchange back to back.
	ordersJobSeparation = 2 * time.Second

	openOrdersInitTimeout = 30 * time.Second
)

// OrderHistorySource restores self-managed orders persisted by a previous
// run.
type OrderHistorySource interface {
	GetOrderHistory() ([]*model.Order, error)
}

// OrdersUpdater keeps the local order store aligned with the exchange: an
// authoritative open-orders poll, a best-effort closed-orders poll, drift
// detection and finalization of orders parked on a portfolio shortfall.
type OrdersUpdater struct {
	exchange   string
	exchangeID string
	connector  exchange.Connector
	orders     *orders.Manager
	trader     *orders.Trader
	symbols    []model.Symbol

	// ContractsReady gates initialization on futures exchanges until
	// contract and position metadata has been loaded.
	ContractsReady func() bool
	History        OrderHistorySource

	openJob   *jobs.AsyncJob
	closedJob *jobs.AsyncJob
}

func NewOrdersUpdater(exchangeName, exchangeID string, connector exchange.Connector, ordersMgr *orders.Manager, trader *orders.Trader, symbols []model.Symbol) *OrdersUpdater {
	u := &OrdersUpdater{
		exchange:   exchangeName,
		exchangeID: exchangeID,
		connector:  connector,
		orders:     ordersMgr,
		trader:     trader,
		symbols:    symbols,
	}
	u.openJob = jobs.NewAsyncJob("update_open_orders", openOrdersUpdatePeriod, u.updateOpenOrders).
		WithMinExecutionDelay(ordersJobSeparation)
	u.closedJob = jobs.NewAsyncJob("update_closed_orders", closedOrdersUpdatePeriod, u.updateClosedOrders).
		WithMinExecutionDelay(ordersJobSeparation)
	u.openJob.AddDependency(u.closedJob)
	u.closedJob.AddDependency(u.openJob)
	return u
}

func (u *OrdersUpdater) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "updaters",
		"updater":   "orders",
	})
}

// Run initializes the order store and then drives both periodic polls
// until the context is canceled.
func (u *OrdersUpdater) Run(ctx context.Context) {
	if err := u.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		u.log().WithError(err).Error("Orders initialization failed")
		return
	}

	go u.openJob.Run(ctx)
	go u.closedJob.Run(ctx)

	<-ctx.Done()
	u.openJob.Stop()
	u.closedJob.Stop()
}

// Initialize restores virtual orders, loads the authoritative open-orders
// snapshot (retried up to 30s) and best-effort closed history.
func (u *OrdersUpdater) Initialize(ctx context.Context) error {
	if u.connector.SupportsFutures() && u.ContractsReady != nil {
		if err := u.waitContractsReady(ctx); err != nil {
			return err
		}
	}

	u.restoreVirtualOrders()

	err := exchange.RetryTillSuccess(ctx, openOrdersInitTimeout, func(ctx context.Context) error {
		return u.updateOpenOrders(ctx)
	})
	if err != nil {
		return err
	}

	// closed history enriches trades but is not required to operate
	if err := u.updateClosedOrders(ctx); err != nil {
		u.log().WithError(err).Warn("Closed-orders history unavailable")
	}
	return nil
}

func (u *OrdersUpdater) waitContractsReady(ctx context.Context) error {
	for !u.ContractsReady() {
		if !sleepCtx(ctx, 200*time.Millisecond) {
			return ctx.Err()
		}
	}
	return nil
}

func (u *OrdersUpdater) restoreVirtualOrders() {
	if u.History == nil {
		return
	}
	stored, err := u.History.GetOrderHistory()
	if err != nil {
		u.log().WithError(err).Warn("Order history unavailable, skipping virtual restore")
		return
	}
	restored := 0
	for _, order := range stored {
		if !order.IsSelfManaged || order.Status.IsTerminal() {
			continue
		}
		if u.orders.RestoreVirtualOrder(order) != nil {
			restored++
		}
	}
	if restored > 0 {
		u.log().WithField("count", restored).Info("Restored virtual orders")
	}
}

// updateOpenOrders polls every traded symbol, reconciles each raw order,
// then runs drift detection and finalizes parked orders.
func (u *OrdersUpdater) updateOpenOrders(ctx context.Context) error {
	remoteOpen := make(map[string]bool)
	for _, symbol := range u.symbols {
		raws, err := u.connector.GetOpenOrders(ctx, symbol, 0)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			remoteOpen[raw.ExchangeOrderID] = true
			u.orders.HandleOrderUpdateFromRaw(raw)
		}
	}

	u.orders.DetectDrift(ctx, remoteOpen)
	u.orders.FinalizeWaitingOrders(ctx, func(ctx context.Context) error {
		return u.trader.RefreshPortfolio(ctx)
	})
	return nil
}

func (u *OrdersUpdater) updateClosedOrders(ctx context.Context) error {
	for _, symbol := range u.symbols {
		raws, err := u.connector.GetClosedOrders(ctx, symbol, 0)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			u.orders.HandleOrderUpdateFromRaw(raw)
		}
	}
	return nil
}

// RefreshOrder triggers one out-of-cycle synchronization of a single
// order against the exchange.
func (u *OrdersUpdater) RefreshOrder(ctx context.Context, tracked *orders.TrackedOrder, force bool) error {
	job := jobs.NewAsyncJob("update_order_from_exchange", 0, func(ctx context.Context) error {
		return tracked.State.Synchronize(ctx, force)
	}).IgnoreDependenciesCheck()
	return job.RunOnce(ctx, true)
}

// TriggerOpenOrdersRefresh forces the open-orders poll outside its period.
func (u *OrdersUpdater) TriggerOpenOrdersRefresh(ctx context.Context) error {
	return u.openJob.Trigger(ctx)
}
