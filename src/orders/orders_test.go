package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"
	"tradingcore/src/portfolio"
	"tradingcore/src/trades"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeConnector implements exchange.Connector with overridable behavior for
// the calls the trader makes.
type fakeConnector struct {
	mu sync.Mutex

	createOrderFn func(ctx context.Context, order *model.Order) (*model.RawOrder, error)
	cancelOrderFn func(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (model.OrderStatus, error)
	getOrderFn    func(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (*model.RawOrder, error)
	getBalancesFn func(ctx context.Context) ([]model.RawBalance, error)
	getTickerFn   func(ctx context.Context, symbol model.Symbol) (*model.Ticker, error)

	createCalls int
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) CreateOrder(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createOrderFn != nil {
		return f.createOrderFn(ctx, order)
	}
	return &model.RawOrder{
		ExchangeOrderID: "ex-" + order.ClientOrderID,
		ClientOrderID:   order.ClientOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Status:          model.OrderStatusOpen,
		Timestamp:       time.Now().UnixMilli(),
	}, nil
}

func (f *fakeConnector) CancelOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (model.OrderStatus, error) {
	if f.cancelOrderFn != nil {
		return f.cancelOrderFn(ctx, exchangeOrderID, symbol)
	}
	return model.OrderStatusCanceled, nil
}

func (f *fakeConnector) GetOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (*model.RawOrder, error) {
	if f.getOrderFn != nil {
		return f.getOrderFn(ctx, exchangeOrderID, symbol)
	}
	return nil, nil
}

func (f *fakeConnector) GetBalances(ctx context.Context) ([]model.RawBalance, error) {
	if f.getBalancesFn != nil {
		return f.getBalancesFn(ctx)
	}
	return nil, nil
}

func (f *fakeConnector) GetPriceTicker(ctx context.Context, symbol model.Symbol) (*model.Ticker, error) {
	if f.getTickerFn != nil {
		return f.getTickerFn(ctx, symbol)
	}
	return &model.Ticker{Symbol: symbol.String(), Last: d("100")}, nil
}

func (f *fakeConnector) createCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeConnector) GetOpenOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetClosedOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetPositions(ctx context.Context, symbols []model.Symbol) ([]*model.RawPosition, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetPosition(ctx context.Context, symbol model.Symbol) (*model.RawPosition, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int) ([]model.Candle, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetOrderBook(ctx context.Context, symbol model.Symbol) (*model.OrderBook, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetRecentTrades(ctx context.Context, symbol model.Symbol, limit int) ([]model.PublicTrade, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetMarkPrice(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetMarkPriceAndFunding(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) GetMarkets(ctx context.Context) ([]model.Market, error) {
	return nil, model.ErrNotSupported
}

func (f *fakeConnector) SetLeverage(ctx context.Context, symbol model.Symbol, side model.PositionSide, leverage decimal.Decimal) error {
	return model.ErrNotSupported
}

func (f *fakeConnector) SetMarginType(ctx context.Context, symbol model.Symbol, side model.PositionSide, marginType model.MarginType) error {
	return model.ErrNotSupported
}

func (f *fakeConnector) SupportsFutures() bool     { return false }
func (f *fakeConnector) SupportsDeepHistory() bool { return false }

type fixture struct {
	connector *fakeConnector
	portfolio *portfolio.Manager
	trades    *trades.Manager
	orders    *Manager
	trader    *Trader
	registry  *channels.Registry
	events    *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []channels.OrderPayload
}

func (r *eventRecorder) record(e channels.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Payload.(channels.OrderPayload))
	return nil
}

func (r *eventRecorder) countByType(t model.OrderUpdateType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.UpdateType == t {
			n++
		}
	}
	return n
}

// waitForEvents polls until at least n events arrived, asynchronous
// consumers deliver with a small lag.
func (r *eventRecorder) waitForEvents(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.events)
		r.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d order events", n)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := channels.NewRegistry("test-exchange-id")
	ch, err := registry.CreateChannel(channels.OrdersChannel)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	recorder := &eventRecorder{}
	ch.NewConsumer(recorder.record, channels.MatchAll(), channels.PriorityMedium, 0)

	portfolioMgr := portfolio.NewManager("binance", "test-exchange-id", false)
	portfolioMgr.HandleBalanceSnapshot([]model.RawBalance{
		{Currency: "USDT", Free: d("1000"), Total: d("1000")},
		{Currency: "BTC", Free: d("1"), Total: d("1")},
	}, true)

	tradesMgr := trades.NewManager("binance", "test-exchange-id")
	ordersMgr := NewManager("binance", "test-exchange-id", tradesMgr, portfolioMgr)
	ordersMgr.BindProducer(ch.NewProducer())

	connector := &fakeConnector{}
	trader := NewTrader("binance", "test-exchange-id", connector, ordersMgr, portfolioMgr, false)

	t.Cleanup(registry.StopAll)

	return &fixture{
		connector: connector,
		portfolio: portfolioMgr,
		trades:    tradesMgr,
		orders:    ordersMgr,
		trader:    trader,
		registry:  registry,
		events:    recorder,
	}
}

func limitBuy(qty, price string) *model.Order {
	return &model.Order{
		Symbol:         model.NewSymbol("BTC", "USDT"),
		Side:           model.OrderSideBuy,
		Type:           model.OrderTypeLimit,
		OriginQuantity: d(qty),
		OriginPrice:    d(price),
	}
}

func TestCreateOrderLocksFundsAndEmitsNew(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ExchangeOrderID == "" {
		t.Fatal("expected an exchange order id")
	}

	usdt := f.portfolio.GetBalance("USDT")
	if !usdt.Used.Equal(d("140")) || !usdt.Free.Equal(d("860")) {
		t.Fatalf("expected used=140 free=860, got used=%s free=%s", usdt.Used, usdt.Free)
	}

	if _, ok := f.orders.Get(order.ExchangeOrderID); !ok {
		t.Fatal("order not registered")
	}

	f.events.waitForEvents(t, 1)
	if got := f.events.countByType(model.OrderUpdateTypeNew); got != 1 {
		t.Fatalf("expected exactly 1 NEW event, got %d", got)
	}
}

func TestCreateOrderFailsFastOnMissingFunds(t *testing.T) {
	f := newFixture(t)

	_, err := f.trader.CreateOrder(context.Background(), limitBuy("100", "70"))
	if !errors.Is(err, model.ErrMissingFunds) {
		t.Fatalf("expected ErrMissingFunds, got %v", err)
	}
	if f.connector.createCallCount() != 0 {
		t.Fatal("exchange should not have been called")
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.IsZero() {
		t.Fatalf("no funds should stay locked, got used=%s", used)
	}
}

func TestCreateOrderRetriesOnceAfterExchangeRefusal(t *testing.T) {
	f := newFixture(t)

	attempts := 0
	f.connector.createOrderFn = func(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
		attempts++
		if attempts == 1 {
			return nil, model.ErrMissingFunds
		}
		return &model.RawOrder{
			ExchangeOrderID: "ex-retry",
			ClientOrderID:   order.ClientOrderID,
			Symbol:          order.Symbol.String(),
			Side:            order.Side,
			Type:            order.Type,
			Amount:          order.OriginQuantity,
			Price:           order.OriginPrice,
			Status:          model.OrderStatusOpen,
		}, nil
	}
	refreshed := false
	f.connector.getBalancesFn = func(ctx context.Context) ([]model.RawBalance, error) {
		refreshed = true
		return []model.RawBalance{{Currency: "USDT", Free: d("1000"), Total: d("1000")}}, nil
	}

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !refreshed {
		t.Fatal("portfolio should have been refreshed between attempts")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 submission attempts, got %d", attempts)
	}
	if order.ExchangeOrderID != "ex-retry" {
		t.Fatalf("unexpected exchange order id %q", order.ExchangeOrderID)
	}
}

func TestCreateOrderUnlocksFundsOnRefusal(t *testing.T) {
	f := newFixture(t)

	f.connector.createOrderFn = func(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
		return nil, errors.New("exchange says no")
	}

	_, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	var creationErr *model.OrderCreationError
	if !errors.As(err, &creationErr) {
		t.Fatalf("expected OrderCreationError, got %v", err)
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.IsZero() {
		t.Fatalf("funds must be unlocked after refusal, got used=%s", used)
	}
}

func TestDuplicateUpdateEmitsSingleNewEvent(t *testing.T) {
	f := newFixture(t)

	raw := &model.RawOrder{
		ExchangeOrderID: "dup-1",
		Symbol:          "BTC/USDT",
		Side:            model.OrderSideBuy,
		Type:            model.OrderTypeLimit,
		Amount:          d("1"),
		Price:           d("50"),
		Status:          model.OrderStatusOpen,
	}

	first := f.orders.HandleOrderUpdateFromRaw(raw)
	if first.Kind != RefreshSuccess {
		t.Fatalf("first upsert: expected success, got %v (%s)", first.Kind, first.Reason)
	}
	second := f.orders.HandleOrderUpdateFromRaw(raw)
	if second.Kind != RefreshStateUnchanged {
		t.Fatalf("second upsert: expected unchanged, got %v", second.Kind)
	}

	f.events.waitForEvents(t, 1)
	time.Sleep(50 * time.Millisecond)
	if got := f.events.countByType(model.OrderUpdateTypeNew); got != 1 {
		t.Fatalf("expected exactly 1 NEW event, got %d", got)
	}
	if got := f.events.countByType(model.OrderUpdateTypeStateChange); got != 0 {
		t.Fatalf("expected no STATE_CHANGE events, got %d", got)
	}
}

func TestStaleEchoAfterCancelKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	canceled, status, err := f.trader.CancelOrder(context.Background(), tracked, false)
	if err != nil || !canceled {
		t.Fatalf("CancelOrder: canceled=%v status=%s err=%v", canceled, status, err)
	}
	if order.Status != model.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}

	// a delayed refresh echoes the pre-cancel view
	stale := &model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Status:          model.OrderStatusOpen,
	}
	outcome := f.orders.HandleOrderUpdateFromRaw(stale)
	if outcome.Kind != RefreshStateUnchanged {
		t.Fatalf("stale echo must be discarded, got %v", outcome.Kind)
	}
	if order.Status != model.OrderStatusCanceled {
		t.Fatalf("status must stay canceled, got %s", order.Status)
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.IsZero() {
		t.Fatalf("funds must stay unlocked, got used=%s", used)
	}
}

func TestLateEchoOfClosedOrderDiscarded(t *testing.T) {
	f := newFixture(t)

	// the order closed long ago and its closing trade is on record
	closing := &model.Trade{
		TradeID:        "t-1",
		OriginOrderID:  "gone-1",
		Symbol:         model.NewSymbol("BTC", "USDT"),
		Status:         model.TradeStatusFilled,
		IsClosingOrder: true,
	}
	f.trades.UpsertTrade(closing)

	echo := &model.RawOrder{
		ExchangeOrderID: "gone-1",
		Symbol:          "BTC/USDT",
		Side:            model.OrderSideSell,
		Type:            model.OrderTypeLimit,
		Amount:          d("1"),
		Price:           d("90"),
		Status:          model.OrderStatusOpen,
	}
	outcome := f.orders.HandleOrderUpdateFromRaw(echo)
	if outcome.Kind != RefreshStateUnchanged {
		t.Fatalf("late echo must be discarded, got %v", outcome.Kind)
	}
	if _, ok := f.orders.Get("gone-1"); ok {
		t.Fatal("late echo must not resurrect the order")
	}
}

func TestCancelDuringFillReturnsPromptly(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)
	if err := tracked.State.Transition(StateFilling); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	done := make(chan struct{})
	var canceled bool
	var cancelErr error
	go func() {
		canceled, _, cancelErr = f.trader.CancelOrder(context.Background(), tracked, true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel of a filling order must not block")
	}
	if canceled || cancelErr != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", canceled, cancelErr)
	}
}

func TestCancelTwiceSecondIsNoop(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	first, _, err := f.trader.CancelOrder(context.Background(), tracked, false)
	if err != nil || !first {
		t.Fatalf("first cancel: canceled=%v err=%v", first, err)
	}
	second, _, err := f.trader.CancelOrder(context.Background(), tracked, false)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second {
		t.Fatal("second cancel must be a no-op")
	}
}

func TestCancelOrderNotFoundResolvesThroughPoll(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	f.connector.cancelOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (model.OrderStatus, error) {
		return "", model.ErrOrderNotFoundOnCancel
	}
	// the poll reveals the order actually filled before the cancel landed
	f.connector.getOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (*model.RawOrder, error) {
		return &model.RawOrder{
			ExchangeOrderID: id,
			Symbol:          order.Symbol.String(),
			Side:            order.Side,
			Type:            order.Type,
			Amount:          order.OriginQuantity,
			Price:           order.OriginPrice,
			Filled:          order.OriginQuantity,
			AverageFill:     order.OriginPrice,
			Status:          model.OrderStatusFilled,
		}, nil
	}

	_, _, err = f.trader.CancelOrder(context.Background(), tracked, false)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != model.OrderStatusFilled {
		t.Fatalf("poll must settle the order as filled, got %s", order.Status)
	}

	btc := f.portfolio.GetBalance("BTC")
	if !btc.Free.Equal(d("3")) {
		t.Fatalf("fill must credit the base asset, got BTC free=%s", btc.Free)
	}
}

func TestCancelOrderGoneForcesCanceled(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	f.connector.cancelOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (model.OrderStatus, error) {
		return "", model.ErrOrderNotFoundOnCancel
	}

	canceled, status, err := f.trader.CancelOrder(context.Background(), tracked, false)
	if err != nil || !canceled {
		t.Fatalf("CancelOrder: canceled=%v err=%v", canceled, err)
	}
	if status != model.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", status)
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.IsZero() {
		t.Fatalf("funds must be released, got used=%s", used)
	}
}

func TestWaitForCancelReturnsWhenFillWins(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	f.connector.cancelOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (model.OrderStatus, error) {
		return model.OrderStatusPendingCancel, nil
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.orders.HandleOrderUpdateFromRaw(&model.RawOrder{
			ExchangeOrderID: order.ExchangeOrderID,
			Symbol:          order.Symbol.String(),
			Side:            order.Side,
			Type:            order.Type,
			Amount:          order.OriginQuantity,
			Price:           order.OriginPrice,
			Filled:          order.OriginQuantity,
			AverageFill:     order.OriginPrice,
			Status:          model.OrderStatusFilled,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if _, _, err := f.trader.CancelOrder(ctx, tracked, true); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("wait must unblock as soon as the concurrent fill lands")
	}
	if order.Status != model.OrderStatusFilled {
		t.Fatalf("expected filled, got %s", order.Status)
	}
}

func TestDriftDetectionForcesSynchronization(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tracked, _ := f.orders.Get(order.ExchangeOrderID)

	f.connector.getOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (*model.RawOrder, error) {
		return &model.RawOrder{
			ExchangeOrderID: id,
			Symbol:          order.Symbol.String(),
			Side:            order.Side,
			Type:            order.Type,
			Amount:          order.OriginQuantity,
			Price:           order.OriginPrice,
			Status:          model.OrderStatusCanceled,
		}, nil
	}

	// an open-orders poll no longer lists the order
	f.orders.DetectDrift(context.Background(), map[string]bool{})

	if !tracked.State.IsTerminal() {
		t.Fatalf("drifted order must settle terminal, state=%s", tracked.State.State())
	}
	if order.Status != model.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.IsZero() {
		t.Fatalf("funds must be released, got used=%s", used)
	}
}

func TestWaitingOrdersFinalizedAfterPortfolioRefresh(t *testing.T) {
	f := newFixture(t)

	// a remote order larger than the stale local portfolio allows
	raw := &model.RawOrder{
		ExchangeOrderID: "remote-1",
		Symbol:          "BTC/USDT",
		Side:            model.OrderSideBuy,
		Type:            model.OrderTypeLimit,
		Amount:          d("100"),
		Price:           d("70"),
		Status:          model.OrderStatusOpen,
	}
	outcome := f.orders.HandleOrderUpdateFromRaw(raw)
	if outcome.Kind != RefreshRetriableFailure {
		t.Fatalf("expected retriable failure, got %v", outcome.Kind)
	}
	if _, ok := f.orders.Get("remote-1"); ok {
		t.Fatal("parked order must not be registered yet")
	}

	f.orders.FinalizeWaitingOrders(context.Background(), func(ctx context.Context) error {
		f.portfolio.HandleBalanceSnapshot([]model.RawBalance{
			{Currency: "USDT", Free: d("10000"), Total: d("10000")},
		}, true)
		return nil
	})

	tracked, ok := f.orders.Get("remote-1")
	if !ok {
		t.Fatal("order must be registered after the refresh")
	}
	if tracked.State.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", tracked.State.State())
	}
	if used := f.portfolio.GetBalance("USDT").Used; !used.Equal(d("7000")) {
		t.Fatalf("expected used=7000, got %s", used)
	}
}

func TestChainedOrderSubmittedOnFill(t *testing.T) {
	f := newFixture(t)

	parent, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	exit := &model.Order{
		Symbol:         parent.Symbol,
		Side:           model.OrderSideSell,
		Type:           model.OrderTypeLimit,
		OriginQuantity: d("2"),
		OriginPrice:    d("90"),
	}
	f.trader.RegisterChainedOrder(parent, &WrappedOrder{Order: exit, Trigger: TriggerOnFill})

	if got := len(f.trader.ChainedOrders(parent.ExchangeOrderID)); got != 1 {
		t.Fatalf("expected 1 pending chained order, got %d", got)
	}
	if len(exit.AssociatedEntryIDs) != 1 || exit.AssociatedEntryIDs[0] != parent.ExchangeOrderID {
		t.Fatalf("chained order must link its entry, got %v", exit.AssociatedEntryIDs)
	}

	f.orders.HandleOrderUpdateFromRaw(&model.RawOrder{
		ExchangeOrderID: parent.ExchangeOrderID,
		Symbol:          parent.Symbol.String(),
		Side:            parent.Side,
		Type:            parent.Type,
		Amount:          parent.OriginQuantity,
		Price:           parent.OriginPrice,
		Filled:          parent.OriginQuantity,
		AverageFill:     parent.OriginPrice,
		Status:          model.OrderStatusFilled,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.connector.createCallCount() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := f.connector.createCallCount(); got != 2 {
		t.Fatalf("chained order must be submitted after the fill, create calls=%d", got)
	}
	if got := len(f.trader.ChainedOrders(parent.ExchangeOrderID)); got != 0 {
		t.Fatalf("chained order must be consumed, %d left", got)
	}
}

func TestChainedOrderNotSubmittedOnCancel(t *testing.T) {
	f := newFixture(t)

	parent, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	exit := &model.Order{
		Symbol:         parent.Symbol,
		Side:           model.OrderSideSell,
		Type:           model.OrderTypeLimit,
		OriginQuantity: d("2"),
		OriginPrice:    d("90"),
	}
	f.trader.RegisterChainedOrder(parent, &WrappedOrder{Order: exit, Trigger: TriggerOnFill})

	tracked, _ := f.orders.Get(parent.ExchangeOrderID)
	if _, _, err := f.trader.CancelOrder(context.Background(), tracked, false); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := f.connector.createCallCount(); got != 1 {
		t.Fatalf("fill-triggered order must not fire on cancel, create calls=%d", got)
	}
}

func TestTerminalFillSettlesPortfolioAndTrades(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	f.orders.HandleOrderUpdateFromRaw(&model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          order.OriginQuantity,
		AverageFill:     order.OriginPrice,
		Cost:            d("140"),
		Status:          model.OrderStatusFilled,
	})

	usdt := f.portfolio.GetBalance("USDT")
	btc := f.portfolio.GetBalance("BTC")
	if !usdt.Used.IsZero() || !usdt.Free.Equal(d("860")) {
		t.Fatalf("expected USDT used=0 free=860, got used=%s free=%s", usdt.Used, usdt.Free)
	}
	if !btc.Free.Equal(d("3")) || !btc.Total.Equal(d("3")) {
		t.Fatalf("expected BTC free=3 total=3, got free=%s total=%s", btc.Free, btc.Total)
	}

	trade, ok := f.trades.GetTrade(order.ClientOrderID)
	if !ok {
		t.Fatal("fill must record a trade")
	}
	if trade.Status != model.TradeStatusFilled {
		t.Fatalf("expected filled trade, got %s", trade.Status)
	}

	// repeated fill echoes settle nothing twice
	f.orders.HandleOrderUpdateFromRaw(&model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          order.OriginQuantity,
		AverageFill:     order.OriginPrice,
		Cost:            d("140"),
		Status:          model.OrderStatusFilled,
	})
	if got := f.portfolio.GetBalance("BTC").Free; !got.Equal(d("3")) {
		t.Fatalf("duplicate fill echo must not settle twice, BTC free=%s", got)
	}
}

func TestCancelAfterPartialFillSettlesExecutedQuantity(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	f.orders.HandleOrderUpdateFromRaw(&model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          d("1"),
		AverageFill:     d("70"),
		Status:          model.OrderStatusPartiallyFilled,
	})

	canceled := &model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          d("1"),
		AverageFill:     d("70"),
		Status:          model.OrderStatusCanceled,
	}
	f.orders.HandleOrderUpdateFromRaw(canceled)

	// 1 of 2 BTC executed at 70: the 70 USDT spent stays spent, only the
	// residual 70 returns to free
	usdt := f.portfolio.GetBalance("USDT")
	if !usdt.Used.IsZero() || !usdt.Free.Equal(d("930")) || !usdt.Total.Equal(d("930")) {
		t.Fatalf("expected USDT used=0 free=930 total=930, got used=%s free=%s total=%s",
			usdt.Used, usdt.Free, usdt.Total)
	}
	btc := f.portfolio.GetBalance("BTC")
	if !btc.Free.Equal(d("2")) {
		t.Fatalf("executed quantity must be credited, got BTC free=%s", btc.Free)
	}

	// a duplicate cancel echo settles nothing twice
	f.orders.HandleOrderUpdateFromRaw(canceled)
	if got := f.portfolio.GetBalance("USDT").Free; !got.Equal(d("930")) {
		t.Fatalf("duplicate cancel echo must not settle twice, USDT free=%s", got)
	}
}

func TestConcurrentUpdatesSettleOnce(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	partial := &model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          d("1"),
		AverageFill:     d("70"),
		Status:          model.OrderStatusPartiallyFilled,
	}
	filled := &model.RawOrder{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          order.Symbol.String(),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.OriginQuantity,
		Price:           order.OriginPrice,
		Filled:          order.OriginQuantity,
		AverageFill:     order.OriginPrice,
		Status:          model.OrderStatusFilled,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.orders.HandleOrderUpdateFromRaw(partial)
				f.orders.HandleOrderUpdateFromRaw(filled)
			}
		}()
	}
	wg.Wait()

	if !mustTracked(t, f, order.ExchangeOrderID).State.IsTerminal() {
		t.Fatal("order must settle terminal")
	}
	if !order.FilledQuantity.Equal(d("2")) {
		t.Fatalf("filled quantity = %s, want 2", order.FilledQuantity)
	}
	usdt := f.portfolio.GetBalance("USDT")
	btc := f.portfolio.GetBalance("BTC")
	if !usdt.Used.IsZero() || !usdt.Free.Equal(d("860")) {
		t.Fatalf("fill must settle exactly once, USDT used=%s free=%s", usdt.Used, usdt.Free)
	}
	if !btc.Free.Equal(d("3")) {
		t.Fatalf("fill must settle exactly once, BTC free=%s", btc.Free)
	}
}

func mustTracked(t *testing.T, f *fixture, exchangeOrderID string) *TrackedOrder {
	t.Helper()
	tr, ok := f.orders.Get(exchangeOrderID)
	if !ok {
		t.Fatalf("order %s not tracked", exchangeOrderID)
	}
	return tr
}

func TestCancelErrorKeepsPendingCancelState(t *testing.T) {
	f := newFixture(t)

	order, err := f.trader.CreateOrder(context.Background(), limitBuy("2", "70"))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	tr := mustTracked(t, f, order.ExchangeOrderID)

	f.connector.cancelOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (model.OrderStatus, error) {
		return model.OrderStatusPendingCancel, nil
	}
	if _, _, err := f.trader.CancelOrder(context.Background(), tr, false); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if tr.State.State() != StatePendingCancel {
		t.Fatalf("expected PENDING_CANCEL, got %s", tr.State.State())
	}

	// a retried cancel that fails must not forget the acknowledged cancel
	f.connector.cancelOrderFn = func(ctx context.Context, id string, symbol model.Symbol) (model.OrderStatus, error) {
		return "", errors.New("exchange hiccup")
	}
	if _, _, err := f.trader.CancelOrder(context.Background(), tr, false); err == nil {
		t.Fatal("expected the connector error to surface")
	}
	if tr.State.State() != StatePendingCancel {
		t.Fatalf("state must return to PENDING_CANCEL, got %s", tr.State.State())
	}
	if order.Status != model.OrderStatusPendingCancel {
		t.Fatalf("status must stay PENDING_CANCEL, got %s", order.Status)
	}
}

func TestSelfManagedOrderSkipsExchange(t *testing.T) {
	f := newFixture(t)

	order := limitBuy("2", "70")
	order.IsSelfManaged = true

	created, err := f.trader.CreateOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if f.connector.createCallCount() != 0 {
		t.Fatal("self-managed orders never reach the exchange")
	}
	if created.ExchangeOrderID != created.ClientOrderID {
		t.Fatal("self-managed orders are keyed by their client id")
	}
}

func TestRestoreVirtualOrderDoesNotReEmitNew(t *testing.T) {
	f := newFixture(t)

	order := limitBuy("1", "50")
	order.IsSelfManaged = true
	order.ExchangeOrderID = "virtual-1"
	order.ClientOrderID = "virtual-1"
	order.Status = model.OrderStatusOpen

	if tracked := f.orders.RestoreVirtualOrder(order); tracked == nil {
		t.Fatal("RestoreVirtualOrder returned nil")
	}
	time.Sleep(50 * time.Millisecond)
	if got := f.events.countByType(model.OrderUpdateTypeNew); got != 0 {
		t.Fatalf("restored orders were announced in a previous life, got %d NEW events", got)
	}
}

func TestCanCreateOrder(t *testing.T) {
	f := newFixture(t)

	data, err := f.trader.GetPreOrderData(context.Background(), model.NewSymbol("BTC", "USDT"))
	if err != nil {
		t.Fatalf("GetPreOrderData: %v", err)
	}
	if !data.MarketQuantity.Equal(d("10")) {
		t.Fatalf("expected market quantity 10, got %s", data.MarketQuantity)
	}
	if !f.trader.CanCreateOrder(model.OrderSideBuy, data) {
		t.Fatal("buy should be possible with quote funds")
	}
	if !f.trader.CanCreateOrder(model.OrderSideSell, data) {
		t.Fatal("sell should be possible with base funds")
	}

	f.portfolio.HandleBalanceSnapshot([]model.RawBalance{}, true)
	data, err = f.trader.GetPreOrderData(context.Background(), model.NewSymbol("BTC", "USDT"))
	if err != nil {
		t.Fatalf("GetPreOrderData: %v", err)
	}
	if f.trader.CanCreateOrder(model.OrderSideBuy, data) {
		t.Fatal("buy with zero market quantity must be refused")
	}
}
