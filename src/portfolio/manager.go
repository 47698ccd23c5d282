package portfolio

import (
	"fmt"
	"sync"

	"tradingcore/src/channels"
	"tradingcore/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Manager holds the authoritative local portfolio of one trading account:
// one balance per currency with total = free + used.
//
// Two locks are involved. The internal state mutex guards every balance
// mutation and snapshot. The coordination lock is taken by order-creation
// paths around precheck-submit-upsert sequences so balance prechecks stay
// atomic against concurrent fills; it is never held across a blocking
// exchange call, and readers only need the state mutex.
type Manager struct {
	exchange   string
	exchangeID string

	// IsFutures allows total to go negative while tracking unrealized PnL.
	isFutures bool

	coordMu sync.Mutex

	mu       sync.Mutex
	balances map[string]model.Balance

	producer *channels.Producer

	allowFundsTransfer bool
}

func NewManager(exchange, exchangeID string, isFutures bool) *Manager {
	cfg := GetConfig()
	return &Manager{
		exchange:           exchange,
		exchangeID:         exchangeID,
		isFutures:          isFutures,
		balances:           make(map[string]model.Balance),
		allowFundsTransfer: cfg.AllowFundsTransfer,
	}
}

// BindProducer attaches the balance-channel producer used to notify
// subscribers after each mutation.
func (m *Manager) BindProducer(p *channels.Producer) {
	m.producer = p
}

// Lock acquires the coordination lock for an order-creation sequence.
func (m *Manager) Lock() {
	m.coordMu.Lock()
}

func (m *Manager) Unlock() {
	m.coordMu.Unlock()
}

// Snapshot copies the current balances. Reads never wait on the
// coordination lock.
func (m *Manager) Snapshot() map[string]model.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Balance, len(m.balances))
	for currency, balance := range m.balances {
		out[currency] = balance
	}
	return out
}

func (m *Manager) GetBalance(currency string) model.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[currency]
}

// HandleBalanceSnapshot applies an exchange balance snapshot, the
// authoritative source. With replace set, currencies absent from the
// snapshot are dropped; otherwise entries are merged in.
func (m *Manager) HandleBalanceSnapshot(raws []model.RawBalance, replace bool) {
	m.mu.Lock()
	if replace {
		m.balances = make(map[string]model.Balance, len(raws))
	}
	for _, raw := range raws {
		total := raw.Total
		if total.IsZero() {
			total = raw.Free.Add(raw.Used)
		}
		m.balances[raw.Currency] = model.Balance{Free: raw.Free, Used: raw.Used, Total: total}
	}
	m.mu.Unlock()

	m.notify()
}

// CanAffordOrder prechecks an order against the total balance. Creation is
// allowed to bypass funds locked by other orders, so the check is against
// total rather than free.
func (m *Manager) CanAffordOrder(order *model.Order) bool {
	currency, amount := orderLockTarget(order)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[currency].Total.GreaterThanOrEqual(amount)
}

// LockFundsForOrder moves the order's value from free to used when the
// order opens.
func (m *Manager) LockFundsForOrder(order *model.Order) error {
	currency, amount := orderLockTarget(order)

	m.mu.Lock()
	balance := m.balances[currency]
	if balance.Free.LessThan(amount) && !m.isFutures {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %s needed, %s free", model.ErrMissingFunds,
			amount, currency, balance.Free)
	}
	balance.Free = balance.Free.Sub(amount)
	balance.Used = balance.Used.Add(amount)
	m.balances[currency] = balance
	m.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"component": "portfolio",
		"op":        "LockFundsForOrder",
		"currency":  currency,
		"amount":    amount.String(),
	}).Debug("Funds locked")

	m.notify()
	return nil
}

// UnlockFundsForOrder releases the locked value back to free on cancel.
func (m *Manager) UnlockFundsForOrder(order *model.Order) {
	currency, amount := orderLockTarget(order)

	m.mu.Lock()
	balance := m.balances[currency]
	if amount.GreaterThan(balance.Used) {
		amount = balance.Used
	}
	balance.Used = balance.Used.Sub(amount)
	balance.Free = balance.Free.Add(amount)
	m.balances[currency] = balance
	m.mu.Unlock()

	m.notify()
}

// HandleOrderFill settles a filled order: the locked value is consumed, the
// counter currency is credited and the fee deducted.
func (m *Manager) HandleOrderFill(order *model.Order) {
	lockedCurrency, lockedAmount := orderLockTarget(order)
	actualCost := order.FilledQuantity.Mul(order.FilledPrice)

	m.mu.Lock()
	spent := m.balances[lockedCurrency]
	spent.Used = spent.Used.Sub(lockedAmount)
	if spent.Used.IsNegative() {
		spent.Used = decimal.Zero
	}

	if order.Side == model.OrderSideBuy {
		// Refund the difference between the reserved value and the
		// actual fill cost.
		refund := lockedAmount.Sub(actualCost)
		spent.Free = spent.Free.Add(refund)
		spent.Total = spent.Free.Add(spent.Used)
		m.balances[lockedCurrency] = spent

		gained := m.balances[order.Symbol.Base]
		gained.Free = gained.Free.Add(order.FilledQuantity)
		gained.Total = gained.Free.Add(gained.Used)
		m.balances[order.Symbol.Base] = gained
	} else {
		refund := lockedAmount.Sub(order.FilledQuantity)
		spent.Free = spent.Free.Add(refund)
		spent.Total = spent.Free.Add(spent.Used)
		m.balances[lockedCurrency] = spent

		gained := m.balances[order.Symbol.Quote]
		gained.Free = gained.Free.Add(actualCost)
		gained.Total = gained.Free.Add(gained.Used)
		m.balances[order.Symbol.Quote] = gained
	}

	if order.Fee != nil && !order.Fee.Cost.IsZero() {
		feeBalance := m.balances[order.Fee.Currency]
		feeBalance.Free = feeBalance.Free.Sub(order.Fee.Cost)
		feeBalance.Total = feeBalance.Free.Add(feeBalance.Used)
		m.balances[order.Fee.Currency] = feeBalance
	}
	m.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"component": "portfolio",
		"op":        "HandleOrderFill",
		"symbol":    order.Symbol.String(),
		"side":      string(order.Side),
		"cost":      actualCost.String(),
	}).Debug("Fill applied to portfolio")

	m.notify()
}

// HandleFundingFee deducts a funding payment from the available balance and
// returns the part that could not be covered, which the caller takes out of
// the position margin instead of failing.
func (m *Manager) HandleFundingFee(currency string, amount decimal.Decimal) (fromMargin decimal.Decimal) {
	m.mu.Lock()
	balance := m.balances[currency]

	covered := amount
	if balance.Free.LessThan(amount) {
		covered = balance.Free
		fromMargin = amount.Sub(balance.Free)
	}
	balance.Free = balance.Free.Sub(covered)
	balance.Total = balance.Free.Add(balance.Used)
	m.balances[currency] = balance
	m.mu.Unlock()

	if fromMargin.IsPositive() {
		logger.WithFields(map[string]interface{}{
			"component":   "portfolio",
			"op":          "HandleFundingFee",
			"currency":    currency,
			"from_margin": fromMargin.String(),
		}).Warn("Funding fee exceeds available balance, remainder taken from position margin")
	}

	m.notify()
	return fromMargin
}

// HandleWithdrawal removes funds leaving the exchange account.
func (m *Manager) HandleWithdrawal(currency string, amount decimal.Decimal) error {
	if !m.allowFundsTransfer {
		return model.ErrDisabledFundsTransfer
	}

	m.mu.Lock()
	balance := m.balances[currency]
	if balance.Free.LessThan(amount) {
		m.mu.Unlock()
		return fmt.Errorf("%w: withdrawal of %s %s exceeds free balance %s",
			model.ErrMissingFunds, amount, currency, balance.Free)
	}
	balance.Free = balance.Free.Sub(amount)
	balance.Total = balance.Free.Add(balance.Used)
	m.balances[currency] = balance
	m.mu.Unlock()

	m.notify()
	return nil
}

// HandleDeposit credits funds arriving on the exchange account.
func (m *Manager) HandleDeposit(currency string, amount decimal.Decimal) {
	m.mu.Lock()
	balance := m.balances[currency]
	balance.Free = balance.Free.Add(amount)
	balance.Total = balance.Free.Add(balance.Used)
	m.balances[currency] = balance
	m.mu.Unlock()

	m.notify()
}

// ApplyRealizedPnl books a realized PnL delta in the settlement currency.
// Futures accounts may drive total negative here; spot accounts clamp.
func (m *Manager) ApplyRealizedPnl(currency string, delta decimal.Decimal) {
	m.mu.Lock()
	balance := m.balances[currency]
	balance.Free = balance.Free.Add(delta)
	if balance.Free.IsNegative() && !m.isFutures {
		balance.Free = decimal.Zero
	}
	balance.Total = balance.Free.Add(balance.Used)
	m.balances[currency] = balance
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) notify() {
	if m.producer == nil {
		return
	}
	payload := channels.BalancePayload{
		Exchange:   m.exchange,
		ExchangeID: m.exchangeID,
		Balances:   m.Snapshot(),
	}
	if err := m.producer.Send(map[string]string{}, payload); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "portfolio",
			"op":        "notify",
		}).WithError(err).Error("Failed to publish balance update")
	}
}

// orderLockTarget resolves which currency an order reserves and how much:
// buys reserve the quote value, sells the base quantity.
func orderLockTarget(order *model.Order) (string, decimal.Decimal) {
	if order.Side == model.OrderSideBuy {
		return order.Symbol.Quote, order.LockedCost()
	}
	return order.Symbol.Base, order.OriginQuantity
}
