package orders

import (
	"context"
	"fmt"
	"sync"

	"tradingcore/src/model"

	logger "github.com/sirupsen/logrus"
)

// State is the refresh-aware lifecycle state of one order. Steady states
// describe what the order is; refreshing states mark a reconciliation in
// flight toward that outcome.
type State string

const (
	StateCreating       State = "CREATING"
	StateOpen           State = "OPEN"
	StateFilling        State = "FILLING"
	StateRefreshingOpen State = "REFRESHING_OPEN"
	StateFillingRefresh State = "FILLING_REFRESH"
	StateCancelRefresh  State = "CANCEL_REFRESH"
	StatePendingCancel  State = "PENDING_CANCEL"
	StateClosing        State = "CLOSING"
	StateClosed         State = "CLOSED"
	StateCanceled       State = "CANCELED"
	StateFilled         State = "FILLED"
	StateError          State = "ERROR"
)

func (s State) IsTerminal() bool {
	switch s {
	case StateClosed, StateCanceled, StateFilled:
		return true
	default:
		return false
	}
}

func (s State) IsRefreshing() bool {
	switch s {
	case StateRefreshingOpen, StateFillingRefresh, StateCancelRefresh:
		return true
	default:
		return false
	}
}

// stateForStatus maps an exchange-reported status to the steady state it
// lands the order in.
func stateForStatus(status model.OrderStatus) State {
	switch status {
	case model.OrderStatusOpen, model.OrderStatusPartiallyFilled:
		return StateOpen
	case model.OrderStatusPendingCancel:
		return StatePendingCancel
	case model.OrderStatusFilled:
		return StateFilled
	case model.OrderStatusCanceled, model.OrderStatusRejected:
		return StateCanceled
	case model.OrderStatusClosed:
		return StateClosed
	default:
		return StateError
	}
}

// SynchronizeFunc fetches the exchange's truth for the order and applies it
// through the reconciliation path.
type SynchronizeFunc func(ctx context.Context, order *model.Order) error

// StateMachine serializes the transitions of a single order. A refresh held
// by one caller blocks concurrent refreshes; the terminal state is reached
// exactly once and observers waiting on it are released promptly.
type StateMachine struct {
	order *model.Order

	mu        sync.Mutex
	state     State
	lastError error

	terminalOnce sync.Once
	terminalCh   chan struct{}

	synchronize SynchronizeFunc
}

func NewStateMachine(order *model.Order, initial State) *StateMachine {
	return &StateMachine{
		order:      order,
		state:      initial,
		terminalCh: make(chan struct{}),
	}
}

func (sm *StateMachine) BindSynchronize(fn SynchronizeFunc) {
	sm.synchronize = fn
}

func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

func (sm *StateMachine) IsTerminal() bool {
	return sm.State().IsTerminal()
}

func (sm *StateMachine) IsRefreshing() bool {
	return sm.State().IsRefreshing()
}

// LastError is the most recent transition failure, surfaced only through
// the orders channel.
func (sm *StateMachine) LastError() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastError
}

func (sm *StateMachine) SetLastError(err error) {
	sm.mu.Lock()
	sm.lastError = err
	sm.mu.Unlock()
}

// Transition moves the machine to a new state. A terminal machine refuses
// further transitions; reaching a terminal state closes the terminal
// channel exactly once.
func (sm *StateMachine) Transition(to State) error {
	sm.mu.Lock()
	from := sm.state
	if from.IsTerminal() {
		sm.mu.Unlock()
		if from == to {
			return nil
		}
		return fmt.Errorf("order %s is terminal (%s), refusing transition to %s",
			sm.order.ExchangeOrderID, from, to)
	}
	sm.state = to
	sm.mu.Unlock()

	if from != to {
		logger.WithFields(map[string]interface{}{
			"component":         "orders",
			"exchange_order_id": sm.order.ExchangeOrderID,
			"from":              string(from),
			"to":                string(to),
		}).Debug("Order state transition")
	}

	if to.IsTerminal() {
		sm.terminalOnce.Do(func() {
			close(sm.terminalCh)
		})
	}
	return nil
}

// ApplyStatus transitions to the steady state implied by an exchange
// status.
func (sm *StateMachine) ApplyStatus(status model.OrderStatus) error {
	return sm.Transition(stateForStatus(status))
}

// Synchronize refreshes the order against the exchange's truth. With force
// set it runs even for a steady order; without, a refreshing or terminal
// order is left alone.
func (sm *StateMachine) Synchronize(ctx context.Context, force bool) error {
	sm.mu.Lock()
	state := sm.state
	if state.IsTerminal() {
		sm.mu.Unlock()
		return nil
	}
	if !force && state.IsRefreshing() {
		sm.mu.Unlock()
		return nil
	}
	if !state.IsRefreshing() {
		sm.state = refreshingStateFor(state)
	}
	sync := sm.synchronize
	sm.mu.Unlock()

	if sync == nil {
		return fmt.Errorf("order %s has no synchronize binding", sm.order.ExchangeOrderID)
	}
	if err := sync(ctx, sm.order); err != nil {
		sm.SetLastError(err)
		// fall back to the steady state so the next cycle retries
		sm.mu.Lock()
		if sm.state.IsRefreshing() {
			sm.state = steadyStateFor(sm.state)
		}
		sm.mu.Unlock()
		return err
	}
	return nil
}

// WaitForTerminal blocks until the order reaches a terminal state or the
// context expires. It detects terminal transitions made by concurrent
// refreshes, so a caller waiting on a cancel returns promptly when a fill
// wins the race.
func (sm *StateMachine) WaitForTerminal(ctx context.Context) error {
	select {
	case <-sm.terminalCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func refreshingStateFor(steady State) State {
	switch steady {
	case StateFilling:
		return StateFillingRefresh
	case StatePendingCancel, StateClosing:
		return StateCancelRefresh
	default:
		return StateRefreshingOpen
	}
}

func steadyStateFor(refreshing State) State {
	switch refreshing {
	case StateFillingRefresh:
		return StateFilling
	case StateCancelRefresh:
		return StatePendingCancel
	default:
		return StateOpen
	}
}
