package updaters

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradingcore/src/exchange"
	"tradingcore/src/model"
	"tradingcore/src/positions"

	logger "github.com/sirupsen/logrus"
)

const positionsUpdatePeriod = 9 * time.Second

// PositionsUpdater initializes derivative contracts and keeps positions
// aligned with the exchange. Only traded symbols are polled.
type PositionsUpdater struct {
	exchange   string
	exchangeID string
	connector  exchange.Connector
	positions  *positions.Manager
	symbols    []model.Symbol

	// Contracts to negotiate at initialization, keyed like
	// positions.Manager stores them.
	contracts []model.FutureContract

	mu    sync.Mutex
	ready bool
}

func NewPositionsUpdater(exchangeName, exchangeID string, connector exchange.Connector, positionsMgr *positions.Manager, symbols []model.Symbol, contracts []model.FutureContract) *PositionsUpdater {
	return &PositionsUpdater{
		exchange:   exchangeName,
		exchangeID: exchangeID,
		connector:  connector,
		positions:  positionsMgr,
		symbols:    symbols,
		contracts:  contracts,
	}
}

func (u *PositionsUpdater) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "updaters",
		"updater":   "positions",
	})
}

// Ready reports whether contract initialization finished; the orders
// updater gates on it for futures exchanges.
func (u *PositionsUpdater) Ready() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ready
}

func (u *PositionsUpdater) markReady() {
	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()
}

// Run negotiates contracts, loads the first position snapshot and then
// polls periodically.
func (u *PositionsUpdater) Run(ctx context.Context) {
	if !u.connector.SupportsFutures() {
		u.markReady()
		return
	}

	u.initContracts(ctx)

	if err := u.fetchPositions(ctx); err != nil {
		if errors.Is(err, model.ErrNotSupported) {
			u.markReady()
			return
		}
		u.log().WithError(err).Warn("Initial positions fetch failed")
	}
	u.markReady()

	for {
		if !sleepCtx(ctx, positionsUpdatePeriod) {
			return
		}
		if err := u.fetchPositions(ctx); err != nil {
			if errors.Is(err, model.ErrNotSupported) {
				return
			}
			u.log().WithError(err).Warn("Positions fetch failed")
		}
	}
}

// initContracts registers each contract locally and pushes leverage and
// margin type to the exchange. An exchange refusing the setters keeps the
// local contract; metadata then settles lazily from the first position.
func (u *PositionsUpdater) initContracts(ctx context.Context) {
	for _, contract := range u.contracts {
		if err := u.positions.InitContract(contract); err != nil {
			if !errors.Is(err, model.ErrContractExists) {
				u.log().WithError(err).WithField("symbol", contract.Symbol.String()).
					Warn("Contract registration failed")
			}
			continue
		}

		side := model.PositionSideBoth
		if contract.PositionMode == model.PositionModeHedge {
			side = model.PositionSideLong
		}
		if err := u.connector.SetLeverage(ctx, contract.Symbol, side, contract.Leverage); err != nil &&
			!errors.Is(err, model.ErrNotSupported) {
			u.log().WithError(err).WithField("symbol", contract.Symbol.String()).
				Warn("SetLeverage failed, keeping exchange value")
		}
		if err := u.connector.SetMarginType(ctx, contract.Symbol, side, contract.MarginType); err != nil &&
			!errors.Is(err, model.ErrNotSupported) {
			u.log().WithError(err).WithField("symbol", contract.Symbol.String()).
				Warn("SetMarginType failed, keeping exchange value")
		}
	}
}

func (u *PositionsUpdater) fetchPositions(ctx context.Context) error {
	raws, err := u.connector.GetPositions(ctx, u.symbols)
	if err != nil {
		return err
	}
	traded := make(map[string]bool, len(u.symbols))
	for _, s := range u.symbols {
		traded[s.String()] = true
	}
	for _, raw := range raws {
		if !traded[raw.Symbol] {
			continue
		}
		if _, _, err := u.positions.UpsertFromRaw(raw); err != nil {
			u.log().WithError(err).WithField("symbol", raw.Symbol).
				Error("Position upsert failed")
		}
	}
	return nil
}
