package positions

import (
	"fmt"
	"sync"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type Config struct {
	// ForcedMarginType coerces every contract at initialization when set
	// to "isolated" or "cross".
	ForcedMarginType string `envconfig:"FORCED_MARGIN_TYPE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

type positionKey struct {
	symbol string
	side   model.PositionSide
}

// Manager holds the local view of derivative positions and the per-symbol
// contract metadata negotiated at initialization.
type Manager struct {
	exchange   string
	exchangeID string

	mu        sync.Mutex
	positions map[positionKey]*model.Position
	contracts map[string]*model.FutureContract

	producer *channels.Producer

	// onMarkPrice fans embedded mark prices out to the mark-price channel.
	onMarkPrice func(symbol string, markPrice decimal.Decimal)

	forcedMarginType model.MarginType
}

func NewManager(exchange, exchangeID string) *Manager {
	cfg := GetConfig()
	m := &Manager{
		exchange:   exchange,
		exchangeID: exchangeID,
		positions:  make(map[positionKey]*model.Position),
		contracts:  make(map[string]*model.FutureContract),
	}
	switch model.MarginType(cfg.ForcedMarginType) {
	case model.MarginTypeIsolated:
		m.forcedMarginType = model.MarginTypeIsolated
	case model.MarginTypeCross:
		m.forcedMarginType = model.MarginTypeCross
	}
	return m
}

func (m *Manager) BindProducer(p *channels.Producer) {
	m.producer = p
}

func (m *Manager) OnMarkPrice(fn func(symbol string, markPrice decimal.Decimal)) {
	m.onMarkPrice = fn
}

// InitContract registers the contract settings of a traded symbol. A second
// initialization of the same symbol is refused.
func (m *Manager) InitContract(contract model.FutureContract) error {
	if m.forcedMarginType != "" {
		contract.MarginType = m.forcedMarginType
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := contract.Symbol.String()
	if _, exists := m.contracts[key]; exists {
		return fmt.Errorf("%w: %s", model.ErrContractExists, key)
	}
	m.contracts[key] = &contract

	logger.WithFields(map[string]interface{}{
		"component":     "positions",
		"exchange_id":   m.exchangeID,
		"symbol":        key,
		"contract_type": string(contract.ContractType),
		"margin_type":   string(contract.MarginType),
		"leverage":      contract.Leverage.String(),
	}).Info("Contract initialized")
	return nil
}

// Contract returns the metadata of a symbol, if initialized. Contract
// metadata may also arrive lazily through position updates when the
// exchange does not support explicit initialization.
func (m *Manager) Contract(symbol model.Symbol) (*model.FutureContract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[symbol.String()]
	return c, ok
}

// UpsertFromRaw applies a normalized position payload, reporting whether the
// stored position actually changed. Mark prices embedded in the payload fan
// out through the registered hook.
func (m *Manager) UpsertFromRaw(raw *model.RawPosition) (*model.Position, bool, error) {
	symbol, err := model.ParseSymbol(raw.Symbol)
	if err != nil {
		return nil, false, err
	}

	side := raw.Side
	if side == "" {
		side = model.PositionSideBoth
	}
	mode := raw.PositionMode
	if mode == "" {
		if side == model.PositionSideBoth {
			mode = model.PositionModeOneWay
		} else {
			mode = model.PositionModeHedge
		}
	}

	position := &model.Position{
		Symbol:           symbol,
		Side:             side,
		Quantity:         raw.Quantity,
		EntryPrice:       raw.EntryPrice,
		MarkPrice:        raw.MarkPrice,
		LiquidationPrice: raw.LiquidationPrice,
		Leverage:         raw.Leverage,
		MarginType:       raw.MarginType,
		Margin:           raw.Margin,
		UnrealizedPnl:    raw.UnrealizedPnl,
		RealizedPnl:      raw.RealizedPnl,
		ContractType:     raw.ContractType,
		PositionMode:     mode,
		UpdatedAt:        time.UnixMilli(raw.Timestamp),
	}
	if err := position.Validate(); err != nil {
		return nil, false, err
	}

	key := positionKey{symbol: symbol.String(), side: side}

	m.mu.Lock()
	previous := m.positions[key]
	updated := previous == nil || positionChanged(previous, position)
	m.positions[key] = position

	// Lazy contract metadata: first position update fills the gap when
	// explicit initialization was unsupported.
	if _, ok := m.contracts[symbol.String()]; !ok && raw.ContractType != "" {
		m.contracts[symbol.String()] = &model.FutureContract{
			Symbol:       symbol,
			ContractType: raw.ContractType,
			MarginType:   raw.MarginType,
			PositionMode: mode,
			Leverage:     raw.Leverage,
		}
	}
	m.mu.Unlock()

	if m.onMarkPrice != nil && raw.MarkPrice.IsPositive() {
		m.onMarkPrice(symbol.String(), raw.MarkPrice)
	}

	m.notify(position, updated)
	return position, updated, nil
}

// ReduceMargin takes funds out of a position's margin, the fallback path of
// funding payments that overdraw the available balance.
func (m *Manager) ReduceMargin(symbol model.Symbol, side model.PositionSide, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey{symbol: symbol.String(), side: side}
	if p, ok := m.positions[key]; ok {
		p.Margin = p.Margin.Sub(amount)
	}
}

func (m *Manager) GetPosition(symbol model.Symbol, side model.PositionSide) (*model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionKey{symbol: symbol.String(), side: side}]
	return p, ok
}

func (m *Manager) Positions() []*model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *Manager) notify(position *model.Position, updated bool) {
	if m.producer == nil {
		return
	}
	payload := channels.PositionPayload{
		Exchange:       m.exchange,
		ExchangeID:     m.exchangeID,
		Cryptocurrency: position.Symbol.Base,
		Symbol:         position.Symbol.String(),
		Position:       position,
		IsUpdated:      updated,
	}
	routing := map[string]string{
		channels.KeySymbol:         position.Symbol.String(),
		channels.KeyCryptocurrency: position.Symbol.Base,
	}
	if err := m.producer.Send(routing, payload); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "positions",
			"symbol":    position.Symbol.String(),
		}).WithError(err).Error("Failed to publish position")
	}
}

func positionChanged(a, b *model.Position) bool {
	return !a.Quantity.Equal(b.Quantity) ||
		!a.EntryPrice.Equal(b.EntryPrice) ||
		!a.MarkPrice.Equal(b.MarkPrice) ||
		!a.UnrealizedPnl.Equal(b.UnrealizedPnl) ||
		!a.Margin.Equal(b.Margin) ||
		a.Side != b.Side
}
