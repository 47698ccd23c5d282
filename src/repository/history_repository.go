package repository

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradingcore/src/database"
	"tradingcore/src/model"
)

// OrderRecord is the persisted form of a terminal or open order.
type OrderRecord struct {
	ID              uint   `gorm:"primaryKey"`
	ExchangeOrderID string `gorm:"uniqueIndex;size:64"`
	ClientOrderID   string `gorm:"size:64"`
	Symbol          string `gorm:"index;size:32"`
	Side            string `gorm:"size:8"`
	Type            string `gorm:"size:16"`

	OriginQuantity decimal.Decimal `gorm:"type:decimal(32,16)"`
	OriginPrice    decimal.Decimal `gorm:"type:decimal(32,16)"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(32,16)"`
	FilledPrice    decimal.Decimal `gorm:"type:decimal(32,16)"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(32,16)"`
	FeeCurrency    string          `gorm:"size:16"`
	FeeCost        decimal.Decimal `gorm:"type:decimal(32,16)"`

	Status       string `gorm:"index;size:24"`
	CreationTime time.Time
	ExecutedTime time.Time
	CanceledTime time.Time

	ReduceOnly    bool
	PostOnly      bool
	IsSelfManaged bool
	Simulated     bool

	Tag string `gorm:"size:64"`

	// AssociatedEntryIDs joined with commas. Exchange order IDs never
	// contain commas.
	AssociatedEntryIDs string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradeRecord is the persisted form of a trade.
type TradeRecord struct {
	ID            uint   `gorm:"primaryKey"`
	TradeID       string `gorm:"uniqueIndex;size:64"`
	OriginOrderID string `gorm:"index;size:64"`
	Symbol        string `gorm:"index;size:32"`
	Side          string `gorm:"size:8"`
	Type          string `gorm:"size:16"`

	ExecutedQuantity decimal.Decimal `gorm:"type:decimal(32,16)"`
	ExecutedPrice    decimal.Decimal `gorm:"type:decimal(32,16)"`
	FeeCurrency      string          `gorm:"size:16"`
	FeeCost          decimal.Decimal `gorm:"type:decimal(32,16)"`

	Status         string `gorm:"size:24"`
	CreationTime   time.Time
	ExecutedTime   time.Time
	IsClosingOrder bool

	AssociatedEntryIDs string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Migrations lists the models InitMainDB should migrate.
func Migrations() []interface{} {
	return []interface{}{&OrderRecord{}, &TradeRecord{}}
}

// HistoryRepository persists order and trade history for one exchange
// instance. It satisfies the storage collaborators of the trades manager
// and the orders updater.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a repository backed by the main read/write
// database.
func NewHistoryRepository() *HistoryRepository {
	logger.WithField("component", "HistoryRepository").
		Info("Creating new HistoryRepository with MainDB")

	return &HistoryRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *HistoryRepository) WithDB(db *gorm.DB) *HistoryRepository {
	logger.WithField("component", "HistoryRepository").
		Debug("Creating HistoryRepository with custom DB instance")

	return &HistoryRepository{db: db}
}

// GetTradeHistory returns all stored trades, oldest first.
func (r *HistoryRepository) GetTradeHistory() ([]*model.Trade, error) {
	var records []TradeRecord
	err := r.db.Order("executed_time asc").Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "HistoryRepository",
			"op":   "GetTradeHistory",
		}).WithError(err).Error("Failed to load trade history")
		return nil, err
	}

	trades := make([]*model.Trade, 0, len(records))
	for i := range records {
		trades = append(trades, recordToTrade(&records[i]))
	}
	return trades, nil
}

// StoreTradeHistory upserts the given trades keyed by trade ID.
func (r *HistoryRepository) StoreTradeHistory(trades []*model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	records := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, *tradeToRecord(t))
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		UpdateAll: true,
	}).Create(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "HistoryRepository",
			"op":    "StoreTradeHistory",
			"count": len(records),
		}).WithError(err).Error("Failed to store trade history")
		return err
	}
	return nil
}

// GetOrderHistory returns all stored orders, oldest first.
func (r *HistoryRepository) GetOrderHistory() ([]*model.Order, error) {
	var records []OrderRecord
	err := r.db.Order("creation_time asc").Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "HistoryRepository",
			"op":   "GetOrderHistory",
		}).WithError(err).Error("Failed to load order history")
		return nil, err
	}

	orders := make([]*model.Order, 0, len(records))
	for i := range records {
		orders = append(orders, recordToOrder(&records[i]))
	}
	return orders, nil
}

// StoreOrderHistory upserts the given orders keyed by exchange order ID.
func (r *HistoryRepository) StoreOrderHistory(orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	records := make([]OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, *orderToRecord(o))
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange_order_id"}},
		UpdateAll: true,
	}).Create(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "HistoryRepository",
			"op":    "StoreOrderHistory",
			"count": len(records),
		}).WithError(err).Error("Failed to store order history")
		return err
	}
	return nil
}

func orderToRecord(o *model.Order) *OrderRecord {
	record := &OrderRecord{
		ExchangeOrderID:    o.ExchangeOrderID,
		ClientOrderID:      o.ClientOrderID,
		Symbol:             o.Symbol.String(),
		Side:               string(o.Side),
		Type:               string(o.Type),
		OriginQuantity:     o.OriginQuantity,
		OriginPrice:        o.OriginPrice,
		FilledQuantity:     o.FilledQuantity,
		FilledPrice:        o.FilledPrice,
		TotalCost:          o.TotalCost,
		Status:             string(o.Status),
		CreationTime:       o.CreationTime,
		ExecutedTime:       o.ExecutedTime,
		CanceledTime:       o.CanceledTime,
		ReduceOnly:         o.ReduceOnly,
		PostOnly:           o.PostOnly,
		IsSelfManaged:      o.IsSelfManaged,
		Simulated:          o.Simulated,
		Tag:                o.Tag,
		AssociatedEntryIDs: strings.Join(o.AssociatedEntryIDs, ","),
	}
	if o.Fee != nil {
		record.FeeCurrency = o.Fee.Currency
		record.FeeCost = o.Fee.Cost
	}
	return record
}

func recordToOrder(r *OrderRecord) *model.Order {
	symbol, err := model.ParseSymbol(r.Symbol)
	if err != nil {
		logger.WithField("symbol", r.Symbol).
			WithError(err).Warn("Stored order has unparsable symbol")
	}

	order := &model.Order{
		ExchangeOrderID: r.ExchangeOrderID,
		ClientOrderID:   r.ClientOrderID,
		Symbol:          symbol,
		Side:            model.OrderSide(r.Side),
		Type:            model.OrderType(r.Type),
		OriginQuantity:  r.OriginQuantity,
		OriginPrice:     r.OriginPrice,
		FilledQuantity:  r.FilledQuantity,
		FilledPrice:     r.FilledPrice,
		TotalCost:       r.TotalCost,
		Status:          model.OrderStatus(r.Status),
		CreationTime:    r.CreationTime,
		ExecutedTime:    r.ExecutedTime,
		CanceledTime:    r.CanceledTime,
		ReduceOnly:      r.ReduceOnly,
		PostOnly:        r.PostOnly,
		IsSelfManaged:   r.IsSelfManaged,
		Simulated:       r.Simulated,
		Tag:             r.Tag,
	}
	if r.AssociatedEntryIDs != "" {
		order.AssociatedEntryIDs = strings.Split(r.AssociatedEntryIDs, ",")
	}
	if r.FeeCurrency != "" || !r.FeeCost.IsZero() {
		order.Fee = &model.Fee{Currency: r.FeeCurrency, Cost: r.FeeCost}
	}
	return order
}

func tradeToRecord(t *model.Trade) *TradeRecord {
	record := &TradeRecord{
		TradeID:            t.TradeID,
		OriginOrderID:      t.OriginOrderID,
		Symbol:             t.Symbol.String(),
		Side:               string(t.Side),
		Type:               string(t.Type),
		ExecutedQuantity:   t.ExecutedQuantity,
		ExecutedPrice:      t.ExecutedPrice,
		Status:             string(t.Status),
		CreationTime:       t.CreationTime,
		ExecutedTime:       t.ExecutedTime,
		IsClosingOrder:     t.IsClosingOrder,
		AssociatedEntryIDs: strings.Join(t.AssociatedEntryIDs, ","),
	}
	if t.Fee != nil {
		record.FeeCurrency = t.Fee.Currency
		record.FeeCost = t.Fee.Cost
	}
	return record
}

func recordToTrade(r *TradeRecord) *model.Trade {
	symbol, err := model.ParseSymbol(r.Symbol)
	if err != nil {
		logger.WithField("symbol", r.Symbol).
			WithError(err).Warn("Stored trade has unparsable symbol")
	}

	trade := &model.Trade{
		TradeID:          r.TradeID,
		OriginOrderID:    r.OriginOrderID,
		Symbol:           symbol,
		Side:             model.OrderSide(r.Side),
		Type:             model.OrderType(r.Type),
		ExecutedQuantity: r.ExecutedQuantity,
		ExecutedPrice:    r.ExecutedPrice,
		Status:           model.TradeStatus(r.Status),
		CreationTime:     r.CreationTime,
		ExecutedTime:     r.ExecutedTime,
		IsClosingOrder:   r.IsClosingOrder,
	}
	if r.AssociatedEntryIDs != "" {
		trade.AssociatedEntryIDs = strings.Split(r.AssociatedEntryIDs, ",")
	}
	if r.FeeCurrency != "" || !r.FeeCost.IsZero() {
		trade.Fee = &model.Fee{Currency: r.FeeCurrency, Cost: r.FeeCost}
	}
	return trade
}
