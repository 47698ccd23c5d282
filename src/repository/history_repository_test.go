package repository

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tradingcore/src/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func TestGetTradeHistory(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&HistoryRepository{}).WithDB(mockDB)

	executed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "trade_id", "origin_order_id", "symbol", "side", "type",
		"executed_quantity", "executed_price", "fee_currency", "fee_cost",
		"status", "executed_time", "is_closing_order", "associated_entry_ids",
	}).
		AddRow(1, "t-1", "ord-1", "BTC/USDT", "buy", "limit",
			"0.5", "30000", "USDT", "1.5",
			"filled", executed, false, "").
		AddRow(2, "t-2", "ord-2", "BTC/USDT", "sell", "limit",
			"0.5", "31000", "", "0",
			"filled", executed.Add(time.Hour), true, "ord-1,ord-0")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_records" ORDER BY executed_time asc`)).
		WillReturnRows(rows)

	trades, err := repo.GetTradeHistory()
	if err != nil {
		t.Fatalf("unexpected error loading trade history: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	first := trades[0]
	if first.TradeID != "t-1" || first.OriginOrderID != "ord-1" {
		t.Fatalf("unexpected identifiers: %+v", first)
	}
	if first.Symbol != model.NewSymbol("BTC", "USDT") {
		t.Fatalf("unexpected symbol: %v", first.Symbol)
	}
	if !first.ExecutedQuantity.Equal(d("0.5")) || !first.ExecutedPrice.Equal(d("30000")) {
		t.Fatalf("unexpected execution values: %+v", first)
	}
	if first.Fee == nil || first.Fee.Currency != "USDT" || !first.Fee.Cost.Equal(d("1.5")) {
		t.Fatalf("fee not restored: %+v", first.Fee)
	}

	second := trades[1]
	if second.Fee != nil {
		t.Fatalf("expected no fee on second trade, got %+v", second.Fee)
	}
	if len(second.AssociatedEntryIDs) != 2 || second.AssociatedEntryIDs[0] != "ord-1" {
		t.Fatalf("entry links not restored: %v", second.AssociatedEntryIDs)
	}
	if !second.IsClosingOrder {
		t.Fatalf("closing flag lost")
	}
}

func TestGetOrderHistory(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&HistoryRepository{}).WithDB(mockDB)

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "exchange_order_id", "client_order_id", "symbol", "side", "type",
		"origin_quantity", "origin_price", "filled_quantity", "status",
		"creation_time", "is_self_managed",
	}).AddRow(1, "ex-1", "cl-1", "ETH/USDT", "sell", "limit",
		"2", "2500", "2", "filled", created, true)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" ORDER BY creation_time asc`)).
		WillReturnRows(rows)

	orders, err := repo.GetOrderHistory()
	if err != nil {
		t.Fatalf("unexpected error loading order history: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}

	order := orders[0]
	if order.ExchangeOrderID != "ex-1" || order.ClientOrderID != "cl-1" {
		t.Fatalf("unexpected identifiers: %+v", order)
	}
	if order.Status != model.OrderStatusFilled {
		t.Fatalf("unexpected status: %v", order.Status)
	}
	if !order.IsSelfManaged {
		t.Fatalf("self-managed flag lost")
	}
	if !order.OriginQuantity.Equal(d("2")) {
		t.Fatalf("unexpected quantity: %v", order.OriginQuantity)
	}
}

func TestStoreTradeHistoryUpserts(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&HistoryRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "trade_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	trade := &model.Trade{
		TradeID:          "t-1",
		OriginOrderID:    "ord-1",
		Symbol:           model.NewSymbol("BTC", "USDT"),
		Side:             model.OrderSideBuy,
		Type:             model.OrderTypeLimit,
		ExecutedQuantity: d("0.5"),
		ExecutedPrice:    d("30000"),
		Status:           model.TradeStatusFilled,
		ExecutedTime:     time.Now(),
	}
	if err := repo.StoreTradeHistory([]*model.Trade{trade}); err != nil {
		t.Fatalf("unexpected error storing trades: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreOrderHistoryEmptyIsNoop(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&HistoryRepository{}).WithDB(mockDB)

	if err := repo.StoreOrderHistory(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL should run on empty store: %v", err)
	}
}

func TestOrderRecordRoundTrip(t *testing.T) {
	fee := &model.Fee{Currency: "USDT", Cost: d("0.42")}
	order := &model.Order{
		ExchangeOrderID:    "ex-9",
		ClientOrderID:      "cl-9",
		Symbol:             model.NewSettledSymbol("BTC", "USD", "BTC"),
		Side:               model.OrderSideSell,
		Type:               model.OrderTypeMarket,
		OriginQuantity:     d("1.25"),
		OriginPrice:        d("0"),
		FilledQuantity:     d("1.25"),
		FilledPrice:        d("29950.5"),
		TotalCost:          d("37438.125"),
		Fee:                fee,
		Status:             model.OrderStatusFilled,
		CreationTime:       time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		ExecutedTime:       time.Date(2026, 3, 14, 8, 0, 3, 0, time.UTC),
		ReduceOnly:         true,
		Tag:                "exit",
		AssociatedEntryIDs: []string{"ex-1", "ex-2"},
	}

	restored := recordToOrder(orderToRecord(order))

	if restored.Symbol != order.Symbol {
		t.Fatalf("symbol changed: %v != %v", restored.Symbol, order.Symbol)
	}
	if restored.Status != order.Status || restored.Side != order.Side || restored.Type != order.Type {
		t.Fatalf("enums changed: %+v", restored)
	}
	if !restored.FilledPrice.Equal(order.FilledPrice) || !restored.TotalCost.Equal(order.TotalCost) {
		t.Fatalf("amounts changed: %+v", restored)
	}
	if restored.Fee == nil || !restored.Fee.Cost.Equal(fee.Cost) {
		t.Fatalf("fee changed: %+v", restored.Fee)
	}
	if len(restored.AssociatedEntryIDs) != 2 || restored.AssociatedEntryIDs[1] != "ex-2" {
		t.Fatalf("entry links changed: %v", restored.AssociatedEntryIDs)
	}
	if !restored.ReduceOnly || restored.Tag != "exit" {
		t.Fatalf("flags changed: %+v", restored)
	}
}
