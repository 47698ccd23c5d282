package positions

import (
	"errors"
	"testing"

	"tradingcore/src/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rawLinearPosition(qty string) *model.RawPosition {
	return &model.RawPosition{
		Symbol:       "BTC/USDT:USDT",
		Side:         model.PositionSideBoth,
		Quantity:     d(qty),
		EntryPrice:   d("50000"),
		MarkPrice:    d("51000"),
		Leverage:     d("5"),
		MarginType:   model.MarginTypeIsolated,
		ContractType: model.ContractTypeLinearPerpetual,
		PositionMode: model.PositionModeOneWay,
		Timestamp:    1700000000000,
	}
}

func TestInitContract(t *testing.T) {
	m := NewManager("bybit", "bybit-1")
	contract := model.FutureContract{
		Symbol:       model.NewSettledSymbol("BTC", "USDT", "USDT"),
		ContractType: model.ContractTypeLinearPerpetual,
		MarginType:   model.MarginTypeIsolated,
		PositionMode: model.PositionModeOneWay,
		Leverage:     d("10"),
	}

	if err := m.InitContract(contract); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := m.InitContract(contract); !errors.Is(err, model.ErrContractExists) {
		t.Fatalf("expected ErrContractExists, got %v", err)
	}

	got, ok := m.Contract(contract.Symbol)
	if !ok || got.ContractType != model.ContractTypeLinearPerpetual {
		t.Fatal("contract not stored")
	}
}

func TestForcedMarginType(t *testing.T) {
	m := NewManager("bybit", "bybit-1")
	m.forcedMarginType = model.MarginTypeCross

	contract := model.FutureContract{
		Symbol:       model.NewSettledSymbol("ETH", "USDT", "USDT"),
		ContractType: model.ContractTypeLinearPerpetual,
		MarginType:   model.MarginTypeIsolated,
	}
	if err := m.InitContract(contract); err != nil {
		t.Fatalf("init: %v", err)
	}

	got, _ := m.Contract(contract.Symbol)
	if got.MarginType != model.MarginTypeCross {
		t.Fatalf("margin type got %s, want cross", got.MarginType)
	}
}

func TestUpsertFromRawDetectsChanges(t *testing.T) {
	m := NewManager("bybit", "bybit-1")

	_, updated, err := m.UpsertFromRaw(rawLinearPosition("1"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !updated {
		t.Fatal("first upsert should report updated")
	}

	// identical payload: no change
	_, updated, err = m.UpsertFromRaw(rawLinearPosition("1"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if updated {
		t.Fatal("identical payload should not report updated")
	}

	_, updated, err = m.UpsertFromRaw(rawLinearPosition("2"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !updated {
		t.Fatal("quantity change should report updated")
	}
}

func TestUpsertRejectsSideModeViolation(t *testing.T) {
	m := NewManager("bybit", "bybit-1")
	raw := rawLinearPosition("1")
	raw.Side = model.PositionSideLong
	raw.PositionMode = model.PositionModeOneWay

	if _, _, err := m.UpsertFromRaw(raw); !errors.Is(err, model.ErrInvalidPositionMode) {
		t.Fatalf("expected ErrInvalidPositionMode, got %v", err)
	}
}

func TestMarkPriceFanout(t *testing.T) {
	m := NewManager("bybit", "bybit-1")

	var gotSymbol string
	var gotPrice decimal.Decimal
	m.OnMarkPrice(func(symbol string, markPrice decimal.Decimal) {
		gotSymbol = symbol
		gotPrice = markPrice
	})

	if _, _, err := m.UpsertFromRaw(rawLinearPosition("1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if gotSymbol != "BTC/USDT:USDT" || !gotPrice.Equal(d("51000")) {
		t.Fatalf("mark price fanout got %s %s", gotSymbol, gotPrice)
	}
}

func TestLazyContractMetadata(t *testing.T) {
	m := NewManager("bybit", "bybit-1")

	if _, _, err := m.UpsertFromRaw(rawLinearPosition("1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	contract, ok := m.Contract(model.NewSettledSymbol("BTC", "USDT", "USDT"))
	if !ok {
		t.Fatal("contract metadata should arrive lazily via position update")
	}
	if contract.ContractType != model.ContractTypeLinearPerpetual {
		t.Fatalf("contract type got %s", contract.ContractType)
	}
}

func TestReduceMargin(t *testing.T) {
	m := NewManager("bybit", "bybit-1")
	raw := rawLinearPosition("1")
	raw.Margin = d("100")
	if _, _, err := m.UpsertFromRaw(raw); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	symbol := model.NewSettledSymbol("BTC", "USDT", "USDT")
	m.ReduceMargin(symbol, model.PositionSideBoth, d("30"))

	p, _ := m.GetPosition(symbol, model.PositionSideBoth)
	if !p.Margin.Equal(d("70")) {
		t.Fatalf("margin got %s, want 70", p.Margin)
	}
}
