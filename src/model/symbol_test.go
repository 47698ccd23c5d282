package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Symbol
		wantErr bool
	}{
		{name: "spot", in: "BTC/USDT", want: Symbol{Base: "BTC", Quote: "USDT"}},
		{name: "lowercase", in: "eth/usdt", want: Symbol{Base: "ETH", Quote: "USDT"}},
		{name: "linear contract", in: "BTC/USDT:USDT", want: Symbol{Base: "BTC", Quote: "USDT", Settle: "USDT"}},
		{name: "inverse contract", in: "BTC/USD:BTC", want: Symbol{Base: "BTC", Quote: "USD", Settle: "BTC"}},
		{name: "missing quote", in: "BTC", wantErr: true},
		{name: "empty base", in: "/USDT", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSymbol(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	for _, s := range []string{"BTC/USDT", "BTC/USDT:USDT", "BTC/USD:BTC"} {
		parsed, err := ParseSymbol(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if parsed.String() != s {
			t.Fatalf("round trip %q got %q", s, parsed.String())
		}
	}
}

func TestSymbolSettlement(t *testing.T) {
	inverse, _ := ParseSymbol("BTC/USD:BTC")
	if !inverse.IsInverse() {
		t.Fatal("BTC/USD:BTC should be inverse")
	}
	if inverse.SettlementAsset() != "BTC" {
		t.Fatalf("settlement asset got %s", inverse.SettlementAsset())
	}

	linear, _ := ParseSymbol("BTC/USDT:USDT")
	if linear.IsInverse() {
		t.Fatal("BTC/USDT:USDT should not be inverse")
	}
	if !linear.IsLinear() {
		t.Fatal("BTC/USDT:USDT should be linear")
	}

	spot, _ := ParseSymbol("ETH/USDT")
	if spot.SettlementAsset() != "USDT" {
		t.Fatalf("spot settlement asset got %s", spot.SettlementAsset())
	}
}

func TestTimeFrameDuration(t *testing.T) {
	if TimeFrame1h.Duration() != time.Hour {
		t.Fatalf("1h duration got %s", TimeFrame1h.Duration())
	}
	if TimeFrame1m.Seconds() != 60 {
		t.Fatalf("1m seconds got %d", TimeFrame1m.Seconds())
	}
	if _, err := ParseTimeFrame("7m"); err == nil {
		t.Fatal("expected error for unknown time frame")
	}
}

func TestCandleIsClosed(t *testing.T) {
	open := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candle := Candle{OpenTime: open}

	if candle.IsClosed(TimeFrame1h, open.Add(30*time.Minute)) {
		t.Fatal("candle should still be in construction")
	}
	if !candle.IsClosed(TimeFrame1h, open.Add(time.Hour)) {
		t.Fatal("candle window ended, should be closed")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusClosed, OrderStatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusOpen, OrderStatusPartiallyFilled, OrderStatusPendingCancel}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestPositionValidate(t *testing.T) {
	p := Position{Side: PositionSideLong, PositionMode: PositionModeOneWay}
	if err := p.Validate(); err == nil {
		t.Fatal("long side in one-way mode should be rejected")
	}

	p.PositionMode = PositionModeHedge
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	both := Position{Side: PositionSideBoth, PositionMode: PositionModeOneWay}
	if err := both.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBalanceInvariant(t *testing.T) {
	b := NewBalance(decimal.RequireFromString("860"), decimal.RequireFromString("140"))
	if !b.Total.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("total got %s", b.Total)
	}
}
