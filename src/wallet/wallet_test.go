package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/src/model"
	"tradingcore/src/portfolio"
	"tradingcore/src/transactions"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func resetWalletEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ALLOW_FUNDS_TRANSFER", "true")
	t.Setenv("SIMULATED_BLOCKCHAIN_NETWORK", "simulated")
}

func TestSimulatedWalletRequiresCurrency(t *testing.T) {
	resetWalletEnv(t)
	if _, err := NewSimulatedWallet("", d("1")); !errors.Is(err, ErrNativeCoinSymbolUndefined) {
		t.Fatalf("expected native coin error, got %v", err)
	}
}

func TestValidateNetwork(t *testing.T) {
	resetWalletEnv(t)

	if err := ValidateNetwork("simulated", true); err != nil {
		t.Fatalf("simulated wallet on canonical network refused: %v", err)
	}
	if err := ValidateNetwork("mainnet", false); err != nil {
		t.Fatalf("real wallet on real network refused: %v", err)
	}
	if err := ValidateNetwork("simulated", false); !errors.Is(err, ErrWalletConfiguration) {
		t.Fatalf("real wallet on simulated network accepted: %v", err)
	}
	if err := ValidateNetwork("mainnet", true); !errors.Is(err, ErrWalletConfiguration) {
		t.Fatalf("simulated wallet off canonical network accepted: %v", err)
	}
}

func TestTransferRefusedWhenFundsTransferDisabled(t *testing.T) {
	resetWalletEnv(t)
	w, err := NewSimulatedWallet("ETH", d("10"))
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	t.Setenv("ALLOW_FUNDS_TRANSFER", "false")
	if _, err := w.Transfer(context.Background(), "A", d("1")); !errors.Is(err, model.ErrDisabledFundsTransfer) {
		t.Fatalf("expected disabled transfer error, got %v", err)
	}
}

func TestTransferRefusedBeyondBalance(t *testing.T) {
	resetWalletEnv(t)
	w, err := NewSimulatedWallet("ETH", d("2"))
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	if _, err := w.Transfer(context.Background(), "A", d("3")); !errors.Is(err, model.ErrMissingFunds) {
		t.Fatalf("expected missing funds, got %v", err)
	}
}

func TestWalletRegistry(t *testing.T) {
	resetWalletEnv(t)
	w, err := New("simulated", "BTC")
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if w.Currency() != "BTC" {
		t.Fatalf("unexpected currency %q", w.Currency())
	}
	if _, err := New("ledger-nano", "BTC"); err == nil {
		t.Fatalf("unknown wallet name accepted")
	}
}

func TestSimulatedWithdrawToExchangeDeposit(t *testing.T) {
	resetWalletEnv(t)

	w, err := NewSimulatedWallet("ETH", d("10"))
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	ledger := transactions.NewManager("test-exchange-id")
	pf := portfolio.NewManager("binance", "test-exchange-id", false)

	txID, err := DepositToExchange(context.Background(), w, ledger, pf, "A", d("1"))
	if err != nil {
		t.Fatalf("deposit to exchange: %v", err)
	}

	tx, ok := ledger.Get(txID)
	if !ok {
		t.Fatalf("deposit transaction not in ledger")
	}
	if tx.Type != model.TransactionTypeBlockchainDeposit {
		t.Fatalf("unexpected transaction type %q", tx.Type)
	}
	if !tx.Quantity.Equal(d("1")) || tx.Currency != "ETH" || tx.Address != "A" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	if got := pf.GetBalance("ETH").Free; !got.Equal(d("1")) {
		t.Fatalf("portfolio not credited, free = %s", got)
	}

	balance, err := w.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	if !balance.Equal(d("9")) {
		t.Fatalf("wallet balance = %s, want 9", balance)
	}
}

func TestWithdrawFromExchangeCreditsWallet(t *testing.T) {
	resetWalletEnv(t)

	w, err := NewSimulatedWallet("ETH", d("0"))
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	ledger := transactions.NewManager("test-exchange-id")
	pf := portfolio.NewManager("binance", "test-exchange-id", false)
	pf.HandleDeposit("ETH", d("5"))

	txID, err := WithdrawFromExchange(context.Background(), ledger, pf, w, "B", d("2"))
	if err != nil {
		t.Fatalf("withdraw from exchange: %v", err)
	}

	tx, ok := ledger.Get(txID)
	if !ok || tx.Type != model.TransactionTypeBlockchainWithdrawal {
		t.Fatalf("withdrawal transaction missing or wrong type: %+v", tx)
	}
	if got := pf.GetBalance("ETH").Free; !got.Equal(d("3")) {
		t.Fatalf("portfolio not debited, free = %s", got)
	}
	balance, _ := w.GetBalance(context.Background())
	if !balance.Equal(d("2")) {
		t.Fatalf("wallet balance = %s, want 2", balance)
	}

	if _, err := WithdrawFromExchange(context.Background(), ledger, pf, w, "B", d("100")); !errors.Is(err, model.ErrMissingFunds) {
		t.Fatalf("overdraft accepted: %v", err)
	}
}
