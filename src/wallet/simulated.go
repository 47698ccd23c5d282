package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/model"
)

const simulatedWalletName = "simulated"

func init() {
	Register(simulatedWalletName, func(currency string) (Wallet, error) {
		return NewSimulatedWallet(currency, decimal.Zero)
	})
}

// SimulatedWallet is a paper wallet whose balance is derived, never stored:
// the configured starting amount plus everything withdrawn into it minus
// everything deposited out of it.
type SimulatedWallet struct {
	currency string
	network  string
	initial  decimal.Decimal

	mu        sync.Mutex
	transfers []*model.Transaction
}

func NewSimulatedWallet(currency string, initial decimal.Decimal) (*SimulatedWallet, error) {
	if currency == "" {
		return nil, ErrNativeCoinSymbolUndefined
	}
	network := GetConfig().SimulatedBlockchainNetwork
	if err := ValidateNetwork(network, true); err != nil {
		return nil, err
	}
	return &SimulatedWallet{
		currency: currency,
		network:  network,
		initial:  initial,
	}, nil
}

func (w *SimulatedWallet) Name() string     { return simulatedWalletName }
func (w *SimulatedWallet) Network() string  { return w.network }
func (w *SimulatedWallet) Currency() string { return w.currency }

func (w *SimulatedWallet) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "wallet",
		"wallet":    simulatedWalletName,
		"currency":  w.currency,
	})
}

// GetBalance folds the transfer ledger over the configured starting amount.
func (w *SimulatedWallet) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceLocked(), nil
}

func (w *SimulatedWallet) balanceLocked() decimal.Decimal {
	balance := w.initial
	for _, tx := range w.transfers {
		switch tx.Type {
		case model.TransactionTypeBlockchainWithdrawal:
			balance = balance.Add(tx.Quantity)
		case model.TransactionTypeBlockchainDeposit:
			balance = balance.Sub(tx.Quantity)
		}
	}
	return balance
}

// Transfer books an outgoing deposit against the simulated chain. No real
// transaction happens; the returned ID is client generated.
func (w *SimulatedWallet) Transfer(ctx context.Context, address string, quantity decimal.Decimal) (string, error) {
	if !GetConfig().AllowFundsTransfer {
		return "", model.ErrDisabledFundsTransfer
	}
	if !quantity.IsPositive() {
		return "", fmt.Errorf("transfer quantity must be positive, got %s", quantity)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balanceLocked().LessThan(quantity) {
		return "", model.ErrMissingFunds
	}

	tx := &model.Transaction{
		TransactionID:  uuid.NewString(),
		Type:           model.TransactionTypeBlockchainDeposit,
		Currency:       w.currency,
		Quantity:       quantity,
		BlockchainType: w.network,
		Address:        address,
	}
	w.transfers = append(w.transfers, tx)

	w.log().WithFields(map[string]interface{}{
		"address":  address,
		"quantity": quantity.String(),
	}).Info("Simulated transfer booked")
	return tx.TransactionID, nil
}

// Receive books an incoming withdrawal from an exchange.
func (w *SimulatedWallet) Receive(quantity decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transfers = append(w.transfers, &model.Transaction{
		TransactionID: uuid.NewString(),
		Type:          model.TransactionTypeBlockchainWithdrawal,
		Currency:      w.currency,
		Quantity:      quantity,
	})
}
