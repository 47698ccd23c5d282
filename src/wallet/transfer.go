package wallet

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/model"
	"tradingcore/src/portfolio"
	"tradingcore/src/transactions"
)

// DepositToExchange moves funds from a wallet onto an exchange account: the
// wallet transfer first, then the exchange ledger entry and the portfolio
// credit. Returns the blockchain transaction ID.
func DepositToExchange(ctx context.Context, w Wallet, ledger *transactions.Manager, pf *portfolio.Manager, address string, quantity decimal.Decimal) (string, error) {
	txID, err := w.Transfer(ctx, address, quantity)
	if err != nil {
		return "", err
	}

	tx := transactions.NewBlockchainTransaction(
		model.TransactionTypeBlockchainDeposit, w.Currency(), w.Network(), address, quantity)
	tx.TransactionID = txID
	if err := ledger.Insert(tx, false); err != nil {
		// The funds moved; a ledger collision must not lose the deposit.
		logger.WithFields(map[string]interface{}{
			"component":      "wallet",
			"transaction_id": txID,
		}).WithError(err).Error("Deposit booked but ledger insert failed")
	}
	pf.HandleDeposit(w.Currency(), quantity)
	return txID, nil
}

// WithdrawFromExchange moves funds from an exchange account into a wallet.
// The portfolio debit enforces the funds-transfer toggle and the free
// balance.
func WithdrawFromExchange(ctx context.Context, ledger *transactions.Manager, pf *portfolio.Manager, w Wallet, address string, quantity decimal.Decimal) (string, error) {
	if err := pf.HandleWithdrawal(w.Currency(), quantity); err != nil {
		return "", err
	}

	tx := transactions.NewBlockchainTransaction(
		model.TransactionTypeBlockchainWithdrawal, w.Currency(), w.Network(), address, quantity)
	if err := ledger.Insert(tx, false); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":      "wallet",
			"transaction_id": tx.TransactionID,
		}).WithError(err).Error("Withdrawal applied but ledger insert failed")
	}

	if simulated, ok := w.(*SimulatedWallet); ok {
		simulated.Receive(quantity)
	}
	return tx.TransactionID, nil
}
