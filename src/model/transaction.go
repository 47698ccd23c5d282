package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeBlockchainDeposit    TransactionType = "BLOCKCHAIN_DEPOSIT"
	TransactionTypeBlockchainWithdrawal TransactionType = "BLOCKCHAIN_WITHDRAWAL"
	TransactionTypeTradingFee           TransactionType = "TRADING_FEE"
	TransactionTypeFundingFee           TransactionType = "FUNDING_FEE"
	TransactionTypeRealisedPnl          TransactionType = "REALISED_PNL"
	TransactionTypeCloseRealisedPnl     TransactionType = "CLOSE_REALISED_PNL"
	TransactionTypeTransfer             TransactionType = "TRANSFER"
)

// Transaction is a ledger entry for financial events that have no direct
// order: funding, fees, blockchain transfers and PnL snapshots.
// TransactionID is unique within the ledger; the exchange may later replace
// a client-assigned ID with its own.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	Type          TransactionType `json:"type"`
	Currency      string          `json:"currency"`
	Symbol        Symbol          `json:"symbol,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	CreationTime  time.Time       `json:"creation_time"`

	// Blockchain transfers.
	BlockchainType string `json:"blockchain_type,omitempty"`
	Address        string `json:"address,omitempty"`

	// Funding fees.
	FundingRate decimal.Decimal `json:"funding_rate,omitempty"`

	// Realised PnL snapshots.
	ClosedQuantity decimal.Decimal `json:"closed_quantity,omitempty"`
	FirstEntryTime time.Time       `json:"first_entry_time,omitempty"`
}
