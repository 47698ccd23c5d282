package transactions

import (
	"fmt"
	"sync"
	"time"

	"tradingcore/src/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// MaxTransactionsCount bounds the ledger; exceeding it evicts the oldest
// tenth, like the trades buffer.
const MaxTransactionsCount = 100000

// Manager is the ledger of non-order financial events, keyed by
// transaction ID.
type Manager struct {
	exchangeID string

	mu           sync.Mutex
	transactions map[string]*model.Transaction
	order        []string
	maxCount     int
}

func NewManager(exchangeID string) *Manager {
	return &Manager{
		exchangeID:   exchangeID,
		transactions: make(map[string]*model.Transaction),
		maxCount:     MaxTransactionsCount,
	}
}

// Insert adds a transaction. Without replaceIfExists a duplicate ID is a
// programming error.
func (m *Manager) Insert(tx *model.Transaction, replaceIfExists bool) error {
	if tx == nil || tx.TransactionID == "" {
		return fmt.Errorf("transaction requires an ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.transactions[tx.TransactionID]
	if exists && !replaceIfExists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateTransactionID, tx.TransactionID)
	}
	if !exists {
		if len(m.transactions) >= m.maxCount {
			m.evictOldest()
		}
		m.order = append(m.order, tx.TransactionID)
	}
	m.transactions[tx.TransactionID] = tx
	return nil
}

// UpdateTransactionID rekeys a transaction, used when the exchange assigns
// its own ID to an entry created with a client-side UUID.
func (m *Manager) UpdateTransactionID(previousID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[previousID]
	if !ok {
		return fmt.Errorf("transaction %s not found", previousID)
	}
	if _, taken := m.transactions[newID]; taken {
		return fmt.Errorf("%w: %s", model.ErrDuplicateTransactionID, newID)
	}

	delete(m.transactions, previousID)
	tx.TransactionID = newID
	m.transactions[newID] = tx
	for i, id := range m.order {
		if id == previousID {
			m.order[i] = newID
			break
		}
	}
	return nil
}

func (m *Manager) Get(transactionID string) (*model.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	return tx, ok
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// Transactions snapshots the ledger in insertion order.
func (m *Manager) Transactions() []*model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Transaction, 0, len(m.order))
	for _, id := range m.order {
		if tx, ok := m.transactions[id]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// ByType filters the ledger.
func (m *Manager) ByType(txType model.TransactionType) []*model.Transaction {
	var out []*model.Transaction
	for _, tx := range m.Transactions() {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

// evictOldest drops the oldest 10% of capacity. Caller holds the lock.
func (m *Manager) evictOldest() {
	evictCount := m.maxCount / 10
	if evictCount < 1 {
		evictCount = 1
	}
	if evictCount > len(m.order) {
		evictCount = len(m.order)
	}
	for _, id := range m.order[:evictCount] {
		delete(m.transactions, id)
	}
	m.order = m.order[evictCount:]

	logger.WithFields(map[string]interface{}{
		"component":   "transactions",
		"exchange_id": m.exchangeID,
		"evicted":     evictCount,
	}).Debug("Evicted oldest transactions")
}

// NewBlockchainTransaction builds a deposit or withdrawal ledger entry with
// a client-side UUID; the exchange may rekey it later.
func NewBlockchainTransaction(txType model.TransactionType, currency, blockchainType, address string, quantity decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		TransactionID:  uuid.NewString(),
		Type:           txType,
		Currency:       currency,
		Quantity:       quantity,
		BlockchainType: blockchainType,
		Address:        address,
		CreationTime:   time.Now(),
	}
}

// NewFundingFeeTransaction records a funding payment on a derivative symbol.
func NewFundingFeeTransaction(currency string, symbol model.Symbol, quantity, fundingRate decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		TransactionID: uuid.NewString(),
		Type:          model.TransactionTypeFundingFee,
		Currency:      currency,
		Symbol:        symbol,
		Quantity:      quantity,
		FundingRate:   fundingRate,
		CreationTime:  time.Now(),
	}
}

// NewRealisedPnlTransaction snapshots realized PnL at a position close.
func NewRealisedPnlTransaction(currency string, symbol model.Symbol, quantity, closedQuantity decimal.Decimal, firstEntryTime time.Time) *model.Transaction {
	return &model.Transaction{
		TransactionID:  uuid.NewString(),
		Type:           model.TransactionTypeCloseRealisedPnl,
		Currency:       currency,
		Symbol:         symbol,
		Quantity:       quantity,
		ClosedQuantity: closedQuantity,
		FirstEntryTime: firstEntryTime,
		CreationTime:   time.Now(),
	}
}

// NewTradingFeeTransaction records an order fee with no trade of its own.
func NewTradingFeeTransaction(currency string, symbol model.Symbol, quantity decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		TransactionID: uuid.NewString(),
		Type:          model.TransactionTypeTradingFee,
		Currency:      currency,
		Symbol:        symbol,
		Quantity:      quantity,
		CreationTime:  time.Now(),
	}
}
