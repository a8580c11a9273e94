package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// inMemoryLedger serialises every mutation behind one mutex, which gives the
// same guarantees as the row locks taken by the Postgres backend.
type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]decimal.Decimal
	transactions map[string]Transaction
	deposits     map[string]string
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[string]decimal.Decimal),
		transactions: make(map[string]Transaction),
		deposits:     make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, walletID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[walletID]; !exists {
		l.balances[walletID] = decimal.Zero
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, walletID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[walletID]
	if !exists {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Record(_ context.Context, tx Transaction) (Transaction, error) {
	if err := ValidateAmount(tx.Amount); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[tx.SenderWalletID]; !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if tx.ReceiverWalletID != "" {
		if _, ok := l.balances[tx.ReceiverWalletID]; !ok {
			return Transaction{}, ErrAccountNotFound
		}
	}
	if tx.Reference == "" {
		tx.Reference = NewReference()
	}
	if _, exists := l.transactions[tx.Reference]; exists {
		return Transaction{}, ErrDuplicateTransaction
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Type == "" {
		tx.Type = TypeDebit
	}
	tx.Status = StatusPending
	tx.CreatedAt = l.now()
	tx.UpdatedAt = tx.CreatedAt

	l.transactions[tx.Reference] = tx
	return tx, nil
}

func (l *inMemoryLedger) Get(_ context.Context, reference string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (l *inMemoryLedger) Transition(_ context.Context, reference string, to Status, allowedFrom ...Status) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if !allowed(tx.Status, allowedFrom) {
		return tx, ErrInvalidTransition
	}
	tx.Status = to
	tx.UpdatedAt = l.now()
	l.transactions[reference] = tx
	return tx, nil
}

func (l *inMemoryLedger) Settle(_ context.Context, reference string) (SettlementResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[reference]
	if !ok {
		return SettlementResult{}, ErrTransactionNotFound
	}
	switch {
	case tx.Status == StatusSuccessful:
		return SettlementResult{Transaction: tx}, ErrAlreadySettled
	case !tx.Status.Settleable():
		return SettlementResult{Transaction: tx}, ErrNotSettleable
	}

	senderBalance, ok := l.balances[tx.SenderWalletID]
	if !ok {
		return SettlementResult{}, ErrAccountNotFound
	}
	receiverBalance, ok := l.balances[tx.ReceiverWalletID]
	if !ok {
		return SettlementResult{}, ErrAccountNotFound
	}
	if senderBalance.LessThan(tx.Amount) {
		return SettlementResult{Transaction: tx}, ErrInsufficientFunds
	}

	senderBalance = senderBalance.Sub(tx.Amount)
	receiverBalance = receiverBalance.Add(tx.Amount)
	l.balances[tx.SenderWalletID] = senderBalance
	l.balances[tx.ReceiverWalletID] = receiverBalance

	tx.Status = StatusSuccessful
	tx.UpdatedAt = l.now()
	l.transactions[reference] = tx

	return SettlementResult{Transaction: tx, SenderBalance: senderBalance, ReceiverBalance: receiverBalance}, nil
}

func (l *inMemoryLedger) Deposit(_ context.Context, walletID, clientTxID string, amount decimal.Decimal) (DepositResult, error) {
	if err := ValidateAmount(amount); err != nil {
		return DepositResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[walletID]
	if !ok {
		return DepositResult{}, ErrAccountNotFound
	}
	if ref, exists := l.deposits[clientTxID]; exists {
		return DepositResult{Transaction: l.transactions[ref], WalletBalance: balance}, ErrDuplicateTransaction
	}

	now := l.now()
	tx := Transaction{
		ID:               uuid.NewString(),
		Reference:        NewReference(),
		ReceiverWalletID: walletID,
		Amount:           amount,
		Feature:          FeatureWallet,
		Type:             TypeCredit,
		Status:           StatusSuccessful,
		Description:      "Wallet funding",
		ClientTxID:       clientTxID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	balance = balance.Add(amount)
	l.balances[walletID] = balance
	l.transactions[tx.Reference] = tx
	l.deposits[clientTxID] = tx.Reference

	return DepositResult{Transaction: tx, WalletBalance: balance}, nil
}

func (l *inMemoryLedger) List(_ context.Context, walletID string, q Query) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Transaction, 0)
	for _, tx := range l.transactions {
		if matches(tx, walletID, q) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
