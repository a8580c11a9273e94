package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds occurs when the sender wallet cannot cover a settlement.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the reference or client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountNotFound     = errors.New("wallet account not found")

	// ErrAlreadySettled is returned by Settle when the transaction is already successful.
	ErrAlreadySettled = errors.New("transaction already settled")
	// ErrNotSettleable is returned by Settle for failed or reversed transactions.
	ErrNotSettleable = errors.New("transaction cannot be settled")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAmount     = errors.New("amount must be positive with at most 2 decimal places")
)

// maxAmount is the first value that no longer fits NUMERIC(15,2).
var maxAmount = decimal.New(1, 13)

// ValidateAmount reports ErrInvalidAmount unless amount is positive, has at most
// two decimal places and fits the NUMERIC(15,2) money columns.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) || amount.GreaterThanOrEqual(maxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSuccessful   Status = "successful"
	StatusFailed       Status = "failed"
	StatusReversed     Status = "reversed"
	StatusProbableScam Status = "probable_scam"
)

// Settleable reports whether a transaction in this state may still move funds.
func (s Status) Settleable() bool {
	return s == StatusPending || s == StatusProbableScam
}

// Feature tags the product surface that produced a transaction.
type Feature string

const (
	FeatureWallet   Feature = "wallet"
	FeatureVoicePay Feature = "voice-pay"
	FeatureFacePay  Feature = "face-pay"
	FeatureChatPay  Feature = "chat-pay"
	FeatureTransfer Feature = "transfer"
)

// Type is the direction of a transaction relative to its sender wallet.
type Type string

const (
	TypeDebit  Type = "debit"
	TypeCredit Type = "credit"
)

// Transaction is one payment attempt and its audit trail.
type Transaction struct {
	ID               string
	Reference        string
	SenderWalletID   string
	ReceiverWalletID string
	Amount           decimal.Decimal
	Feature          Feature
	Type             Type
	Status           Status
	Description      string
	ClientTxID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SettlementResult captures the outcome of a settlement unit.
type SettlementResult struct {
	Transaction     Transaction
	SenderBalance   decimal.Decimal
	ReceiverBalance decimal.Decimal
}

// DepositResult captures the outcome of a funding credit.
type DepositResult struct {
	Transaction   Transaction
	WalletBalance decimal.Decimal
}

// Query filters transaction history for a wallet.
type Query struct {
	// SentOnly restricts results to transactions where the wallet is the sender.
	SentOnly bool
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, walletID string) error
	Balance(ctx context.Context, walletID string) (decimal.Decimal, error)
	Record(ctx context.Context, tx Transaction) (Transaction, error)
	Get(ctx context.Context, reference string) (Transaction, error)
	Transition(ctx context.Context, reference string, to Status, allowedFrom ...Status) (Transaction, error)
	Settle(ctx context.Context, reference string) (SettlementResult, error)
	Deposit(ctx context.Context, walletID, clientTxID string, amount decimal.Decimal) (DepositResult, error)
	List(ctx context.Context, walletID string, q Query) ([]Transaction, error)
}

// NewReference returns a transaction reference of the form TXN-XXXXXXXXXX.
func NewReference() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN-" + strings.ToUpper(hex[:10])
}

func allowed(from Status, allowedFrom []Status) bool {
	if len(allowedFrom) == 0 {
		return true
	}
	for _, s := range allowedFrom {
		if s == from {
			return true
		}
	}
	return false
}

func matches(tx Transaction, walletID string, q Query) bool {
	if tx.SenderWalletID != walletID && (q.SentOnly || tx.ReceiverWalletID != walletID) {
		return false
	}
	if !q.Since.IsZero() && tx.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !tx.CreatedAt.Before(q.Until) {
		return false
	}
	return true
}
