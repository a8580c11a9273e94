// Package dashboard summarises a user's month of wallet activity.
package dashboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/wallet"
)

// Wallets resolves a user's wallet.
type Wallets interface {
	GetByOwner(ctx context.Context, ownerID string) (wallet.Wallet, error)
}

// Users resolves the profile shown next to the figures.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// Summary holds the dashboard figures.
type Summary struct {
	Email                  string
	ThisMonthBalance       decimal.Decimal
	ThisMonthPercentage    float64
	TransactionsNo         int
	TransactionsPercentage float64
}

// Service computes dashboard summaries.
type Service struct {
	ledger  ledger.Ledger
	wallets Wallets
	users   Users
	now     func() time.Time
}

// NewService builds a dashboard service.
func NewService(l ledger.Ledger, wallets Wallets, users Users) *Service {
	return &Service{ledger: l, wallets: wallets, users: users, now: func() time.Time { return time.Now().UTC() }}
}

// Summary returns the current balance and how this month's sent payments
// compare with the user's history and with last month.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	w, err := s.wallets.GetByOwner(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	balance, err := s.ledger.Balance(ctx, w.ID)
	if err != nil {
		return Summary{}, err
	}
	sent, err := s.ledger.List(ctx, w.ID, ledger.Query{SentOnly: true})
	if err != nil {
		return Summary{}, err
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	var (
		count     int
		thisTotal = decimal.Zero
		lastTotal = decimal.Zero
	)
	for _, tx := range sent {
		thisMonth := !tx.CreatedAt.Before(monthStart)
		if thisMonth {
			count++
		}
		if tx.Status != ledger.StatusSuccessful {
			continue
		}
		switch {
		case thisMonth:
			thisTotal = thisTotal.Add(tx.Amount)
		case !tx.CreatedAt.Before(lastMonthStart):
			lastTotal = lastTotal.Add(tx.Amount)
		}
	}

	summary := Summary{
		Email:               user.Email,
		ThisMonthBalance:    balance,
		TransactionsNo:      count,
		ThisMonthPercentage: 100,
	}
	if len(sent) > 0 {
		summary.TransactionsPercentage = float64(count) / float64(len(sent)) * 100
	}
	if lastTotal.IsPositive() {
		summary.ThisMonthPercentage = thisTotal.Sub(lastTotal).Div(lastTotal).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return summary, nil
}
