package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay/internal/ledger"
)

const (
	statusActive = "active"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo            Repository
	ledger          ledger.Ledger
	defaultCurrency string
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "NGN"
	}
	return &Service{repo: repo, ledger: ledger, defaultCurrency: defaultCurrency}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and its ledger account with a zero balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	wallet := Wallet{
		ID:        uuid.New().String(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, wallet.ID); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet of a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.ID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, Currency: wallet.Currency, AsOf: time.Now().UTC()}, nil
}
