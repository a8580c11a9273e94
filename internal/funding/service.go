package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/wallet"
)

var (
	ErrInvalidCard = errors.New("invalid card")
	ErrDeclined    = errors.New("card authorization declined")
)

// Service coordinates card funding using the ledger and acquirer connector.
type Service struct {
	ledger   ledger.Ledger
	wallets  *wallet.Service
	acquirer Acquirer
	now      func() time.Time
}

// NewService prepares a funding service. A nil acquirer uses StaticAcquirer.
func NewService(ledgerBackend ledger.Ledger, wallets *wallet.Service, acquirer Acquirer) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	return &Service{
		ledger:   ledgerBackend,
		wallets:  wallets,
		acquirer: acquirer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CardInInput captures the required data for a card top-up of the owner's wallet.
type CardInInput struct {
	OwnerID    string
	Amount     decimal.Decimal
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// FundingResult represents the domain outcome of a card operation.
type FundingResult struct {
	Reference         string
	Status            string
	Amount            decimal.Decimal
	WalletBalance     decimal.Decimal
	AcquirerReference string
	CompletedAt       time.Time
}

// CardIn authorizes and records a card top-up into the owner's wallet. A
// repeated ClientTxID returns the earlier result together with
// ledger.ErrDuplicateTransaction.
func (s *Service) CardIn(ctx context.Context, input CardInInput) (FundingResult, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return FundingResult{}, err
	}
	if err := ledger.ValidateAmount(input.Amount); err != nil {
		return FundingResult{}, err
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	w, err := s.wallets.GetByOwner(ctx, input.OwnerID)
	if err != nil {
		return FundingResult{}, err
	}

	decision, err := s.acquirer.AuthorizeCardIn(ctx, CardInAuthorization{
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
		Currency:   w.Currency,
	})
	if err != nil {
		return FundingResult{}, fmt.Errorf("authorize card: %w", err)
	}
	if !decision.Approved() {
		return FundingResult{}, ErrDeclined
	}

	res, err := s.ledger.Deposit(ctx, w.ID, input.ClientTxID, input.Amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return FundingResult{}, err
	}
	return FundingResult{
		Reference:         res.Transaction.Reference,
		Status:            string(res.Transaction.Status),
		Amount:            res.Transaction.Amount,
		WalletBalance:     res.WalletBalance,
		AcquirerReference: decision.Reference,
		CompletedAt:       s.now(),
	}, err
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("%w: card number must be between 12 and 19 digits", ErrInvalidCard)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: card number must be numeric", ErrInvalidCard)
		}
	}
	return nil
}
