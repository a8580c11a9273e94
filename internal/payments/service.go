// Package payments orchestrates face-authorised payments: match the payer,
// record intent, run the policy gate and settle or park the transaction for
// approval. It also carries plain wallet-to-wallet transfers.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay/internal/biometric"
	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/notification"
	"github.com/gestpay/gestpay/internal/policy"
	"github.com/gestpay/gestpay/internal/wallet"
)

// Settings is the slice of configuration the flow needs.
type Settings struct {
	MaxDistanceKM float64
}

// Users looks up payers and recipients.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	FindByPhone(ctx context.Context, phone string) (identity.User, error)
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Ledger   ledger.Ledger
	Users    Users
	Wallets  *wallet.Service
	Matcher  biometric.Matcher
	Gate     *policy.Gate
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service runs the authorization flow.
type Service struct {
	ledger   ledger.Ledger
	users    Users
	wallets  *wallet.Service
	matcher  biometric.Matcher
	gate     *policy.Gate
	notifier notification.Notifier
	logger   *slog.Logger
	settings Settings
}

// NewService constructs a payment service. A nil gate uses the default rules.
func NewService(deps Dependencies, settings Settings) *Service {
	gate := deps.Gate
	if gate == nil {
		gate = policy.NewGate()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   deps.Ledger,
		users:    deps.Users,
		wallets:  deps.Wallets,
		matcher:  deps.Matcher,
		gate:     gate,
		notifier: deps.Notifier,
		logger:   logger,
		settings: settings,
	}
}

// OutcomeKind classifies a non-error result of the flow.
type OutcomeKind string

const (
	OutcomeSettled             OutcomeKind = "settled"
	OutcomePendingConfirmation OutcomeKind = "pending_confirmation"
	OutcomePendingReview       OutcomeKind = "pending_review"
	OutcomeRetrieved           OutcomeKind = "retrieved"
)

// Outcome is what the flow reports back to the caller.
type Outcome struct {
	Kind                 OutcomeKind
	Message              string
	Transaction          ledger.Transaction
	VerificationRequired bool
}

// Settled reports whether funds moved.
func (o Outcome) Settled() bool {
	return o.Kind == OutcomeSettled
}

// InitiateInput is a face-pay request from a merchant device.
type InitiateInput struct {
	RecipientPhone string
	Amount         decimal.Decimal
	Description    string
	FaceImage      []byte
	Latitude       float64
	Longitude      float64
}

// Initiate authorises a payment from whoever is in the face image to the
// recipient identified by phone number.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Outcome, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return Outcome{}, reject(ErrBadInput, err.Error(), "")
	}
	if in.RecipientPhone == "" {
		return Outcome{}, reject(ErrBadInput, "phone_number is required", "")
	}

	match, err := s.matcher.Match(ctx, in.FaceImage)
	if err != nil {
		return Outcome{}, s.matchError(err)
	}
	payer, err := s.users.FindByID(ctx, match.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Outcome{}, reject(ErrIdentityNotRecognized, "", "")
		}
		return Outcome{}, fmt.Errorf("load payer: %w", err)
	}
	payerWallet, err := s.wallets.GetByOwner(ctx, payer.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load payer wallet: %w", err)
	}

	recipient, recipientWallet, found, err := s.recipient(ctx, in.RecipientPhone)
	if err != nil {
		return Outcome{}, err
	}
	if found && recipient.ID == payer.ID {
		return Outcome{}, reject(ErrBadInput, "cannot pay yourself", "")
	}

	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		SenderWalletID:   payerWallet.ID,
		ReceiverWalletID: recipientWallet.ID,
		Amount:           in.Amount,
		Feature:          ledger.FeatureFacePay,
		Type:             ledger.TypeDebit,
		Description:      in.Description,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record face payment: %w", err)
	}

	balance, err := s.ledger.Balance(ctx, payerWallet.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("read payer balance: %w", err)
	}
	decision := s.gate.Evaluate(policy.Inputs{
		RecipientFound:      found,
		FacePaymentsEnabled: payer.AllowFacePayments,
		Balance:             balance,
		Amount:              in.Amount,
		DistanceKM:          policy.Haversine(in.Latitude, in.Longitude, payer.Latitude, payer.Longitude),
		ThresholdKM:         s.settings.MaxDistanceKM,
		AlwaysConfirm:       payer.AlwaysConfirmPayment,
	})
	log := s.logger.With(slog.String("reference", tx.Reference), slog.String("decision", string(decision.Kind)))

	switch decision.Kind {
	case policy.KindRejected:
		if _, err := s.ledger.Transition(ctx, tx.Reference, ledger.StatusFailed, ledger.StatusPending); err != nil {
			return Outcome{}, fmt.Errorf("fail transaction: %w", err)
		}
		log.Info("face payment rejected", slog.String("reason", string(decision.Reason)))
		return Outcome{}, rejection(decision.Reason, tx.Reference)

	case policy.KindPendingReview:
		tx, err = s.ledger.Transition(ctx, tx.Reference, ledger.StatusProbableScam, ledger.StatusPending)
		if err != nil {
			return Outcome{}, fmt.Errorf("flag transaction: %w", err)
		}
		s.notify(ctx, notification.Message{
			UserID:        payer.ID,
			TransactionID: tx.ID,
			Kind:          notification.KindSecurity,
			Content:       "A transaction was blocked from going through because your device was not within range.",
		})
		log.Warn("face payment held for review", slog.String("reason", string(decision.Reason)))
		return Outcome{
			Kind:                 OutcomePendingReview,
			Message:              "Location too far. Further action needed, please check your mobile app.",
			Transaction:          tx,
			VerificationRequired: true,
		}, nil

	case policy.KindPendingConfirmation:
		s.notify(ctx, notification.Message{
			UserID:        payer.ID,
			TransactionID: tx.ID,
			Kind:          notification.KindSecurity,
			Content:       "Please confirm payment.",
		})
		log.Info("face payment awaiting confirmation")
		return Outcome{
			Kind:                 OutcomePendingConfirmation,
			Message:              "Confirmation needed, please check your mobile app.",
			Transaction:          tx,
			VerificationRequired: true,
		}, nil
	}

	res, err := s.ledger.Settle(ctx, tx.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Balance moved between the gate and the settlement lock.
			s.failPending(ctx, tx.Reference)
			return Outcome{}, reject(ErrInsufficientFunds, "Insufficient balance", tx.Reference)
		}
		return Outcome{}, fmt.Errorf("settle face payment: %w", err)
	}
	s.notifyReceived(ctx, recipient.ID, payer, res.Transaction)
	log.Info("face payment settled")
	return Outcome{Kind: OutcomeSettled, Message: "Transaction successful!", Transaction: res.Transaction}, nil
}

// ApproveInput is the payer's approval of a parked transaction.
type ApproveInput struct {
	Reference string
	// Method records how the payer approved (pin, biometric, ...). It is logged only.
	Method string
	// ApproverID must own the sender wallet when set.
	ApproverID string
}

// Approve settles a pending or flagged transaction. The sender balance is
// checked again under the settlement lock.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (Outcome, error) {
	tx, err := s.ledger.Get(ctx, in.Reference)
	if err != nil {
		return Outcome{}, lookupError(err, in.Reference)
	}
	switch {
	case tx.Status == ledger.StatusSuccessful:
		return Outcome{}, reject(ErrAlreadySettled, "Transaction was already successful", tx.Reference)
	case !tx.Status.Settleable():
		return Outcome{}, reject(ErrAlreadyHandled, "Transaction already handled", tx.Reference)
	}

	if in.ApproverID != "" {
		sender, err := s.wallets.Get(ctx, tx.SenderWalletID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load sender wallet: %w", err)
		}
		if sender.OwnerID != in.ApproverID {
			return Outcome{}, reject(ErrNotOwner, "", tx.Reference)
		}
	}

	res, err := s.ledger.Settle(ctx, tx.Reference)
	switch {
	case errors.Is(err, ledger.ErrAlreadySettled):
		return Outcome{}, reject(ErrAlreadySettled, "Transaction was already successful", tx.Reference)
	case errors.Is(err, ledger.ErrNotSettleable):
		return Outcome{}, reject(ErrAlreadyHandled, "Transaction already handled", tx.Reference)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return Outcome{}, reject(ErrInsufficientFunds, "Insufficient balance to approve transaction", tx.Reference)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return Outcome{}, reject(ErrRecipientNotFound, "", tx.Reference)
	case err != nil:
		return Outcome{}, fmt.Errorf("settle %s: %w", tx.Reference, err)
	}

	s.logger.Info("payment approved",
		slog.String("reference", tx.Reference),
		slog.String("method", in.Method),
		slog.String("previous_status", string(tx.Status)),
	)
	if receiver, err := s.wallets.Get(ctx, res.Transaction.ReceiverWalletID); err == nil {
		payer, _ := s.payerOf(ctx, res.Transaction)
		s.notifyReceived(ctx, receiver.OwnerID, payer, res.Transaction)
	}
	return Outcome{Kind: OutcomeSettled, Message: "Transaction approved successfully!", Transaction: res.Transaction}, nil
}

// Status returns the transaction for polling without changing anything.
func (s *Service) Status(ctx context.Context, reference string) (Outcome, error) {
	tx, err := s.ledger.Get(ctx, reference)
	if err != nil {
		return Outcome{}, lookupError(err, reference)
	}
	return Outcome{Kind: OutcomeRetrieved, Message: "Transaction retrieved!", Transaction: tx}, nil
}

// TransferInput is an authenticated wallet-to-wallet transfer.
type TransferInput struct {
	SenderID       string
	RecipientPhone string
	Amount         decimal.Decimal
	Description    string
}

// Transfer moves funds from the caller's wallet to the wallet of the user
// owning RecipientPhone. It settles immediately through the same unit as face pay.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Outcome, error) {
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return Outcome{}, reject(ErrBadInput, err.Error(), "")
	}
	sender, err := s.users.FindByID(ctx, in.SenderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load sender: %w", err)
	}
	senderWallet, err := s.wallets.GetByOwner(ctx, sender.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load sender wallet: %w", err)
	}
	recipient, recipientWallet, found, err := s.recipient(ctx, in.RecipientPhone)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{}, reject(ErrRecipientNotFound, "Recipient not found", "")
	}
	if recipient.ID == sender.ID {
		return Outcome{}, reject(ErrBadInput, "cannot pay yourself", "")
	}

	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		SenderWalletID:   senderWallet.ID,
		ReceiverWalletID: recipientWallet.ID,
		Amount:           in.Amount,
		Feature:          ledger.FeatureTransfer,
		Type:             ledger.TypeDebit,
		Description:      in.Description,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record transfer: %w", err)
	}
	res, err := s.ledger.Settle(ctx, tx.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			s.failPending(ctx, tx.Reference)
			return Outcome{}, reject(ErrInsufficientFunds, "Insufficient funds", tx.Reference)
		}
		return Outcome{}, fmt.Errorf("settle transfer: %w", err)
	}

	s.notifyReceived(ctx, recipient.ID, sender, res.Transaction)
	s.logger.Info("transfer settled", slog.String("reference", tx.Reference))
	return Outcome{Kind: OutcomeSettled, Message: "Transfer successful", Transaction: res.Transaction}, nil
}

// HistoryEntry is a transaction as seen from one wallet.
type HistoryEntry struct {
	ledger.Transaction
	// Direction is debit when the wallet sent the funds and credit otherwise.
	Direction ledger.Type
}

// History lists the caller's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, q ledger.Query) ([]HistoryEntry, error) {
	w, err := s.wallets.GetByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.List(ctx, w.ID, q)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		direction := ledger.TypeCredit
		if tx.SenderWalletID == w.ID {
			direction = ledger.TypeDebit
		}
		entries = append(entries, HistoryEntry{Transaction: tx, Direction: direction})
	}
	return entries, nil
}

// recipient resolves a phone number to a user and wallet. found is false when
// either is missing.
func (s *Service) recipient(ctx context.Context, phone string) (identity.User, wallet.Wallet, bool, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, wallet.Wallet{}, false, nil
	}
	if err != nil {
		return identity.User{}, wallet.Wallet{}, false, fmt.Errorf("load recipient: %w", err)
	}
	w, err := s.wallets.GetByOwner(ctx, user.ID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return user, wallet.Wallet{}, false, nil
	}
	if err != nil {
		return identity.User{}, wallet.Wallet{}, false, fmt.Errorf("load recipient wallet: %w", err)
	}
	return user, w, true, nil
}

func (s *Service) payerOf(ctx context.Context, tx ledger.Transaction) (identity.User, error) {
	w, err := s.wallets.Get(ctx, tx.SenderWalletID)
	if err != nil {
		return identity.User{}, err
	}
	return s.users.FindByID(ctx, w.OwnerID)
}

func (s *Service) notifyReceived(ctx context.Context, recipientID string, payer identity.User, tx ledger.Transaction) {
	content := fmt.Sprintf("#%s received", tx.Amount.StringFixed(2))
	if name := payer.FullName(); name != "" {
		content += " from " + name
	}
	s.notify(ctx, notification.Message{
		UserID:        recipientID,
		TransactionID: tx.ID,
		Kind:          notification.KindWallet,
		Content:       content,
	})
}

// notify is advisory: a failed notification never undoes a payment.
func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil || msg.UserID == "" {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed",
			slog.String("user_id", msg.UserID),
			slog.String("kind", msg.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// failPending marks a transaction that lost its funds at settlement as failed.
// The caller already has its answer, so a failed write is logged, not returned.
func (s *Service) failPending(ctx context.Context, reference string) {
	if _, err := s.ledger.Transition(ctx, reference, ledger.StatusFailed, ledger.StatusPending); err != nil {
		s.logger.Warn("could not mark transaction failed",
			slog.String("reference", reference),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) matchError(err error) error {
	switch {
	case errors.Is(err, biometric.ErrNotFound):
		return reject(ErrIdentityNotRecognized, "No matching face found", "")
	case errors.Is(err, biometric.ErrBadInput):
		return reject(ErrBadInput, "Invalid face image", "")
	default:
		s.logger.Error("face matcher failed", slog.String("error", err.Error()))
		return reject(ErrUpstreamMatcher, "Face verification is unavailable, try again later", "")
	}
}

func lookupError(err error, reference string) error {
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return reject(ErrTransactionNotFound, fmt.Sprintf("Transaction with reference %s not found", reference), reference)
	}
	return err
}

func rejection(reason policy.Reason, reference string) *RejectionError {
	switch reason {
	case policy.ReasonRecipientNotFound:
		return reject(ErrRecipientNotFound, "Recipient not found", reference)
	case policy.ReasonFeatureDisabled:
		return reject(ErrFeatureDisabled, "Face payments have been disabled", reference)
	case policy.ReasonInsufficientFunds:
		return reject(ErrInsufficientFunds, "Insufficient balance", reference)
	default:
		return reject(ErrBadInput, string(reason), reference)
	}
}
