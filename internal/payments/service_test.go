package payments

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay/internal/biometric"
	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/logging"
	"github.com/gestpay/gestpay/internal/notification"
	"github.com/gestpay/gestpay/internal/wallet"
)

const (
	lagosLat, lagosLon = 6.5244, 3.3792
	abujaLat, abujaLon = 9.0765, 7.3986
	merchantPhone      = "08030000002"
)

type stubMatcher struct {
	userID string
	err    error
}

func (m *stubMatcher) Match(context.Context, []byte) (biometric.Match, error) {
	if m.err != nil {
		return biometric.Match{}, m.err
	}
	return biometric.Match{UserID: m.userID, Score: 0.98}, nil
}

type fixture struct {
	svc            *Service
	ledger         ledger.Ledger
	users          identity.Repository
	wallets        *wallet.Service
	inbox          notification.Repository
	matcher        *stubMatcher
	payer          identity.User
	payerWallet    wallet.Wallet
	merchant       identity.User
	merchantWallet wallet.Wallet
}

func newFixture(t *testing.T, balance string, configure func(*identity.User)) *fixture {
	t.Helper()
	ctx := context.Background()

	led := ledger.NewInMemory()
	users := identity.NewMemoryRepository()
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "NGN")
	inbox := notification.NewMemoryRepository()

	f := &fixture{ledger: led, users: users, wallets: wallets, inbox: inbox}
	f.payer = f.addUser(t, "08030000001", func(u *identity.User) {
		u.FirstName, u.LastName = "Ada", "Obi"
		u.Latitude, u.Longitude = lagosLat, lagosLon
		u.FaceEmbedding = []float32{1, 0, 0}
		if configure != nil {
			configure(u)
		}
	})
	f.merchant = f.addUser(t, merchantPhone, func(u *identity.User) {
		u.FirstName, u.Role = "Mama Put", identity.RoleMerchant
	})

	var err error
	f.payerWallet, err = wallets.GetByOwner(ctx, f.payer.ID)
	require.NoError(t, err)
	f.merchantWallet, err = wallets.GetByOwner(ctx, f.merchant.ID)
	require.NoError(t, err)
	ledger.SeedBalance(led, f.payerWallet.ID, decimal.RequireFromString(balance))

	f.matcher = &stubMatcher{userID: f.payer.ID}
	f.svc = NewService(Dependencies{
		Ledger:   led,
		Users:    users,
		Wallets:  wallets,
		Matcher:  f.matcher,
		Notifier: notification.NewStoreNotifier(inbox, logging.Discard()),
		Logger:   logging.Discard(),
	}, Settings{MaxDistanceKM: 5})
	return f
}

func (f *fixture) addUser(t *testing.T, phone string, configure func(*identity.User)) identity.User {
	t.Helper()
	ctx := context.Background()
	user := identity.User{
		ID:                uuid.NewString(),
		Phone:             phone,
		Role:              identity.RoleUser,
		AllowFacePayments: true,
	}
	configure(&user)
	require.NoError(t, f.users.Create(ctx, user))
	_, err := f.wallets.Create(ctx, wallet.CreateInput{OwnerID: user.ID})
	require.NoError(t, err)
	return user
}

func (f *fixture) balances(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	payer, err := f.ledger.Balance(ctx, f.payerWallet.ID)
	require.NoError(t, err)
	merchant, err := f.ledger.Balance(ctx, f.merchantWallet.ID)
	require.NoError(t, err)
	return payer.StringFixed(2), merchant.StringFixed(2)
}

func (f *fixture) inboxOf(t *testing.T, userID string) []notification.Notification {
	t.Helper()
	items, err := f.inbox.ListByUser(context.Background(), userID, notification.ListOptions{})
	require.NoError(t, err)
	return items
}

func facePay(amount string, lat, lon float64) InitiateInput {
	return InitiateInput{
		RecipientPhone: merchantPhone,
		Amount:         decimal.RequireFromString(amount),
		Description:    "lunch",
		FaceImage:      []byte("jpeg"),
		Latitude:       lat,
		Longitude:      lon,
	}
}

func requireRejection(t *testing.T, err error, kind error) *RejectionError {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection), "expected a RejectionError, got %T", err)
	return rejection
}

func TestInitiateSettlesImmediately(t *testing.T) {
	f := newFixture(t, "100.00", nil)

	out, err := f.svc.Initiate(context.Background(), facePay("30.00", lagosLat, lagosLon))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, out.Kind)
	assert.False(t, out.VerificationRequired)
	assert.Equal(t, ledger.StatusSuccessful, out.Transaction.Status)
	assert.Equal(t, ledger.FeatureFacePay, out.Transaction.Feature)

	payer, merchant := f.balances(t)
	assert.Equal(t, "70.00", payer)
	assert.Equal(t, "30.00", merchant)

	received := f.inboxOf(t, f.merchant.ID)
	require.Len(t, received, 1)
	assert.Equal(t, notification.KindWallet, received[0].Kind)
	assert.Equal(t, "#30.00 received from Ada Obi", received[0].Content)
	assert.Equal(t, out.Transaction.ID, received[0].TransactionID)
}

func TestInitiateOutsideGeofenceThenApprove(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	out, err := f.svc.Initiate(ctx, facePay("30.00", abujaLat, abujaLon))
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingReview, out.Kind)
	assert.True(t, out.VerificationRequired)
	assert.Equal(t, ledger.StatusProbableScam, out.Transaction.Status)
	require.NotEmpty(t, out.Transaction.Reference)

	payer, merchant := f.balances(t)
	assert.Equal(t, "100.00", payer)
	assert.Equal(t, "0.00", merchant)

	alerts := f.inboxOf(t, f.payer.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, notification.KindSecurity, alerts[0].Kind)

	approved, err := f.svc.Approve(ctx, ApproveInput{Reference: out.Transaction.Reference, Method: "pin", ApproverID: f.payer.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, approved.Kind)
	assert.Equal(t, ledger.StatusSuccessful, approved.Transaction.Status)

	payer, merchant = f.balances(t)
	assert.Equal(t, "70.00", payer)
	assert.Equal(t, "30.00", merchant)

	for i := 0; i < 2; i++ {
		_, err = f.svc.Approve(ctx, ApproveInput{Reference: out.Transaction.Reference, ApproverID: f.payer.ID})
		rejection := requireRejection(t, err, ErrAlreadySettled)
		assert.Equal(t, out.Transaction.Reference, rejection.Reference)
	}
	payer, merchant = f.balances(t)
	assert.Equal(t, "70.00", payer, "repeat approvals must not move funds")
	assert.Equal(t, "30.00", merchant)
}

func TestInitiateAlwaysConfirmWaits(t *testing.T) {
	f := newFixture(t, "100.00", func(u *identity.User) { u.AlwaysConfirmPayment = true })

	out, err := f.svc.Initiate(context.Background(), facePay("30.00", lagosLat, lagosLon))
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingConfirmation, out.Kind)
	assert.True(t, out.VerificationRequired)
	assert.Equal(t, ledger.StatusPending, out.Transaction.Status)

	payer, _ := f.balances(t)
	assert.Equal(t, "100.00", payer)

	alerts := f.inboxOf(t, f.payer.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Please confirm payment.", alerts[0].Content)
}

func TestInitiateRejections(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*identity.User)
		input     func(InitiateInput) InitiateInput
		kind      error
	}{
		{
			name:  "amount above balance",
			input: func(in InitiateInput) InitiateInput { in.Amount = decimal.RequireFromString("100.01"); return in },
			kind:  ErrInsufficientFunds,
		},
		{
			name:  "unknown recipient",
			input: func(in InitiateInput) InitiateInput { in.RecipientPhone = "08000000000"; return in },
			kind:  ErrRecipientNotFound,
		},
		{
			name:      "face payments disabled",
			configure: func(u *identity.User) { u.AllowFacePayments = false },
			kind:      ErrFeatureDisabled,
		},
		{
			name:  "underfunded and far away fails on funds",
			input: func(in InitiateInput) InitiateInput { in.Amount = decimal.NewFromInt(500); in.Latitude, in.Longitude = abujaLat, abujaLon; return in },
			kind:  ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "100.00", tt.configure)
			ctx := context.Background()
			in := facePay("30.00", lagosLat, lagosLon)
			if tt.input != nil {
				in = tt.input(in)
			}

			_, err := f.svc.Initiate(ctx, in)
			rejection := requireRejection(t, err, tt.kind)
			require.NotEmpty(t, rejection.Reference, "rejections after a match carry the reference")

			tx, err := f.ledger.Get(ctx, rejection.Reference)
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusFailed, tx.Status)

			payer, merchant := f.balances(t)
			assert.Equal(t, "100.00", payer)
			assert.Equal(t, "0.00", merchant)
		})
	}
}

func TestInitiateMatcherFailuresCreateNoTransaction(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "no match", err: biometric.ErrNotFound, kind: ErrIdentityNotRecognized},
		{name: "bad image", err: biometric.ErrBadInput, kind: ErrBadInput},
		{name: "model down", err: biometric.ErrModelFailure, kind: ErrUpstreamMatcher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "100.00", nil)
			f.matcher.err = tt.err
			ctx := context.Background()

			_, err := f.svc.Initiate(ctx, facePay("30.00", lagosLat, lagosLon))
			rejection := requireRejection(t, err, tt.kind)
			assert.Empty(t, rejection.Reference)

			txs, err := f.ledger.List(ctx, f.payerWallet.ID, ledger.Query{})
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}

func TestInitiateSelfPaymentIsBadInput(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	in := facePay("10.00", lagosLat, lagosLon)
	in.RecipientPhone = f.payer.Phone

	_, err := f.svc.Initiate(context.Background(), in)
	requireRejection(t, err, ErrBadInput)
}

func TestApproveUnknownReference(t *testing.T) {
	f := newFixture(t, "100.00", nil)

	_, err := f.svc.Approve(context.Background(), ApproveInput{Reference: "TXN-0000000000", ApproverID: f.payer.ID})
	requireRejection(t, err, ErrTransactionNotFound)

	payer, merchant := f.balances(t)
	assert.Equal(t, "100.00", payer)
	assert.Equal(t, "0.00", merchant)
}

func TestApproveRequiresOwner(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	out, err := f.svc.Initiate(ctx, facePay("30.00", abujaLat, abujaLon))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, ApproveInput{Reference: out.Transaction.Reference, ApproverID: f.merchant.ID})
	requireRejection(t, err, ErrNotOwner)

	status, err := f.svc.Status(ctx, out.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProbableScam, status.Transaction.Status)
}

func TestApproveFailedTransactionIsAlreadyHandled(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, facePay("300.00", lagosLat, lagosLon))
	rejection := requireRejection(t, err, ErrInsufficientFunds)

	_, err = f.svc.Approve(ctx, ApproveInput{Reference: rejection.Reference, ApproverID: f.payer.ID})
	requireRejection(t, err, ErrAlreadyHandled)
}

func TestApproveRechecksBalance(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	out, err := f.svc.Initiate(ctx, facePay("80.00", abujaLat, abujaLon))
	require.NoError(t, err)

	// Spend most of the balance while the face payment is parked.
	_, err = f.svc.Transfer(ctx, TransferInput{SenderID: f.payer.ID, RecipientPhone: merchantPhone, Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, ApproveInput{Reference: out.Transaction.Reference, ApproverID: f.payer.ID})
	requireRejection(t, err, ErrInsufficientFunds)

	status, err := f.svc.Status(ctx, out.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProbableScam, status.Transaction.Status, "status is left untouched")

	payer, merchant := f.balances(t)
	assert.Equal(t, "50.00", payer)
	assert.Equal(t, "50.00", merchant)
}

func TestConcurrentApprovesSettleOnce(t *testing.T) {
	f := newFixture(t, "30.00", nil)
	ctx := context.Background()

	out, err := f.svc.Initiate(ctx, facePay("30.00", abujaLat, abujaLon))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusProbableScam, out.Transaction.Status)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, ApproveInput{Reference: out.Transaction.Reference, ApproverID: f.payer.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t, errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrInsufficientFunds), "unexpected error: %v", err)
	}
	payer, merchant := f.balances(t)
	assert.Equal(t, "0.00", payer)
	assert.Equal(t, "30.00", merchant)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	out, err := f.svc.Transfer(ctx, TransferInput{
		SenderID:       f.payer.ID,
		RecipientPhone: merchantPhone,
		Amount:         decimal.RequireFromString("12.50"),
		Description:    "rent share",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.FeatureTransfer, out.Transaction.Feature)
	assert.Equal(t, ledger.StatusSuccessful, out.Transaction.Status)

	payer, merchant := f.balances(t)
	assert.Equal(t, "87.50", payer)
	assert.Equal(t, "12.50", merchant)

	_, err = f.svc.Transfer(ctx, TransferInput{SenderID: f.payer.ID, RecipientPhone: "0700", Amount: decimal.NewFromInt(1)})
	requireRejection(t, err, ErrRecipientNotFound)

	_, err = f.svc.Transfer(ctx, TransferInput{SenderID: f.payer.ID, RecipientPhone: f.payer.Phone, Amount: decimal.NewFromInt(1)})
	requireRejection(t, err, ErrBadInput)

	_, err = f.svc.Transfer(ctx, TransferInput{SenderID: f.payer.ID, RecipientPhone: merchantPhone, Amount: decimal.NewFromInt(1000)})
	rejection := requireRejection(t, err, ErrInsufficientFunds)
	tx, err := f.ledger.Get(ctx, rejection.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
}

func TestHistoryDirection(t *testing.T) {
	f := newFixture(t, "100.00", nil)
	ctx := context.Background()

	_, err := f.svc.Transfer(ctx, TransferInput{SenderID: f.payer.ID, RecipientPhone: merchantPhone, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	sent, err := f.svc.History(ctx, f.payer.ID, ledger.Query{})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, ledger.TypeDebit, sent[0].Direction)

	received, err := f.svc.History(ctx, f.merchant.ID, ledger.Query{})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, ledger.TypeCredit, received[0].Direction)
}

func TestAmountsOutsideMoneyPrecisionAreBadInput(t *testing.T) {
	for _, amount := range []string{"0.001", "0.004", "10.005", "10000000000000"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t, "100.00", nil)
			ctx := context.Background()

			_, err := f.svc.Initiate(ctx, facePay(amount, lagosLat, lagosLon))
			rejection := requireRejection(t, err, ErrBadInput)
			assert.Empty(t, rejection.Reference)

			_, err = f.svc.Transfer(ctx, TransferInput{
				SenderID:       f.payer.ID,
				RecipientPhone: merchantPhone,
				Amount:         decimal.RequireFromString(amount),
			})
			requireRejection(t, err, ErrBadInput)

			history, err := f.ledger.List(ctx, f.payerWallet.ID, ledger.Query{})
			require.NoError(t, err)
			assert.Empty(t, history)

			payer, err := f.ledger.Balance(ctx, f.payerWallet.ID)
			require.NoError(t, err)
			assert.Equal(t, "100.00", payer.StringFixed(2))
		})
	}
}

// stuckLedger refuses every status transition.
type stuckLedger struct {
	ledger.Ledger
}

func (stuckLedger) Transition(context.Context, string, ledger.Status, ...ledger.Status) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("connection reset")
}

func TestFailedStatusWriteIsLogged(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	var logs bytes.Buffer
	f.svc.ledger = stuckLedger{Ledger: f.ledger}
	f.svc.logger = logging.NewWithWriter(&logs, "info")

	_, err := f.svc.Transfer(context.Background(), TransferInput{
		SenderID:       f.payer.ID,
		RecipientPhone: merchantPhone,
		Amount:         decimal.NewFromInt(50),
	})
	rejection := requireRejection(t, err, ErrInsufficientFunds)
	require.NotEmpty(t, rejection.Reference)

	out := logs.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "could not mark transaction failed")
	assert.Contains(t, out, rejection.Reference)
	assert.Contains(t, out, "connection reset")
}
