package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/wallet"
)

type setup struct {
	svc     *Service
	ledger  ledger.Ledger
	userID  string
	from    string
	to      string
	clockAt *time.Time
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	users := identity.NewMemoryRepository()
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "NGN")

	s := &setup{ledger: led, userID: uuid.NewString()}
	require.NoError(t, users.Create(ctx, identity.User{ID: s.userID, Email: "ada@example.com", Phone: "0801"}))
	from, err := wallets.Create(ctx, wallet.CreateInput{OwnerID: s.userID})
	require.NoError(t, err)
	to, err := wallets.Create(ctx, wallet.CreateInput{OwnerID: uuid.NewString()})
	require.NoError(t, err)
	s.from, s.to = from.ID, to.ID

	at := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	s.clockAt = &at
	ledger.SetClock(led, func() time.Time { return *s.clockAt })
	ledger.SeedBalance(led, s.from, decimal.NewFromInt(200))

	s.svc = NewService(led, wallets, users)
	s.svc.now = func() time.Time { return time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC) }
	return s
}

func (s *setup) send(t *testing.T, at time.Time, amount int64, settle bool) {
	t.Helper()
	*s.clockAt = at
	ctx := context.Background()
	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		SenderWalletID:   s.from,
		ReceiverWalletID: s.to,
		Amount:           decimal.NewFromInt(amount),
		Feature:          ledger.FeatureTransfer,
	})
	require.NoError(t, err)
	if settle {
		_, err = s.ledger.Settle(ctx, tx.Reference)
		require.NoError(t, err)
	}
}

func TestSummary(t *testing.T) {
	s := newSetup(t)
	s.send(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 20, true)
	s.send(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), 40, true)
	s.send(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 50, true)
	s.send(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), 10, false)

	summary, err := s.svc.Summary(context.Background(), s.userID)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", summary.Email)
	assert.Equal(t, "90.00", summary.ThisMonthBalance.StringFixed(2))
	assert.Equal(t, 2, summary.TransactionsNo)
	assert.InDelta(t, 50, summary.TransactionsPercentage, 1e-9)
	assert.InDelta(t, 25, summary.ThisMonthPercentage, 1e-9, "50 this month against 40 last month")
}

func TestSummaryWithoutLastMonth(t *testing.T) {
	s := newSetup(t)

	summary, err := s.svc.Summary(context.Background(), s.userID)
	require.NoError(t, err)
	assert.Zero(t, summary.TransactionsNo)
	assert.Zero(t, summary.TransactionsPercentage)
	assert.Equal(t, float64(100), summary.ThisMonthPercentage)
}

func TestSummaryAcrossYearBoundary(t *testing.T) {
	s := newSetup(t)
	s.svc.now = func() time.Time { return time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC) }
	s.send(t, time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC), 40, true)
	s.send(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 20, true)

	summary, err := s.svc.Summary(context.Background(), s.userID)
	require.NoError(t, err)
	assert.InDelta(t, -50, summary.ThisMonthPercentage, 1e-9)
}

func TestHandler(t *testing.T) {
	s := newSetup(t)
	app := fiber.New()
	app.Get("/dashboard", func(c *fiber.Ctx) error {
		c.Locals("user_id", s.userID)
		return c.Next()
	}, NewHandler(s.svc).Get)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "200.00", body.Data["this_month_balance"])
	assert.Equal(t, "ada@example.com", body.Data["email"])
}
