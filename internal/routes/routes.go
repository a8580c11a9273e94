package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gestpay/gestpay/internal/auth"
	"github.com/gestpay/gestpay/internal/biometric"
	"github.com/gestpay/gestpay/internal/config"
	"github.com/gestpay/gestpay/internal/dashboard"
	"github.com/gestpay/gestpay/internal/funding"
	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/ledger"
	"github.com/gestpay/gestpay/internal/middleware"
	"github.com/gestpay/gestpay/internal/notification"
	"github.com/gestpay/gestpay/internal/payments"
	"github.com/gestpay/gestpay/internal/policy"
	"github.com/gestpay/gestpay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// Encoder overrides the face encoder built from FACE_ENCODER_URL.
	Encoder identity.FaceEncoder
}

// services holds the wired domain services, backed by Postgres when a pool is
// available and by in-memory stores otherwise.
type services struct {
	ledger        ledger.Ledger
	identityRepo  identity.Repository
	identity      *identity.Service
	wallets       *wallet.Service
	notifications notification.Repository
	payments      *payments.Service
	auth          *auth.Service
	funding       *funding.Service
	dashboard     *dashboard.Service
}

func buildServices(d Deps) (*services, error) {
	s := &services{}

	var walletRepo wallet.Repository
	if d.DB != nil {
		s.ledger = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		s.identityRepo = identity.NewPostgresRepository(d.DB)
		s.notifications = notification.NewPostgresRepository(d.DB)
	} else {
		s.ledger = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		s.identityRepo = identity.NewMemoryRepository()
		s.notifications = notification.NewMemoryRepository()
	}

	encoder := d.Encoder
	if encoder == nil && d.Cfg.FaceEncoderURL != "" {
		encoder = biometric.NewHTTPEncoder(d.Cfg.FaceEncoderURL, d.Cfg.FaceEncoderTimeout)
	}
	var matcher biometric.Matcher = biometric.Unavailable{}
	if encoder != nil {
		matcher = biometric.NewIndexMatcher(encoder, s.identityRepo, d.Cfg.FaceMatchThreshold)
	}

	s.identity = identity.NewService(s.identityRepo, encoder)
	s.wallets = wallet.NewService(walletRepo, s.ledger, d.Cfg.Currency)
	s.payments = payments.NewService(payments.Dependencies{
		Ledger:   s.ledger,
		Users:    s.identityRepo,
		Wallets:  s.wallets,
		Matcher:  matcher,
		Gate:     policy.NewGate(),
		Notifier: notification.NewStoreNotifier(s.notifications, d.Logger),
		Logger:   d.Logger,
	}, payments.Settings{MaxDistanceKM: d.Cfg.MaxDistanceKM})
	s.auth = auth.NewService(d.Cfg, s.identityRepo)
	s.dashboard = dashboard.NewService(s.ledger, s.wallets, s.identityRepo)

	var err error
	if s.funding, err = funding.NewService(s.ledger, s.wallets, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	svc, err := buildServices(d)
	if err != nil {
		return err
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	paymentHandler := payments.NewHandler(svc.payments)

	// Public routes
	RegisterIdentityRoutes(api, svc.identity, svc.wallets, d.Logger)
	RegisterBiometricRoutes(api, paymentHandler, idem)

	jwtmw := middleware.JWTAuth(svc.auth)
	RegisterAuthRoutes(api, auth.NewHandler(svc.identity, svc.auth, svc.wallets), middleware.LoginRateLimit(d.Cache, 5), jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw)
	RegisterProfileRoutes(protected, identity.NewHandler(svc.identity))
	RegisterWalletRoutes(protected, wallet.NewHandler(svc.wallets), svc.wallets, svc.identityRepo)
	RegisterFundingRoutes(protected, funding.NewHandler(svc.funding), idem)
	RegisterPaymentRoutes(protected, paymentHandler, idem)
	RegisterNotificationRoutes(protected, notification.NewHandler(svc.notifications))
	RegisterDashboardRoutes(protected, dashboard.NewHandler(svc.dashboard))

	return nil
}
