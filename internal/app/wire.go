package app

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decyphers/platform/internal/auth"
	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/guard"
	"github.com/decyphers/platform/internal/handler"
	"github.com/decyphers/platform/internal/ledger"
	"github.com/decyphers/platform/internal/pricing"
	"github.com/decyphers/platform/internal/repository"
	"github.com/decyphers/platform/internal/service"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Ledger document store and event sink
	Store     docstore.Store
	Publisher ledger.Publisher

	// External providers. Identity is nil when Firebase auth is not configured.
	Stripe    service.PaymentProcessor
	Identity  service.IdentityVerifier
	Recaptcha handler.RecaptchaVerifier

	PriceTable pricing.Table

	FrontendURL        string
	CORSAllowedOrigins string
	RecaptchaSiteKey   string
	TelegramBotID      string
	LoginRateLimit     int
	TrustedProxyHops   int
}

// Services built by NewRouter that cmd/api also drives.
type Services struct {
	Auth    *service.AuthService
	Payment *service.PaymentService
	Ledger  *ledger.Engine
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) (chi.Router, *Services) {
	pool := deps.Pool
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Repositories
	userRepo := repository.NewPgUserRepository()
	revokedRepo := repository.NewPgRevokedTokenRepository()
	attemptRepo := repository.NewPgLoginAttemptRepository()

	// Ledger engine and price resolution
	ledgerEngine := ledger.NewEngine(deps.Store, deps.Publisher, logger)
	resolver := pricing.NewDefaultResolver(deps.PriceTable)
	breaker := guard.NewCircuitBreaker(5, 30*time.Second)

	// Services
	authSvc := service.NewAuthService(pool, userRepo, revokedRepo, attemptRepo, jwtMgr, deps.Identity, deps.Publisher, ledgerEngine, logger)
	paymentSvc := service.NewPaymentService(deps.Stripe, ledgerEngine, resolver, breaker, deps.FrontendURL, logger)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(paymentSvc, logger)
	configHandler := handler.NewConfigHandler(deps.RecaptchaSiteKey, deps.TelegramBotID, deps.Recaptcha, logger)

	limiter := guard.NewRateLimiter(deps.LoginRateLimit, time.Minute)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.ClientAddr(deps.TrustedProxyHops))
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(deps.CORSAllowedOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	var db handler.Pinger
	if pool != nil {
		db = pool
	}
	r.Get("/health", handler.HealthHandler(db))

	// Public client configuration
	r.Get("/config/recaptcha", configHandler.RecaptchaConfig)
	r.Get("/config/telegram", configHandler.TelegramConfig)
	r.With(handler.RateLimit(limiter, "recaptcha")).Post("/verify-recaptcha", configHandler.VerifyRecaptcha)

	// Accounts
	r.Post("/register", authHandler.Register)
	r.With(handler.RateLimit(limiter, "login")).Post("/login", authHandler.Login)
	r.With(handler.RateLimit(limiter, "firebase-login")).Post("/firebase-login", authHandler.FirebaseLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(jwtMgr, authSvc))
		r.Get("/user", authHandler.CurrentUser)
		r.Post("/logout", authHandler.Logout)
	})

	// Purchases. The webhook handler reads the raw body itself.
	r.Route("/stripe", func(r chi.Router) {
		r.Post("/create-checkout", paymentHandler.CreateCheckout)
		r.Get("/verify-session", paymentHandler.VerifySession)
		r.Post("/verify-session", paymentHandler.DirectCharge)
		r.Post("/webhook", webhookHandler.HandleStripeWebhook)
	})

	return r, &Services{Auth: authSvc, Payment: paymentSvc, Ledger: ledgerEngine}
}
