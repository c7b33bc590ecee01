package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amaldonado/streamlane-backend/api/controllers"
	webhookcontrollers "github.com/amaldonado/streamlane-backend/api/controllers/webhooks"
	"github.com/amaldonado/streamlane-backend/api/middleware"
	"github.com/amaldonado/streamlane-backend/internal/auth"
	billingsvc "github.com/amaldonado/streamlane-backend/internal/billing"
	checkoutsvc "github.com/amaldonado/streamlane-backend/internal/checkout"
	streamssvc "github.com/amaldonado/streamlane-backend/internal/streams"
	stripewebhook "github.com/amaldonado/streamlane-backend/internal/webhooks/stripe"
	"github.com/amaldonado/streamlane-backend/pkg/auth/session"
	"github.com/amaldonado/streamlane-backend/pkg/config"
	"github.com/amaldonado/streamlane-backend/pkg/db"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
	"github.com/amaldonado/streamlane-backend/pkg/redis"
	"github.com/amaldonado/streamlane-backend/pkg/stripe"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessions sessionManager,
	authService auth.Service,
	registerService auth.RegisterService,
	billingService billingsvc.Service,
	checkoutService checkoutsvc.Service,
	streamService streamssvc.Service,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	debugBuffer *debuglog.Buffer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, logg))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AuthLogin(authService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, redisClient, logg)).Post("/register", controllers.Register(registerService, logg))
		r.Post("/refresh", controllers.AuthRefresh(authService, logg))
		r.With(middleware.Auth(cfg.JWT, sessions, logg)).Post("/logout", controllers.AuthLogout(authService, logg))
	})

	// Plan catalog is public; pricing pages read it before signup.
	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Get("/", controllers.PlansList(billingService, logg))
		r.Get("/{planId}", controllers.PlanDetail(billingService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionDetail(billingService, logg))
			r.Post("/change-plan", controllers.PlanChange(billingService, logg))
		})

		r.Post("/checkout", controllers.CheckoutStart(checkoutService, logg))

		r.Route("/streams", func(r chi.Router) {
			r.Get("/", controllers.StreamsList(streamService, logg))
			r.Post("/", controllers.StreamStart(streamService, logg))
			r.Post("/{streamId}/stop", controllers.StreamStop(streamService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Get("/debug-log", controllers.AdminDebugLog(debugBuffer, logg))
	})

	return r
}
