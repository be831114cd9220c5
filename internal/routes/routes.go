package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kelo-pay/kelo/internal/config"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/metrics"
	"github.com/kelo-pay/kelo/internal/middleware"
	"github.com/kelo-pay/kelo/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Events notification.Channel
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes and returns the
// services behind them.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	d.Logger = logging.OrDiscard(d.Logger)
	svc, err := NewServices(context.Background(), d)
	if err != nil {
		return nil, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
	}))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return httpx.OK(c, http.StatusOK, fiber.Map{
			"status":     "ok",
			"request_id": httpx.RequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, svc, middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRatePerMin))
	RegisterCatalogRoutes(api, svc)
	RegisterPublicChainRoutes(api, svc)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(svc.Auth))
	// After JWTAuth so replay keys are scoped to the caller.
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterSessionRoutes(protected, svc)
	RegisterUserRoutes(protected, svc)
	RegisterDashboardRoute(protected, svc)
	RegisterWalletRoutes(protected, svc)
	RegisterPaymentRoutes(protected, svc)
	RegisterLoanRoutes(protected, svc)
	RegisterCreditRoutes(protected, svc)
	RegisterOrderRoutes(protected, svc)
	RegisterChainRoutes(protected, svc)
	RegisterStakingRoutes(protected, svc)
	RegisterZKRoutes(protected, svc)

	RegisterMerchantRoutes(protected.Group("/merchant", middleware.RequireRole(identity.RoleMerchant)), svc)
	RegisterAdminRoutes(protected.Group("/admin", middleware.RequireRole(identity.RoleAdmin)), svc)

	return svc, nil
}
