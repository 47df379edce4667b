package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/gascredit/internal/auth"
	"github.com/congo-pay/gascredit/internal/config"
	"github.com/congo-pay/gascredit/internal/costmodel"
	"github.com/congo-pay/gascredit/internal/factory"
	"github.com/congo-pay/gascredit/internal/ledger"
	"github.com/congo-pay/gascredit/internal/metrics"
	"github.com/congo-pay/gascredit/internal/middleware"
	"github.com/congo-pay/gascredit/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	led, err := newLedger(d)
	if err != nil {
		return err
	}
	model, err := costmodel.New(d.Cfg.Credit)
	if err != nil {
		return err
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}

	// A nil *redis.Client must not become a non-nil interface value.
	var cache redis.UniversalClient
	if d.Cache != nil {
		cache = d.Cache
	}

	notifier := notification.Fanout{notification.NewLoggerNotifier(d.Logger)}
	if cache != nil && d.Cfg.NotifyChannel != "" {
		notifier = append(notifier, notification.NewRedisNotifier(cache, d.Cfg.NotifyChannel))
	}

	creditSvc := factory.NewService(led, model, d.Cfg.OwnerAccount, notifier, metrics.NewCredit(d.Registry), d.Logger)
	tokenSvc := auth.NewService(d.Cfg.OwnerAccount, d.Cfg.OwnerKeyHash, d.Cfg.TokenSecret, d.Cfg.TokenTTL)

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d, creditSvc)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	callerAuth := middleware.CallerAuth(tokenSvc)
	var idempotency fiber.Handler
	if cache != nil {
		idempotency = middleware.Idempotency(cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	RegisterAuthRoutes(api, auth.NewHandler(tokenSvc), callerAuth)
	RegisterCreditRoutes(api, CreditRoutes{
		Handler:     factory.NewHandler(creditSvc),
		CallerAuth:  callerAuth,
		Idempotency: idempotency,
		RedeemLimit: middleware.RateLimit(cache, "redeem", d.Cfg.RedeemRateLimit, d.Logger),
	})

	return nil
}

func newLedger(d Deps) (ledger.Ledger, error) {
	switch d.Cfg.LedgerBackend {
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("database is required for the %s ledger", config.BackendPostgres)
		}
		pg := ledger.NewPostgresLedger(d.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required for the %s ledger", config.BackendRedis)
		}
		return ledger.NewRedisLedger(d.Cache, ""), nil
	case config.BackendMemory, "":
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", d.Cfg.LedgerBackend)
	}
}
