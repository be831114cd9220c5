package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kelo-pay/kelo/internal/config"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/routes"
	"github.com/kelo-pay/kelo/internal/scheduler"
)

// Server wraps the Fiber application, the background scheduler and shared
// dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	cron   *scheduler.Scheduler
	logger *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// events may be nil, in which case domain events are only logged and stored
// in the inbox.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, events notification.Channel, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: httpx.ErrorHandler(logger),
	})

	svc, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Events: events, Logger: logger})
	if err != nil {
		return nil, err
	}

	cron := scheduler.New(logger)
	jobs := scheduler.Jobs(scheduler.Schedules{
		Overdue:    cfg.OverdueSchedule,
		Settlement: cfg.SettlementSchedule,
		Rewards:    cfg.RewardsSchedule,
	}, svc.Loans, svc.Settlement, svc.Staking, logger)
	if err := cron.Register(jobs...); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, cron: cron, logger: logger}, nil
}

// Listen starts the scheduler and then the HTTP server.
func (s *Server) Listen() error {
	s.cron.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for running jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler jobs still running at shutdown")
	}
	return err
}
