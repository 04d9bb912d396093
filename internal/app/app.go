package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koteev-m/clubs-bot-sub002/internal/config"
	"github.com/koteev-m/clubs-bot-sub002/internal/idempotency"
	"github.com/koteev-m/clubs-bot-sub002/internal/ledger"
	"github.com/koteev-m/clubs-bot-sub002/internal/notify"
	"github.com/koteev-m/clubs-bot-sub002/internal/postgres"
	"github.com/koteev-m/clubs-bot-sub002/internal/ratelimit"
	redisx "github.com/koteev-m/clubs-bot-sub002/internal/redis"
	"github.com/koteev-m/clubs-bot-sub002/internal/repository/memory"
	postgresrepo "github.com/koteev-m/clubs-bot-sub002/internal/repository/postgres"
	"github.com/koteev-m/clubs-bot-sub002/internal/service"
	"github.com/koteev-m/clubs-bot-sub002/internal/service/booking"
	httpgin "github.com/koteev-m/clubs-bot-sub002/internal/transport/http/gin"
)

const reapEvery = 30 * time.Second

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	svcs       *service.Services
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories and ledgers
	store := postgresrepo.NewStore(pgxPool)

	events := memory.NewEvents()
	tables := ledger.NewTables(time.Now)
	quotas := ledger.NewPromoterQuotas(time.Now)

	if err := seedCatalogs(context.Background(), store.Catalog(), events, tables, quotas); err != nil {
		return nil, fmt.Errorf("failed to seed catalogs: %w", err)
	}

	idem := idempotency.NewLedger(idempotency.Config{
		TTL:        cfg.Booking.IdempotencyTTL,
		MaxEntries: cfg.Booking.IdempotencyMax,
	})

	limiter := ratelimit.NewRegistry(ratelimit.RegistryConfig{})

	notifier := notify.New(store.Bookings(), redisx.NewBookingsPubSub(rdb), logger)

	// Initialize services
	services := service.NewServices(events, tables, quotas, idem, notifier, logger, service.Config{
		Booking: booking.Config{
			HoldTTL:             cfg.Booking.HoldTTL,
			ArrivalWindowBefore: cfg.Booking.ArrivalWindowBefore,
			ArrivalWindowAfter:  cfg.Booking.ArrivalWindowAfter,
			LatePlusOneOffset:   cfg.Booking.LatePlusOneOffset,
			BookingRetention:    cfg.Booking.BookingRetention,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, limiter, httpgin.Limits{
		Hold:    cfg.RateLimits.Hold,
		Confirm: cfg.RateLimits.Confirm,
		PlusOne: cfg.RateLimits.PlusOne,
	}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		svcs:   services,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Hold reaper: expiry is lazy inside the service, this sweeps holds nobody
	// touches so the table frees without waiting for the next request.
	g.Go(func() error {
		ticker := time.NewTicker(reapEvery)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if n := a.svcs.Booking.ExpireHolds(gCtx); n > 0 {
					a.logger.Info("expired holds released", "count", n)
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// seedCatalogs loads the durable catalogs into the in-memory ledgers. Booking
// state itself is not restored: holds are short-lived by design and a restart
// starts from a clean slate.
func seedCatalogs(
	ctx context.Context,
	catalog *postgresrepo.CatalogRepo,
	events *memory.Events,
	tables *ledger.Tables,
	quotas *ledger.PromoterQuotas,
) error {
	evs, err := catalog.ListEvents(ctx)
	if err != nil {
		return err
	}

	for _, ev := range evs {
		events.Put(ev)
	}

	tbls, err := catalog.ListTables(ctx)
	if err != nil {
		return err
	}

	for _, t := range tbls {
		tables.SetTable(t.ClubID, t.ID, t.Capacity)
	}

	qs, err := catalog.ListPromoterQuotas(ctx)
	if err != nil {
		return err
	}

	for _, q := range qs {
		quotas.Upsert(q)
	}

	return nil
}
