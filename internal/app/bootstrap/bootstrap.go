package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	consensusengine "hangout/contexts/hangout-planning/consensus-engine"
	metricsadapter "hangout/contexts/hangout-planning/consensus-engine/adapters/metrics"
	postgresadapter "hangout/contexts/hangout-planning/consensus-engine/adapters/postgres"
	"hangout/internal/platform/config"
	"hangout/internal/platform/db"
	"hangout/internal/platform/httpserver"
	"hangout/internal/platform/messaging"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres *db.Postgres
	module   consensusengine.Module
	cfg      config.Config
	logger   *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "api")

	var (
		module consensusengine.Module
		pg     *db.Postgres
	)
	if cfg.UseMemoryStore {
		logger.Warn("api running on in-memory store",
			"event", "bootstrap_memory_store",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		module = consensusengine.NewInMemoryModule(nil, logger)
	} else {
		pg, module, err = buildPostgresModule(context.Background(), cfg, logger, nil)
		if err != nil {
			return nil, err
		}
	}

	server := httpserver.New(module, logger, httpserver.Options{
		Addr:          normalizeAddr(cfg.HTTPPort),
		VoteRateLimit: cfg.VoteRateLimit,
		VoteRateBurst: cfg.VoteRateBurst,
		EnableSwagger: cfg.EnableSwagger,
	})
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "worker")
	if cfg.UseMemoryStore {
		return nil, errors.New("worker needs POSTGRES_DSN; the in-memory store is not shared across processes")
	}

	bus := messaging.NewBus(256, logger)
	pg, module, err := buildPostgresModule(context.Background(), cfg, logger, bus)
	if err != nil {
		return nil, err
	}
	return &WorkerApp{
		postgres: pg,
		module:   module,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// BuildModule connects to Postgres and returns the wired engine for operator
// tooling. Callers own the returned connection.
func BuildModule(ctx context.Context) (*db.Postgres, consensusengine.Module, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, consensusengine.Module{}, nil, err
	}
	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "cli")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, consensusengine.Module{}, nil, errors.New("POSTGRES_DSN is required")
	}
	pg, module, err := buildPostgresModule(ctx, cfg, logger, nil)
	if err != nil {
		return nil, consensusengine.Module{}, nil, err
	}
	return pg, module, logger, nil
}

// Migrate applies the engine schema.
func Migrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "migrate")
	pg, err := db.Connect(cfg.PostgresDSN, db.Options{})
	if err != nil {
		return err
	}
	defer pg.Close()
	return postgresadapter.NewRepository(pg.DB, logger).Migrate(ctx)
}

func buildPostgresModule(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	bus *messaging.Bus,
) (*db.Postgres, consensusengine.Module, error) {
	pg, err := db.Connect(cfg.PostgresDSN, db.Options{})
	if err != nil {
		return nil, consensusengine.Module{}, err
	}
	repo := postgresadapter.NewRepository(pg.DB, logger)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, consensusengine.Module{}, err
		}
	}
	deps := consensusengine.Dependencies{
		Polls:          repo,
		Ledger:         repo,
		Roster:         repo,
		RSVPs:          repo,
		Idempotency:    repo,
		Outbox:         repo,
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		Metrics:        metricsadapter.NewRecorder(),
		IdempotencyTTL: cfg.IdempotencyTTL,
		RepairLookback: cfg.RepairLookback,
		BatchSize:      cfg.WorkerBatchSize,
		ConsumerGroup:  cfg.ConsumerGroup,
		Logger:         logger,
	}
	if bus != nil {
		deps.Publisher = bus
		if cfg.EnableHangoutConsumer {
			deps.Subscriber = bus
		}
	}
	return pg, consensusengine.NewModule(deps), nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(a.server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// Run starts the hangout consumer and schedules the relay, sweeper and RSVP
// repair jobs until ctx is cancelled.
func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.module.Consumer.Start(ctx); err != nil {
		return err
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{name: "outbox-relay", interval: w.cfg.OutboxInterval, run: func(ctx context.Context) error {
			_, err := w.module.Relay.RunOnce(ctx)
			return err
		}},
		{name: "poll-sweeper", interval: w.cfg.SweepInterval, run: func(ctx context.Context) error {
			_, err := w.module.Sweeper.RunOnce(ctx)
			return err
		}},
		{name: "rsvp-repair", interval: w.cfg.RepairInterval, run: func(ctx context.Context) error {
			_, err := w.module.Repair.RunOnce(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		job := job
		if _, err := scheduler.Every(job.interval).Tag(job.name).Do(func() {
			if err := job.run(ctx); err != nil {
				w.logger.Error("worker job failed",
					"event", "bootstrap_worker_job_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"job", job.name,
					"error", err.Error(),
				)
			}
		}); err != nil {
			return err
		}
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"outbox_interval", w.cfg.OutboxInterval.String(),
		"sweep_interval", w.cfg.SweepInterval.String(),
		"repair_interval", w.cfg.RepairInterval.String(),
	)
	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL.
func NewLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
