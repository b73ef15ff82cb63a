package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"hangout"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// UseMemoryStore runs the engine on the in-process store instead of
	// Postgres. Local runs and smoke tests only.
	UseMemoryStore bool `env:"USE_MEMORY_STORE" envDefault:"false"`
	AutoMigrate    bool `env:"AUTO_MIGRATE" envDefault:"false"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" envDefault:"5"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" envDefault:"10"`

	OutboxInterval  time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"2s"`
	SweepInterval   time.Duration `env:"POLL_SWEEP_INTERVAL" envDefault:"30s"`
	RepairInterval  time.Duration `env:"RSVP_REPAIR_INTERVAL" envDefault:"5m"`
	RepairLookback  time.Duration `env:"RSVP_REPAIR_LOOKBACK" envDefault:"72h"`
	WorkerBatchSize int           `env:"WORKER_BATCH_SIZE" envDefault:"200"`

	ConsumerGroup         string `env:"HANGOUT_CONSUMER_GROUP" envDefault:"consensus-engine-hangout-cg"`
	EnableHangoutConsumer bool   `env:"ENABLE_HANGOUT_CONSUMER" envDefault:"true"`
	EnableSwagger         bool   `env:"ENABLE_SWAGGER" envDefault:"true"`
}

// Load reads an optional .env file (or the one named by ENV_FILE) and parses
// the environment into Config.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.UseMemoryStore && strings.TrimSpace(c.PostgresDSN) == "" {
		return errors.New("POSTGRES_DSN is required unless USE_MEMORY_STORE is set")
	}
	if c.VoteRateLimit < 0 || c.VoteRateBurst < 0 {
		return errors.New("vote rate limit and burst must not be negative")
	}
	if c.WorkerBatchSize <= 0 {
		return errors.New("WORKER_BATCH_SIZE must be positive")
	}
	return nil
}
