package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
)

// Config holds every runtime tunable of the arena server.
type Config struct {
	Addr string `env:"ARENA_ADDR" envDefault:":8080"`

	DBDriver    string `env:"ARENA_DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL string `env:"ARENA_DATABASE_URL" envDefault:"arena.db"`

	TickHz       float64       `env:"ARENA_TICK_HZ" envDefault:"60"`
	ScoreLimit   int           `env:"ARENA_SCORE_LIMIT" envDefault:"11"`
	FinishGrace  time.Duration `env:"ARENA_FINISH_GRACE" envDefault:"5s"`
	ReapInterval time.Duration `env:"ARENA_REAP_INTERVAL" envDefault:"1s"`

	PersistTimeout time.Duration `env:"ARENA_PERSIST_TIMEOUT" envDefault:"5s"`
	ReadTimeout    time.Duration `env:"ARENA_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"ARENA_WRITE_TIMEOUT" envDefault:"3s"`
	OutboxSize     int           `env:"ARENA_OUTBOX_SIZE" envDefault:"64"`

	LogLevel  string `env:"ARENA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ARENA_LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(dotenvPaths ...string) (Config, error) {
	if err := godotenv.Load(dotenvPaths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return parse(env.Options{})
}

// FromMap parses configuration from an explicit variable set. Used by tests.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine and scheduler cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported ARENA_DB_DRIVER %q", c.DBDriver)
	}
	// every step simulates 1/engine.TickRate seconds
	if c.TickHz != engine.TickRate {
		return fmt.Errorf("ARENA_TICK_HZ must be %d, got %v", engine.TickRate, c.TickHz)
	}
	if c.ScoreLimit <= 0 {
		return fmt.Errorf("ARENA_SCORE_LIMIT must be positive, got %d", c.ScoreLimit)
	}
	if c.OutboxSize <= 0 {
		return fmt.Errorf("ARENA_OUTBOX_SIZE must be positive, got %d", c.OutboxSize)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("ARENA_REAP_INTERVAL must be positive, got %v", c.ReapInterval)
	}
	return nil
}
