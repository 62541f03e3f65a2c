package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Password PasswordConfig
	Log      LogConfig
}

type AppConfig struct {
	Name            string        `env:"APP_NAME" envDefault:"User API"`
	Version         string        `env:"APP_VERSION" envDefault:"1.0.0"`
	Port            string        `env:"APP_PORT" envDefault:"8080"`
	APIPrefix       string        `env:"APP_API_PREFIX" envDefault:"/api/v1"`
	ReadTimeout     time.Duration `env:"APP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"APP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"APP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL,required,notEmpty"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// PasswordConfig controls the cost of bcrypt and how many hashes may run at once.
// HashWorkers <= 0 means one per CPU.
type PasswordConfig struct {
	BcryptCost  int `env:"PASSWORD_BCRYPT_COST" envDefault:"10"`
	HashWorkers int `env:"PASSWORD_HASH_WORKERS" envDefault:"0"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// NewConfig loads an optional .env file and then parses the process environment.
// Variables already set in the environment win over the file.
func NewConfig() (*Config, error) {
	envFile := os.Getenv("CONFIG_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Password.HashWorkers <= 0 {
		cfg.Password.HashWorkers = runtime.NumCPU()
	}

	if cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	}

	return cfg, nil
}
