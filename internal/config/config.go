package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read from the environment.
type Config struct {
	Env      string `env:"ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173"`
	JWTSecret   string `env:"JWT_SECRET"`

	Database DatabaseConfig
	Redis    RedisConfig
	Escrow   EscrowConfig
	Sweep    SweepConfig
}

// DatabaseConfig selects the store with a DBTYPE=PARAMS string, e.g.
// "sqlite=escrow.db" or "postgres=host=localhost user=postgres dbname=escrow".
type DatabaseConfig struct {
	URL             string        `env:"ESCROW_DATABASE" envDefault:"sqlite=escrow.db"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30m"`
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type EscrowConfig struct {
	ConfirmationWindowHours int           `env:"ESCROW_CONFIRMATION_WINDOW_HOURS" envDefault:"48"`
	DisputeReasonMinLength  int           `env:"ESCROW_DISPUTE_REASON_MIN" envDefault:"10"`
	DetailCacheTTL          time.Duration `env:"ESCROW_DETAIL_CACHE_TTL" envDefault:"5m"`
}

type SweepConfig struct {
	Interval    time.Duration `env:"ESCROW_SWEEP_INTERVAL" envDefault:"1m"`
	Concurrency int           `env:"ESCROW_SWEEP_CONCURRENCY" envDefault:"4"`
	BatchSize   int           `env:"ESCROW_SWEEP_BATCH" envDefault:"500"`
	LockTTL     time.Duration `env:"ESCROW_SWEEP_LOCK_TTL" envDefault:"5m"`
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Escrow.ConfirmationWindowHours <= 0 {
		return Config{}, fmt.Errorf("ESCROW_CONFIRMATION_WINDOW_HOURS must be positive, got %d", cfg.Escrow.ConfirmationWindowHours)
	}
	if cfg.Sweep.Concurrency <= 0 {
		cfg.Sweep.Concurrency = 1
	}
	return cfg, nil
}

// IsProduction checks if the app runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr returns host:port for the redis client.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
