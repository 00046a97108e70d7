package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Commerce CommerceConfig
	Square   SquareConfig
	JWT      JWTConfig
	Poller   PollerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TAPDINE_APP_ENV" required:"true"`
	Port         string `envconfig:"TAPDINE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TAPDINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TAPDINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"TAPDINE_DB_DSN"`
	Driver string `envconfig:"TAPDINE_DB_DRIVER" default:"sqlite"`

	// SQLite path used when no DSN is given; the service keeps device
	// identity, session and the order journal here in single-node mode.
	Path string `envconfig:"TAPDINE_DB_PATH" default:"tapdine.db"`

	MaxOpenConns    int           `envconfig:"TAPDINE_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"TAPDINE_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"TAPDINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TAPDINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	switch strings.ToLower(strings.TrimSpace(d.Driver)) {
	case "sqlite":
		if d.DSN == "" {
			d.DSN = d.Path
		}
		return nil
	case "postgres":
		if d.DSN == "" {
			return fmt.Errorf("TAPDINE_DB_DSN is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("unsupported db driver %q", d.Driver)
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"TAPDINE_REDIS_URL"`
	Address      string        `envconfig:"TAPDINE_REDIS_ADDR"`
	Password     string        `envconfig:"TAPDINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TAPDINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TAPDINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TAPDINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TAPDINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TAPDINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TAPDINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// CommerceConfig points the engine at the remote commerce vendor.
type CommerceConfig struct {
	BaseURL        string        `envconfig:"TAPDINE_COMMERCE_BASE_URL" required:"true"`
	APIKey         string        `envconfig:"TAPDINE_COMMERCE_API_KEY"`
	RequestTimeout time.Duration `envconfig:"TAPDINE_COMMERCE_REQUEST_TIMEOUT" default:"15s"`
	MaxRetries     uint64        `envconfig:"TAPDINE_COMMERCE_MAX_RETRIES" default:"3"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"TAPDINE_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"TAPDINE_SQUARE_ENV" default:"sandbox"`
}

func (s SquareConfig) Environment() string {
	return strings.ToLower(strings.TrimSpace(s.Env))
}

type JWTConfig struct {
	Secret string `envconfig:"TAPDINE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"TAPDINE_JWT_ISSUER" default:"tapdine"`
}

// PollerConfig drives the fulfillment and availability pollers.
type PollerConfig struct {
	Interval       time.Duration `envconfig:"TAPDINE_POLL_INTERVAL" default:"10s"`
	RequestTimeout time.Duration `envconfig:"TAPDINE_POLL_REQUEST_TIMEOUT" default:"8s"`
}
