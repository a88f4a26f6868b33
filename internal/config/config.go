package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"8080"`

	MySQLHost string `env:"MYSQL_HOST" envDefault:"mysql"`
	MySQLPort string `env:"MYSQL_PORT" envDefault:"3306"`
	MySQLDB   string `env:"MYSQL_DB"   envDefault:"loans"`
	MySQLUser string `env:"MYSQL_USER" envDefault:"loans"`
	MySQLPass string `env:"MYSQL_PASS" envDefault:"loans"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"redis:6379"`
	RedisDB   int    `env:"REDIS_DB"   envDefault:"0"`

	IdempTTLSecs int    `env:"IDEMPOTENCY_TTL_SECONDS" envDefault:"300"`
	LogLevel     string `env:"LOG_LEVEL"               envDefault:"info"`

	LedgerBaseURL string        `env:"LEDGER_BASE_URL"`
	LedgerTimeout time.Duration `env:"LEDGER_TIMEOUT"        envDefault:"5s"`
	// MirrorByDefault mirrors new applications to the ledger unless the request opts out.
	MirrorByDefault bool `env:"LEDGER_MIRROR_DEFAULT" envDefault:"true"`

	PaymentBaseURL string        `env:"PAYMENT_BASE_URL"`
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"   envDefault:"1m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`

	LockBackend string        `env:"LOCK_BACKEND" envDefault:"memory"`
	LockTTL     time.Duration `env:"LOCK_TTL"     envDefault:"60s"`

	// AdminActorIDs may mark any loan defaulted.
	AdminActorIDs []string `env:"ADMIN_ACTOR_IDS" envSeparator:","`

	NotifyChannel string `env:"NOTIFY_CHANNEL" envDefault:"loan-events"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// LedgerEnabled reports whether a ledger gateway is configured at all.
func (c *Config) LedgerEnabled() bool { return c.LedgerBaseURL != "" }

func (c *Config) Validate() error {
	if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
		return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
	}
	// ensure port is valid
	if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
		return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
	}
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if c.PaymentBaseURL == "" {
		return errors.New("missing PAYMENT_BASE_URL")
	}
	if c.LedgerTimeout <= 0 || c.PaymentTimeout <= 0 {
		return errors.New("LEDGER_TIMEOUT and PAYMENT_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 || c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_INTERVAL and SWEEP_BATCH_SIZE must be positive")
	}
	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.LockTTL <= 0 {
			return errors.New("LOCK_TTL must be positive for the redis lock backend")
		}
		if c.LockTTL <= c.worstCaseHold() {
			return fmt.Errorf("LOCK_TTL %s must exceed %s (two payment and two ledger calls)", c.LockTTL, c.worstCaseHold())
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	return nil
}

// worstCaseHold bounds the time a transition spends on outbound calls: a repay charges,
// mirrors the implicit disburse and the repay, and may then refund.
func (c *Config) worstCaseHold() time.Duration {
	return 2*c.PaymentTimeout + 2*c.LedgerTimeout
}

func (c *Config) IdempotencyTTL() time.Duration { return time.Duration(c.IdempTTLSecs) * time.Second }

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// multiStatements=true is handy for migrations; parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}
