package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full console configuration, loaded from the environment and an
// optional .env file so main stays lean.
type Config struct {
	Addr      string `env:"BALLOTDESK_ADDR" envDefault:"127.0.0.1:8088"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Database  DatabaseConfig
	Session   SessionConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Workers   WorkerConfig
	Biometric BiometricConfig
	Audit     AuditConfig
}

// DatabaseConfig describes the relational backend handle.
type DatabaseConfig struct {
	// Driver is one of pgx, postgres, sqlite.
	Driver         string        `env:"DB_DRIVER" envDefault:"pgx"`
	DSN            string        `env:"DB_DSN,required,notEmpty"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`
	SocketTimeout  time.Duration `env:"DB_SOCKET_TIMEOUT" envDefault:"30s"`
	KeepAlive      time.Duration `env:"DB_TCP_KEEPALIVE" envDefault:"30s"`
	MaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS" envDefault:"4"`
	ConnMaxIdle    time.Duration `env:"DB_CONN_MAX_IDLE" envDefault:"5m"`
}

// SessionConfig tunes the probe and keep-alive of the backend session.
type SessionConfig struct {
	ProbeTimeout      time.Duration `env:"SESSION_PROBE_TIMEOUT" envDefault:"5s"`
	KeepAliveInterval time.Duration `env:"SESSION_KEEPALIVE_INTERVAL" envDefault:"4m"`
}

// CacheConfig tunes the read-through cache and the dashboard refresher.
type CacheConfig struct {
	TTL             time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	RefreshInterval time.Duration `env:"DASHBOARD_REFRESH_INTERVAL" envDefault:"30s"`
}

// RedisConfig configures the optional stats snapshot mirror. An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	SnapshotTTL  time.Duration `env:"REDIS_SNAPSHOT_TTL" envDefault:"2m"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"4"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"1"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// BreakerFailures consecutive publish failures pause the mirror for BreakerCooldown.
	BreakerFailures int           `env:"REDIS_BREAKER_FAILURES" envDefault:"3"`
	BreakerCooldown time.Duration `env:"REDIS_BREAKER_COOLDOWN" envDefault:"1m"`
}

// WorkerConfig sizes the background I/O pool.
type WorkerConfig struct {
	PoolSize int `env:"WORKER_POOL_SIZE" envDefault:"3"`
}

// BiometricConfig points at the capture spool used by the file-backed reader.
type BiometricConfig struct {
	SpoolDir    string        `env:"BIOMETRIC_SPOOL_DIR" envDefault:"./spool"`
	PollEvery   time.Duration `env:"BIOMETRIC_POLL_INTERVAL" envDefault:"200ms"`
	VerifyLimit time.Duration `env:"BIOMETRIC_VERIFY_TIMEOUT" envDefault:"60s"`
}

// AuditConfig picks where audit events are kept. "memory" keeps the newest
// Retention events in process; "sql" appends them to the AuditEvents table.
type AuditConfig struct {
	Sink      string `env:"AUDIT_SINK" envDefault:"memory"`
	Retention int    `env:"AUDIT_RETENTION" envDefault:"1000"`
}

// Load reads .env when present and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER %q not supported", c.Database.Driver)
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}
	switch c.Audit.Sink {
	case "memory", "sql":
	default:
		return fmt.Errorf("AUDIT_SINK %q not supported", c.Audit.Sink)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	return nil
}
