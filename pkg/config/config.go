// Package config loads server configuration from an optional YAML file,
// then environment variables, matching the load order of the teacher's
// pkg/config/config.go: dotenv -> YAML file -> env overrides ->
// DATABASE_URL override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tylern4/balsam/pkg/logger"
)

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls Postgres persistence.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `yaml:"host" env:"DATABASE_HOST"`
	Port            int    `yaml:"port" env:"DATABASE_PORT"`
	User            string `yaml:"user" env:"DATABASE_USER"`
	Password        string `yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// ConnectionString builds a libpq-style DSN from host parameters when DSN
// is not set directly.
func (c DatabaseConfig) ConnectionString() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SessionConfig controls lease acquisition and heartbeat expiry (spec §4.4).
type SessionConfig struct {
	ExpirySeconds   int `yaml:"expiry_seconds" env:"SESSION_EXPIRY_SECONDS"`
	SweepIntervalMS int `yaml:"sweep_interval_ms" env:"SESSION_SWEEP_INTERVAL_MS"`
	MaxNumAcquire   int `yaml:"max_num_acquire" env:"SESSION_MAX_NUM_ACQUIRE"`
}

func (c SessionConfig) Expiry() time.Duration {
	return time.Duration(c.ExpirySeconds) * time.Second
}

func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// QueryConfig bounds the filter/paginate query layer (spec §4.1).
type QueryConfig struct {
	MaxPageLimit int `yaml:"max_page_limit" env:"QUERY_MAX_PAGE_LIMIT"`
}

// NotifyConfig bounds the in-process pub/sub notifier (spec §4.6).
type NotifyConfig struct {
	QueueDepth      int     `yaml:"queue_depth" env:"NOTIFY_QUEUE_DEPTH"`
	PublishPerSecond float64 `yaml:"publish_per_second" env:"NOTIFY_PUBLISH_PER_SECOND"`
}

// SchedulerConfig controls the scheduler-adapter submit/poll sweep (spec
// §9.4): the asynchronous half of BatchJob.Create's submit-then-report-back
// flow. Disabled by default since it shells out to qsub/qstat/qdel, which
// aren't present outside a real PBS site.
type SchedulerConfig struct {
	Enabled               bool   `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	ScriptDir             string `yaml:"script_dir" env:"SCHEDULER_SCRIPT_DIR"`
	SweepIntervalMS       int    `yaml:"sweep_interval_ms" env:"SCHEDULER_SWEEP_INTERVAL_MS"`
	CircuitMaxFailures    int    `yaml:"circuit_max_failures" env:"SCHEDULER_CIRCUIT_MAX_FAILURES"`
	CircuitTimeoutSeconds int    `yaml:"circuit_timeout_seconds" env:"SCHEDULER_CIRCUIT_TIMEOUT_SECONDS"`
	CircuitHalfOpenMax    int    `yaml:"circuit_half_open_max" env:"SCHEDULER_CIRCUIT_HALF_OPEN_MAX"`
}

func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

func (c SchedulerConfig) CircuitTimeout() time.Duration {
	return time.Duration(c.CircuitTimeoutSeconds) * time.Second
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   logger.Config   `yaml:"logging"`
	Session   SessionConfig   `yaml:"session"`
	Query     QueryConfig     `yaml:"query"`
	Notify    NotifyConfig    `yaml:"notify"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
			MigrateOnStart:  true,
		},
		Logging: logger.Config{Level: "info", Format: "text", Output: "stdout", FilePrefix: "balsam"},
		Session: SessionConfig{ExpirySeconds: 300, SweepIntervalMS: 5000, MaxNumAcquire: 1000},
		Query:   QueryConfig{MaxPageLimit: 1000},
		Notify:  NotifyConfig{QueueDepth: 256, PublishPerSecond: 500},
		Scheduler: SchedulerConfig{
			Enabled:               false,
			SweepIntervalMS:       10000,
			CircuitMaxFailures:    5,
			CircuitTimeoutSeconds: 30,
			CircuitHalfOpenMax:    3,
		},
	}
}

// Load loads configuration from file (if present) and environment
// variables, in that precedence order.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
