package config

import (
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
	redisclient "github.com/vietddude/migrator/internal/infra/redis"
	"github.com/vietddude/migrator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Database  postgres.Config `yaml:"database"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Events    EventsConfig    `yaml:"events"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Worker    WorkerConfig    `yaml:"worker"`
	Migration MigrationConfig `yaml:"migration"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StoreConfig selects the key-value store holding mode state.
type StoreConfig struct {
	Driver string             `yaml:"driver"` // memory, badger, redis
	Path   string             `yaml:"path"`   // badger directory
	Prefix string             `yaml:"prefix"` // key prefix
	Redis  redisclient.Config `yaml:"redis"`
}

// RecoveryConfig holds recovery executor settings.
type RecoveryConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
	MaxSnapshots      int           `yaml:"max_snapshots"`
	HistoryLimit      int           `yaml:"history_limit"`
	HistoryTrim       int           `yaml:"history_trim"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// EventsConfig overrides listener admission settings per event type.
type EventsConfig struct {
	Listeners []ListenerConfig `yaml:"listeners"`
}

// ListenerConfig is the YAML form of a listener override.
type ListenerConfig struct {
	Type     domain.EventType `yaml:"type"`
	Enabled  *bool            `yaml:"enabled"` // nil keeps the default
	Debounce time.Duration    `yaml:"debounce"`
	Throttle time.Duration    `yaml:"throttle"`
}

// MonitorConfig holds monitor thresholds.
type MonitorConfig struct {
	Interval            time.Duration `yaml:"interval"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	MemoryThreshold     float64       `yaml:"memory_threshold"`
	BottleneckThreshold float64       `yaml:"bottleneck_threshold"`
	MaxSnapshots        int           `yaml:"max_snapshots"`
}

// WorkerConfig holds background loop intervals.
type WorkerConfig struct {
	ConditionInterval time.Duration `yaml:"condition_interval"`
	ScheduleInterval  time.Duration `yaml:"schedule_interval"`
}

// MigrationConfig holds record migration settings.
type MigrationConfig struct {
	BatchSize   int         `yaml:"batch_size"`
	InitialMode domain.Mode `yaml:"initial_mode"`
}
