package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/migrator/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.setDefaults()
	return &cfg
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "badger"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./data"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "migrator:"
	}

	r := &c.Recovery
	if r.FailureThreshold == 0 {
		r.FailureThreshold = 5
	}
	if r.OpenTimeout == 0 {
		r.OpenTimeout = 60 * time.Second
	}
	if r.MaxSnapshots == 0 {
		r.MaxSnapshots = 10
	}
	if r.HistoryLimit == 0 {
		r.HistoryLimit = 100
	}
	if r.HistoryTrim == 0 {
		r.HistoryTrim = 50
	}
	if r.DefaultMaxRetries == 0 {
		r.DefaultMaxRetries = 3
	}
	if r.BaseBackoff == 0 {
		r.BaseBackoff = time.Second
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 30 * time.Second
	}

	m := &c.Monitor
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.ErrorRateThreshold == 0 {
		m.ErrorRateThreshold = 0.10
	}
	if m.MemoryThreshold == 0 {
		m.MemoryThreshold = 90
	}
	if m.BottleneckThreshold == 0 {
		m.BottleneckThreshold = 0.20
	}
	if m.MaxSnapshots == 0 {
		m.MaxSnapshots = 60
	}

	if c.Worker.ConditionInterval == 0 {
		c.Worker.ConditionInterval = 30 * time.Second
	}
	if c.Worker.ScheduleInterval == 0 {
		c.Worker.ScheduleInterval = time.Minute
	}

	if c.Migration.BatchSize == 0 {
		c.Migration.BatchSize = 100
	}
	if c.Migration.InitialMode == "" {
		c.Migration.InitialMode = domain.ModeAuto
	}
}

// Validate checks values that have no sensible fallback.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	switch c.Store.Driver {
	case "memory", "badger":
	case "redis":
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	valid := false
	for _, m := range domain.AllModes {
		if c.Migration.InitialMode == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown initial mode %q", c.Migration.InitialMode)
	}

	for _, l := range c.Events.Listeners {
		if !l.Type.IsValid() {
			return fmt.Errorf("unknown event type %q", l.Type)
		}
	}
	if c.Recovery.HistoryTrim > c.Recovery.HistoryLimit {
		return fmt.Errorf("recovery.history_trim (%d) exceeds history_limit (%d)",
			c.Recovery.HistoryTrim, c.Recovery.HistoryLimit)
	}
	return nil
}

// ApplyListeners overlays the configured overrides on defaults, keyed by type.
func (c *AppConfig) ApplyListeners(defaults []domain.ListenerConfig) []domain.ListenerConfig {
	out := make([]domain.ListenerConfig, len(defaults))
	copy(out, defaults)

	for _, o := range c.Events.Listeners {
		idx := -1
		for i := range out {
			if out[i].Type == o.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, domain.ListenerConfig{Type: o.Type, Enabled: true})
			idx = len(out) - 1
		}
		if o.Enabled != nil {
			out[idx].Enabled = *o.Enabled
		}
		if o.Debounce > 0 {
			out[idx].Debounce = o.Debounce
		}
		if o.Throttle > 0 {
			out[idx].Throttle = o.Throttle
		}
	}
	return out
}
