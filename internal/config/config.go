// ABOUTME: Configuration loading and parsing for coven-actuator
// ABOUTME: Supports YAML, JSON and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default scheduler and service values.
const (
	DefaultHTTPAddr                = "127.0.0.1:8470"
	DefaultHeartbeatInterval       = 20 * time.Second
	DefaultPreemptGraceTime        = 30 * time.Second
	DefaultSchedulePublishInterval = 30 * time.Second
	DefaultTickInterval            = time.Second
	DefaultHeartbeatMissThreshold  = 1
	DefaultIdempotencyTTL          = 10 * time.Minute
	DefaultIdempotencyMaxEntries   = 10000
)

// minSecretLength mirrors the HS256 secret floor enforced by the auth package.
const minSecretLength = 32

// Config represents the complete coven-actuator configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" toml:"scheduler"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds the event ledger location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret runs the
// API in anonymous mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SchedulerConfig holds the reservation timing configuration
type SchedulerConfig struct {
	HeartbeatInterval       time.Duration `yaml:"-" toml:"-"`
	PreemptGraceTime        time.Duration `yaml:"-" toml:"-"`
	SchedulePublishInterval time.Duration `yaml:"-" toml:"-"`
	TickInterval            time.Duration `yaml:"-" toml:"-"`
	HeartbeatMissThreshold  int           `yaml:"-" toml:"-"`

	// Raw values: duration strings ("20s") or bare numbers of seconds
	HeartbeatIntervalRaw       any  `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	PreemptGraceTimeRaw        any  `yaml:"preempt_grace_time" toml:"preempt_grace_time"`
	SchedulePublishIntervalRaw any  `yaml:"schedule_publish_interval" toml:"schedule_publish_interval"`
	TickIntervalRaw            any  `yaml:"tick_interval" toml:"tick_interval"`
	HeartbeatMissThresholdRaw  *int `yaml:"heartbeat_miss_threshold" toml:"heartbeat_miss_threshold"`
}

// IdempotencyConfig controls the Idempotency-Key cache
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     any           `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; everything else as YAML, which
// also accepts JSON. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = FormatTOML
	}
	return Parse(data, format)
}

// Format selects the decoder used by Parse.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// Parse decodes, expands, defaults and validates configuration content.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a valid configuration using dataDir for the database.
func Default(dataDir string) *Config {
	cfg := &Config{Database: DatabaseConfig{Path: filepath.Join(dataDir, "actuator.db")}}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	s := &c.Scheduler
	if s.HeartbeatIntervalRaw == nil {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.PreemptGraceTimeRaw == nil {
		s.PreemptGraceTime = DefaultPreemptGraceTime
	}
	if s.SchedulePublishIntervalRaw == nil {
		s.SchedulePublishInterval = DefaultSchedulePublishInterval
	}
	if s.TickIntervalRaw == nil {
		s.TickInterval = DefaultTickInterval
	}
	if s.HeartbeatMissThresholdRaw == nil {
		s.HeartbeatMissThreshold = DefaultHeartbeatMissThreshold
	} else {
		s.HeartbeatMissThreshold = *s.HeartbeatMissThresholdRaw
	}
	if c.Idempotency.TTLRaw == nil {
		c.Idempotency.TTL = DefaultIdempotencyTTL
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = DefaultIdempotencyMaxEntries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	s := c.Scheduler
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("scheduler.heartbeat_interval must be positive")
	}
	if s.PreemptGraceTime < 0 {
		return fmt.Errorf("scheduler.preempt_grace_time must not be negative")
	}
	if s.SchedulePublishInterval <= 0 {
		return fmt.Errorf("scheduler.schedule_publish_interval must be positive")
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if s.TickInterval > s.HeartbeatInterval {
		return fmt.Errorf("scheduler.tick_interval (%s) must not exceed heartbeat_interval (%s)", s.TickInterval, s.HeartbeatInterval)
	}
	if s.PreemptGraceTime > 0 && s.TickInterval > s.PreemptGraceTime {
		return fmt.Errorf("scheduler.tick_interval (%s) must not exceed preempt_grace_time (%s)", s.TickInterval, s.PreemptGraceTime)
	}
	if s.HeartbeatMissThreshold < 0 {
		return fmt.Errorf("scheduler.heartbeat_miss_threshold must not be negative")
	}

	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}
	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("idempotency.max_entries must not be negative")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ParseLevel converts a logging.level value to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}

// parseDurations converts the raw duration values into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  any
		dst  *time.Duration
	}{
		{"scheduler.heartbeat_interval", cfg.Scheduler.HeartbeatIntervalRaw, &cfg.Scheduler.HeartbeatInterval},
		{"scheduler.preempt_grace_time", cfg.Scheduler.PreemptGraceTimeRaw, &cfg.Scheduler.PreemptGraceTime},
		{"scheduler.schedule_publish_interval", cfg.Scheduler.SchedulePublishIntervalRaw, &cfg.Scheduler.SchedulePublishInterval},
		{"scheduler.tick_interval", cfg.Scheduler.TickIntervalRaw, &cfg.Scheduler.TickInterval},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
	}

	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		d, err := parseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %v: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// parseDuration accepts a Go duration string or a number of seconds.
func parseDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return seconds(secs)
		}
		return time.ParseDuration(v)
	case int:
		return seconds(float64(v))
	case int64:
		return seconds(float64(v))
	case uint64:
		return seconds(float64(v))
	case float64:
		return seconds(v)
	default:
		return 0, fmt.Errorf("unsupported duration value of type %T", raw)
	}
}

func seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || math.Abs(s) > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("duration %v out of range", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}
