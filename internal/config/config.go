package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/tier"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server         ServerConfig       `json:"server"`
	Redis          RedisConfig        `json:"redis"`
	Database       DatabaseConfig     `json:"database"`
	Auth           AuthConfig         `json:"auth"`
	Admission      AdmissionConfig    `json:"admission"`
	RateLimitTiers []TierConfig       `json:"rate_limit_tiers"`
	Plans          []PlanConfig       `json:"plans"`
	Tools          ToolsConfig        `json:"tools"`
	Housekeeping   HousekeepingConfig `json:"housekeeping"`
	Log            LogConfig          `json:"log"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret   string   `json:"jwt_secret"`
	ExpiryHours int      `json:"expiry_hours"`
	AdminEmails []string `json:"admin_emails"`
}

type AdmissionConfig struct {
	CounterBackend               string `json:"counter_backend"`
	QuotaBackend                 string `json:"quota_backend"`
	StoreTimeoutMs               int    `json:"store_timeout_ms"`
	BreakerMaxFailures           int    `json:"breaker_max_failures"`
	BreakerTimeoutSeconds        int    `json:"breaker_timeout_seconds"`
	QuotaUnavailableRetrySeconds int    `json:"quota_unavailable_retry_seconds"`
}

// Overrides one row of the built-in tier table
type TierConfig struct {
	Name          string `json:"name"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"window_seconds"`
	ErrorMessage  string `json:"error_message"`
}

// Overrides the daily quota of a known plan
type PlanConfig struct {
	Name       string `json:"name"`
	DailyQuota int    `json:"daily_quota"`
}

type ToolsConfig struct {
	Upstream       string `json:"upstream"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type HousekeepingConfig struct {
	PruneSchedule        string `json:"prune_schedule"`
	SweepSchedule        string `json:"sweep_schedule"`
	UsageRetentionDays   int    `json:"usage_retention_days"`
	EventRetentionDays   int    `json:"event_retention_days"`
	RecorderBufferSize   int    `json:"recorder_buffer_size"`
	RecorderBatchSize    int    `json:"recorder_batch_size"`
	RecorderFlushSeconds int    `json:"recorder_flush_seconds"`
}

type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Returns a config with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Reads the JSON file at path, applies environment overrides and defaults,
// then validates. A missing file is not an error: the defaults are used
func Load(path string) (*Config, error) {
	var config Config

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Redis.Host, "REDIS_HOST")
	setString(&c.Redis.Port, "REDIS_PORT")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Admission.CounterBackend, "COUNTER_BACKEND")
	setString(&c.Admission.QuotaBackend, "QUOTA_BACKEND")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Tools.Upstream, "TOOLS_UPSTREAM")

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		c.Auth.AdminEmails = strings.Split(v, ",")
	}

	return nil
}

func setString(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}

	a := &c.Admission
	if a.CounterBackend == "" {
		a.CounterBackend = BackendMemory
	}
	if a.QuotaBackend == "" {
		a.QuotaBackend = BackendMemory
	}
	if a.StoreTimeoutMs <= 0 {
		a.StoreTimeoutMs = 250
	}
	if a.BreakerMaxFailures <= 0 {
		a.BreakerMaxFailures = 5
	}
	if a.BreakerTimeoutSeconds <= 0 {
		a.BreakerTimeoutSeconds = 30
	}
	if a.QuotaUnavailableRetrySeconds <= 0 {
		a.QuotaUnavailableRetrySeconds = 30
	}

	if c.Tools.TimeoutSeconds <= 0 {
		c.Tools.TimeoutSeconds = 30
	}

	h := &c.Housekeeping
	if h.PruneSchedule == "" {
		h.PruneSchedule = "0 3 * * *"
	}
	if h.SweepSchedule == "" {
		h.SweepSchedule = "@every 1m"
	}
	if h.UsageRetentionDays <= 0 {
		h.UsageRetentionDays = 90
	}
	if h.EventRetentionDays <= 0 {
		h.EventRetentionDays = 30
	}
	if h.RecorderBufferSize <= 0 {
		h.RecorderBufferSize = 1000
	}
	if h.RecorderBatchSize <= 0 {
		h.RecorderBatchSize = 100
	}
	if h.RecorderFlushSeconds <= 0 {
		h.RecorderFlushSeconds = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Admission.CounterBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown counter backend %q", c.Admission.CounterBackend)
	}

	switch c.Admission.QuotaBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("quota backend postgres requires database.url")
		}
	default:
		return fmt.Errorf("unknown quota backend %q", c.Admission.QuotaBackend)
	}

	if c.Tools.Upstream != "" {
		u, err := url.Parse(c.Tools.Upstream)
		if err != nil {
			return fmt.Errorf("invalid tools upstream: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid tools upstream %q", c.Tools.Upstream)
		}
	}

	if c.Database.URL != "" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when a database is configured")
	}

	return nil
}

// Reports whether Redis is needed by any configured backend
func (c *Config) UsesRedis() bool {
	return c.Admission.CounterBackend == BackendRedis || c.Admission.QuotaBackend == BackendRedis
}

func (c *Config) TierDefinitions() []tier.Definition {
	defs := make([]tier.Definition, 0, len(c.RateLimitTiers))
	for _, t := range c.RateLimitTiers {
		defs = append(defs, tier.Definition{
			Name:          t.Name,
			MaxRequests:   t.MaxRequests,
			WindowSeconds: t.WindowSeconds,
			ErrorMessage:  t.ErrorMessage,
		})
	}
	return defs
}

func (c *Config) PlanDefinitions() []tier.PlanDefinition {
	defs := make([]tier.PlanDefinition, 0, len(c.Plans))
	for _, p := range c.Plans {
		defs = append(defs, tier.PlanDefinition{Name: p.Name, DailyQuota: p.DailyQuota})
	}
	return defs
}

// Builds the tier registry from the built-in tables and the configured overrides
func (c *Config) Registry() (*tier.Registry, error) {
	return tier.NewRegistry(c.TierDefinitions(), c.PlanDefinitions())
}
