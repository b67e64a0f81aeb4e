package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Token Flow API - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Tenant   TenantConfig   `yaml:"tenant"`
	Intent   IntentConfig   `yaml:"intent"`
	Risk     RiskConfig     `yaml:"risk"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	RequestDeadlineS int      `yaml:"request_deadline_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig for Supabase, the Persistence Adapter's backing store.
type DatabaseConfig struct {
	Supabase SupabaseConfig `yaml:"supabase"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// UpstreamConfig targets the external enhanced-transactions/RPC provider.
type UpstreamConfig struct {
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	HealthTimeoutSec    int    `yaml:"health_timeout_sec"`
	TxTimeoutSec        int    `yaml:"tx_timeout_sec"`
	HistoryTimeoutSec   int    `yaml:"history_timeout_sec"`
	RetryMaxAttempts    int    `yaml:"retry_max_attempts"`
	RetryBaseDelayMs    int    `yaml:"retry_base_delay_ms"`
	BreakerThreshold    uint32 `yaml:"breaker_threshold"`
	BreakerOpenSec      int    `yaml:"breaker_open_sec"`
	BreakerHalfOpenReqs uint32 `yaml:"breaker_half_open_requests"`
}

// CacheConfig for the KV cache (Redis-backed, degraded no-op fallback).
type CacheConfig struct {
	Host     string `yaml:"host"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TenantConfig holds the Tenant Gate's secrets and limiter tuning.
type TenantConfig struct {
	APIKeySalt         string `yaml:"api_key_salt"`
	AdminAPIKey        string `yaml:"admin_api_key"`
	WebhookSecret      string `yaml:"webhook_secret"`
	AuthFailureFloorMs int    `yaml:"auth_failure_floor_ms"`
	RateLimitLRUSize   int    `yaml:"rate_limit_lru_size"`
	RateLimitLRUTTLSec int    `yaml:"rate_limit_lru_ttl_sec"`
}

// IntentConfig targets the external intent-inference ML service.
type IntentConfig struct {
	GRPCAddr       string `yaml:"grpc_addr"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	CacheTTLSec    int    `yaml:"cache_ttl_sec"`
	ConnectTimeout int    `yaml:"connect_timeout_sec"`
}

// RiskConfig tunes the Risk Scoring Engine's cache.
type RiskConfig struct {
	AssessmentCacheTTLSec int `yaml:"assessment_cache_ttl_sec"`
}

const placeholderSecret = "changeme"

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	c.Server.Interface = getEnv("APP_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Database.Supabase.URL = getEnv("SUPABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)

	c.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.APIKey = getEnv("UPSTREAM_API_KEY", c.Upstream.APIKey)
	if v := getEnvInt("UPSTREAM_RETRY_MAX_ATTEMPTS", 0); v > 0 {
		c.Upstream.RetryMaxAttempts = v
	}

	c.Cache.Host = getEnv("KV_HOST", c.Cache.Host)
	c.Cache.Password = getEnv("KV_PASSWORD", c.Cache.Password)
	if v := getEnvInt("KV_DB", -1); v >= 0 {
		c.Cache.DB = v
	}

	c.Tenant.APIKeySalt = getEnv("API_KEY_SALT", c.Tenant.APIKeySalt)
	c.Tenant.AdminAPIKey = getEnv("ADMIN_API_KEY", c.Tenant.AdminAPIKey)
	c.Tenant.WebhookSecret = getEnv("APIX_WEBHOOK_SECRET", c.Tenant.WebhookSecret)

	c.Intent.GRPCAddr = getEnv("INTENT_GRPC_ADDR", c.Intent.GRPCAddr)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Server.RequestDeadlineS == 0 {
		c.Server.RequestDeadlineS = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}

	if c.Upstream.HealthTimeoutSec == 0 {
		c.Upstream.HealthTimeoutSec = 2
	}
	if c.Upstream.TxTimeoutSec == 0 {
		c.Upstream.TxTimeoutSec = 10
	}
	if c.Upstream.HistoryTimeoutSec == 0 {
		c.Upstream.HistoryTimeoutSec = 30
	}
	if c.Upstream.RetryMaxAttempts == 0 {
		c.Upstream.RetryMaxAttempts = 3
	}
	if c.Upstream.RetryBaseDelayMs == 0 {
		c.Upstream.RetryBaseDelayMs = 100
	}
	if c.Upstream.BreakerThreshold == 0 {
		c.Upstream.BreakerThreshold = 5
	}
	if c.Upstream.BreakerOpenSec == 0 {
		c.Upstream.BreakerOpenSec = 60
	}
	if c.Upstream.BreakerHalfOpenReqs == 0 {
		c.Upstream.BreakerHalfOpenReqs = 2
	}

	if c.Tenant.AuthFailureFloorMs == 0 {
		c.Tenant.AuthFailureFloorMs = 50
	}
	if c.Tenant.RateLimitLRUSize == 0 {
		c.Tenant.RateLimitLRUSize = 1000
	}
	if c.Tenant.RateLimitLRUTTLSec == 0 {
		c.Tenant.RateLimitLRUTTLSec = 3600
	}

	if c.Intent.GRPCAddr == "" {
		c.Intent.GRPCAddr = "localhost:50051"
	}
	if c.Intent.TimeoutSec == 0 {
		c.Intent.TimeoutSec = 3
	}
	if c.Intent.ConnectTimeout == 0 {
		c.Intent.ConnectTimeout = 2
	}
	if c.Intent.CacheTTLSec == 0 {
		c.Intent.CacheTTLSec = 3600
	}

	if c.Risk.AssessmentCacheTTLSec == 0 {
		c.Risk.AssessmentCacheTTLSec = 600
	}
}

// Validate enforces the environment contract: the process refuses to
// start when a required secret is missing, too short, or equal to a
// well-known placeholder.
func (c *Config) Validate() error {
	var problems []string

	if c.Upstream.APIKey == "" {
		problems = append(problems, "UPSTREAM_API_KEY is required")
	}
	if c.Database.Supabase.ServiceKey == "" {
		problems = append(problems, "SUPABASE_SERVICE_KEY is required")
	}
	if err := validateSecret("API_KEY_SALT", c.Tenant.APIKeySalt); err != nil {
		problems = append(problems, err.Error())
	}
	if err := validateSecret("ADMIN_API_KEY", c.Tenant.AdminAPIKey); err != nil {
		problems = append(problems, err.Error())
	}
	if err := validateSecret("APIX_WEBHOOK_SECRET", c.Tenant.WebhookSecret); err != nil {
		problems = append(problems, err.Error())
	}
	if c.IsProduction() && len(c.Server.CORSAllowOrigins) == 0 {
		problems = append(problems, "ALLOWED_ORIGINS is required in production")
	}
	if c.IsProduction() {
		for _, o := range c.Server.CORSAllowOrigins {
			if o == "*" {
				problems = append(problems, "ALLOWED_ORIGINS must not be '*' in production")
				break
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateSecret(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters", name)
	}
	if strings.EqualFold(value, placeholderSecret) {
		return fmt.Errorf("%s must not be the placeholder value", name)
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == ""
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}

func (c *Config) GetSupabaseURL() string {
	return c.Database.Supabase.URL
}

func (c *Config) GetSupabaseKey() string {
	return c.Database.Supabase.ServiceKey
}
