package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`
	Usage    UsageConfig    `yaml:"usage"`
	Device   DeviceConfig   `yaml:"device"`
	Storage  StorageConfig  `yaml:"storage"`
	Payment  PaymentConfig  `yaml:"payment"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	PublicURL      string          `yaml:"publicUrl"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	MaxUploadBytes int64           `yaml:"maxUploadBytes"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// SessionConfig holds the view state machine timings.
type SessionConfig struct {
	OnboardingCharInterval time.Duration `yaml:"onboardingCharInterval"`
	OnboardingAdvanceDelay time.Duration `yaml:"onboardingAdvanceDelay"`
	ProgressTick           time.Duration `yaml:"progressTick"`
	ProgressMaxStep        float64       `yaml:"progressMaxStep"`
	LipSyncDuration        time.Duration `yaml:"lipSyncDuration"`
	ShareCardDelay         time.Duration `yaml:"shareCardDelay"`
	SupportPromptDelay     time.Duration `yaml:"supportPromptDelay"`
	SupportURL             string        `yaml:"supportUrl"`
	IdleTTL                time.Duration `yaml:"idleTtl"`
	SkipOnboarding         bool          `yaml:"skipOnboarding"`
}

// UsageConfig controls the free tier upload gate.
type UsageConfig struct {
	DailyLimit          int    `yaml:"dailyLimit"`
	LockoutMonths       int    `yaml:"lockoutMonths"`
	ResetLockOnRollover bool   `yaml:"resetLockOnRollover"`
	Timezone            string `yaml:"timezone"`
	Backend             string `yaml:"backend"`
}

// DeviceConfig controls device token issuance.
type DeviceConfig struct {
	Secret     string        `yaml:"secret"`
	TokenTTL   time.Duration `yaml:"tokenTtl"`
	CookieName string        `yaml:"cookieName"`
}

// StorageConfig points at the S3 compatible bucket holding uploads and exports.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// PaymentConfig holds checkout provider credentials and plan prices.
type PaymentConfig struct {
	KeyID        string       `yaml:"keyId"`
	KeySecret    string       `yaml:"keySecret"`
	BaseURL      string       `yaml:"baseUrl"`
	Currency     string       `yaml:"currency"`
	MerchantName string       `yaml:"merchantName"`
	Plans        []PlanConfig `yaml:"plans"`
}

// PlanConfig prices one paid plan in minor currency units.
type PlanConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tier        string `yaml:"tier"`
	Amount      int64  `yaml:"amount"`
}

// RedisConfig contains connection information for the Valkey usage store.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from dotenv files, a YAML file and environment variables.
func Load() (*Config, error) {
	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return nil, err
	}

	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates the process environment from the first files found.
// Variables already set win over file values.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_PUBLIC_URL"); v != "" {
		cfg.HTTP.PublicURL = v
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_MAX_UPLOAD_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HTTP.MaxUploadBytes = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("SESSION_IDLE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Session.IdleTTL = parsed
		}
	}
	if v := os.Getenv("SESSION_SUPPORT_URL"); v != "" {
		cfg.Session.SupportURL = v
	}
	if v := os.Getenv("SESSION_SKIP_ONBOARDING"); v != "" {
		cfg.Session.SkipOnboarding = parseBool(v)
	}
	if v := os.Getenv("USAGE_DAILY_LIMIT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Usage.DailyLimit = parsed
		}
	}
	if v := os.Getenv("USAGE_LOCKOUT_MONTHS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Usage.LockoutMonths = parsed
		}
	}
	if v := os.Getenv("USAGE_RESET_LOCK_ON_ROLLOVER"); v != "" {
		cfg.Usage.ResetLockOnRollover = parseBool(v)
	}
	if v := os.Getenv("USAGE_TIMEZONE"); v != "" {
		cfg.Usage.Timezone = v
	}
	if v := os.Getenv("USAGE_BACKEND"); v != "" {
		cfg.Usage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DEVICE_SECRET"); v != "" {
		cfg.Device.Secret = v
	}
	if v := os.Getenv("DEVICE_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Device.TokenTTL = parsed
		}
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("RAZORPAY_KEY_ID"); v != "" {
		cfg.Payment.KeyID = v
	}
	if v := os.Getenv("RAZORPAY_KEY_SECRET"); v != "" {
		cfg.Payment.KeySecret = v
	}
	if v := os.Getenv("RAZORPAY_BASE_URL"); v != "" {
		cfg.Payment.BaseURL = v
	}
	if v := os.Getenv("PAYMENT_CURRENCY"); v != "" {
		cfg.Payment.Currency = strings.ToUpper(v)
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:        ":8080",
			PublicURL:      "http://localhost:8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   0,
			MaxUploadBytes: 10 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             30,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
			},
		},
		Session: SessionConfig{
			OnboardingCharInterval: 50 * time.Millisecond,
			OnboardingAdvanceDelay: 1500 * time.Millisecond,
			ProgressTick:           300 * time.Millisecond,
			ProgressMaxStep:        10,
			LipSyncDuration:        4 * time.Second,
			ShareCardDelay:         5 * time.Second,
			SupportPromptDelay:     10 * time.Second,
			SupportURL:             "https://vrrelated.gumroad.com/l/attracttherightone",
			IdleTTL:                30 * time.Minute,
		},
		Usage: UsageConfig{
			DailyLimit:          3,
			LockoutMonths:       1,
			ResetLockOnRollover: true,
			Timezone:            "UTC",
			Backend:             "memory",
		},
		Device: DeviceConfig{
			TokenTTL:   400 * 24 * time.Hour,
			CookieName: "truthcard_device",
		},
		Storage: StorageConfig{
			Bucket: "truthcard",
			Region: "auto",
		},
		Payment: PaymentConfig{
			BaseURL:      "https://api.razorpay.com",
			Currency:     "USD",
			MerchantName: "TruthCard AI",
			Plans: []PlanConfig{
				{ID: "pro", Name: "Pro Roast", Description: "Purchase Pro Tier", Tier: "Pro", Amount: 499},
				{ID: "roaster", Name: "Nuclear Roast", Description: "Nuclear Roast Plan", Tier: "Roaster", Amount: 999},
			},
		},
		Redis: RedisConfig{
			Prefix: "truthcard",
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.maxUploadBytes must be positive")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.Session.OnboardingCharInterval <= 0 || c.Session.ProgressTick <= 0 {
		return errors.New("session tick intervals must be positive")
	}
	if c.Session.ProgressMaxStep <= 0 {
		return errors.New("session.progressMaxStep must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return errors.New("session.idleTtl must be positive")
	}
	if c.Usage.DailyLimit <= 0 {
		return errors.New("usage.dailyLimit must be positive")
	}
	if c.Usage.LockoutMonths < 1 {
		return errors.New("usage.lockoutMonths must be at least 1")
	}
	if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
		return fmt.Errorf("usage.timezone: %w", err)
	}
	switch c.Usage.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("usage.backend %q must be one of memory, redis, postgres", c.Usage.Backend)
	}
	if c.Usage.Backend == "redis" && (!c.Redis.Enabled || strings.TrimSpace(c.Redis.Addr) == "") {
		return errors.New("redis.addr must be set and enabled for the redis usage backend")
	}
	if c.Usage.Backend == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn must be set for the postgres usage backend")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr cannot be empty when redis is enabled")
	}
	if c.Device.TokenTTL <= 0 {
		return errors.New("device.tokenTtl must be positive")
	}
	if strings.TrimSpace(c.Device.CookieName) == "" {
		return errors.New("device.cookieName cannot be empty")
	}
	if (c.Payment.KeyID == "") != (c.Payment.KeySecret == "") {
		return errors.New("payment.keyId and payment.keySecret must be set together")
	}
	for _, plan := range c.Payment.Plans {
		if plan.ID == "" || plan.Amount <= 0 {
			return fmt.Errorf("payment plan %q needs an id and a positive amount", plan.ID)
		}
	}
	return nil
}
