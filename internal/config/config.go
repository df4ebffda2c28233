package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup. Values come from an
// optional YAML file (CONFIG_PATH) and are overridden field by field from the
// environment, so container deployments can run file-less.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	DefaultProvider string `yaml:"defaultProvider"`

	Leajlak LeajlakConfig `yaml:"leajlak"`
	Shadda  ShaddaConfig  `yaml:"shadda"`

	RequestTimeout time.Duration `yaml:"requestTimeout"`
	CreateRetries  int           `yaml:"createRetries"`
	RetryBackoff   time.Duration `yaml:"retryBackoff"`
	PollInterval   time.Duration `yaml:"pollInterval"`

	// Outbound requests per second allowed per provider. Zero disables the
	// limiter.
	ProviderRateLimit float64 `yaml:"providerRateLimit"`

	Auth AuthConfig `yaml:"auth"`
}

type LeajlakConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	// SendJSON picks the create request encoding: JSON body when true,
	// form-encoded otherwise.
	SendJSON bool `yaml:"sendJson"`
	// CancelViaDelete picks DELETE for cancel; POST otherwise.
	CancelViaDelete bool   `yaml:"cancelViaDelete"`
	DefaultShopID   string `yaml:"defaultShopId"`
}

type ShaddaConfig struct {
	BaseURL       string `yaml:"baseUrl"`
	ClientID      string `yaml:"clientId"`
	SecretKey     string `yaml:"secretKey"`
	DefaultShopID string `yaml:"defaultShopId"`
	// ChaseAfterWebhook re-polls the provider after each webhook to pick up
	// driver details the webhook payload omits.
	ChaseAfterWebhook bool `yaml:"chaseAfterWebhook"`
}

type AuthConfig struct {
	// Mode: "dev" (any bearer token accepted, role from token prefix) or
	// "hmac" (HS256 JWT verified with Secret).
	Mode   string `yaml:"mode"`
	Secret string `yaml:"secret"`
}

// Defaults mirror the provider contracts: 30s timeout, create retried 3x
// with a fixed 100ms backoff, status/cancel never retried.
func defaults() Config {
	return Config{
		Port:            "8080",
		DefaultProvider: "leajlak",
		Leajlak: LeajlakConfig{
			SendJSON:        true,
			CancelViaDelete: true,
			DefaultShopID:   "210",
		},
		Shadda: ShaddaConfig{
			DefaultShopID:     "11183",
			ChaseAfterWebhook: true,
		},
		RequestTimeout: 30 * time.Second,
		CreateRetries:  3,
		RetryBackoff:   100 * time.Millisecond,
		PollInterval:   60 * time.Second,
		Auth:           AuthConfig{Mode: "dev"},
	}
}

// Load reads CONFIG_PATH (if set) and applies environment overrides.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Port, "PORT")
	envStr(&c.DatabaseURL, "DATABASE_URL")
	envStr(&c.RedisURL, "REDIS_URL")
	envStr(&c.DefaultProvider, "DEFAULT_SHIPPING_PROVIDER")

	envStr(&c.Leajlak.BaseURL, "SHIPPING_API_URL")
	envStr(&c.Leajlak.APIKey, "SHIPPING_API_KEY")
	envBool(&c.Leajlak.SendJSON, "SHIPPING_SEND_JSON")
	envBool(&c.Leajlak.CancelViaDelete, "SHIPPING_CANCEL_VIA_DELETE")
	envStr(&c.Leajlak.DefaultShopID, "SHIPPING_DEFAULT_SHOP_ID")

	envStr(&c.Shadda.BaseURL, "SHADDA_API_URL")
	envStr(&c.Shadda.ClientID, "SHADDA_CLIENT_ID")
	envStr(&c.Shadda.SecretKey, "SHADDA_SECRET_KEY")
	envStr(&c.Shadda.DefaultShopID, "SHADDA_DEFAULT_SHOP_ID")
	envBool(&c.Shadda.ChaseAfterWebhook, "SHADDA_CHASE_AFTER_WEBHOOK")

	envDur(&c.RequestTimeout, "SHIPPING_REQUEST_TIMEOUT")
	envInt(&c.CreateRetries, "SHIPPING_CREATE_RETRIES")
	envDur(&c.RetryBackoff, "SHIPPING_RETRY_BACKOFF")
	envDur(&c.PollInterval, "SHIPPING_POLL_INTERVAL")
	envFloat(&c.ProviderRateLimit, "SHIPPING_RATE_LIMIT")

	envStr(&c.Auth.Mode, "AUTH_MODE")
	envStr(&c.Auth.Secret, "AUTH_SECRET")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
