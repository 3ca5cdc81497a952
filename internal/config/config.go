package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/revisit-backend/internal/platform/envutil"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

// TenantConfig is one institution in the roster. Every roster entry gets its
// tenant tables provisioned at startup and a catalog binding for each shared
// project and product.
type TenantConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type RemindersConfig struct {
	// DaysAhead is how far before a customer's birthday a reminder is
	// generated.
	DaysAhead int `yaml:"days_ahead"`
}

type SyncConfig struct {
	// BatchConcurrency bounds how many records a batch sync processes at
	// once.
	BatchConcurrency int `yaml:"batch_concurrency"`
	// SecondaryTimeoutSeconds bounds each best-effort secondary write.
	SecondaryTimeoutSeconds int `yaml:"secondary_timeout_seconds"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type AuthConfig struct {
	// JWTSecretKey signs institution access tokens. Never put the real
	// key in a config file; set JWT_SECRET_KEY instead.
	JWTSecretKey      string `yaml:"-"`
	AccessTokenTTLSec int    `yaml:"access_token_ttl_seconds"`
}

type Config struct {
	Tenants   []TenantConfig  `yaml:"tenants"`
	Reminders RemindersConfig `yaml:"reminders"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
}

const (
	defaultDaysAhead        = 7
	defaultBatchConcurrency = 32
	defaultSecondaryTimeout = 10
	defaultPort             = "8080"
	defaultAccessTokenTTL   = 3600
)

// Load reads the YAML file at path (CONFIG_PATH wins over the argument) and
// fills gaps from env vars and defaults. A missing file is not an error: the
// engine can run entirely from env for single-tenant deployments.
func Load(path string, log *logger.Logger) (*Config, error) {
	if fromEnv := strings.TrimSpace(os.Getenv("CONFIG_PATH")); fromEnv != "" {
		path = fromEnv
	}

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			log.Info("loaded config file", "path", path, "tenants", len(cfg.Tenants))
		case os.IsNotExist(err):
			log.Warn("config file not found, using env/defaults", "path", path)
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv(log)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(log *logger.Logger) {
	if len(c.Tenants) == 0 {
		if raw := strings.TrimSpace(os.Getenv("TENANT_CODES")); raw != "" {
			for _, code := range strings.Split(raw, ",") {
				code = strings.TrimSpace(code)
				if code == "" {
					continue
				}
				c.Tenants = append(c.Tenants, TenantConfig{Code: code})
			}
		}
	}
	if c.Reminders.DaysAhead == 0 {
		c.Reminders.DaysAhead = envutil.GetEnvAsInt("REMINDER_DAYS_AHEAD", defaultDaysAhead, log)
	}
	if c.Sync.BatchConcurrency == 0 {
		c.Sync.BatchConcurrency = envutil.GetEnvAsInt("SYNC_BATCH_CONCURRENCY", defaultBatchConcurrency, log)
	}
	if c.Sync.SecondaryTimeoutSeconds == 0 {
		c.Sync.SecondaryTimeoutSeconds = envutil.GetEnvAsInt("SYNC_SECONDARY_TIMEOUT_SECONDS", defaultSecondaryTimeout, log)
	}
	if c.Server.Port == "" {
		c.Server.Port = envutil.GetEnv("PORT", defaultPort, log)
	}
	if c.Auth.JWTSecretKey == "" {
		c.Auth.JWTSecretKey = envutil.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	}
	if c.Auth.AccessTokenTTLSec == 0 {
		c.Auth.AccessTokenTTLSec = envutil.GetEnvAsInt("ACCESS_TOKEN_TTL", defaultAccessTokenTTL, log)
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		code := strings.TrimSpace(t.Code)
		if code == "" {
			return fmt.Errorf("tenant roster entry with empty code")
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate tenant code %q in roster", code)
		}
		seen[code] = struct{}{}
	}
	if c.Reminders.DaysAhead < 0 {
		return fmt.Errorf("reminders.days_ahead must not be negative")
	}
	if c.Sync.BatchConcurrency <= 0 {
		return fmt.Errorf("sync.batch_concurrency must be positive")
	}
	if c.Sync.SecondaryTimeoutSeconds <= 0 {
		return fmt.Errorf("sync.secondary_timeout_seconds must be positive")
	}
	if c.Auth.AccessTokenTTLSec <= 0 {
		return fmt.Errorf("auth.access_token_ttl_seconds must be positive")
	}
	return nil
}

// TenantCodes returns the roster codes in declaration order.
func (c *Config) TenantCodes() []string {
	out := make([]string, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		out = append(out, t.Code)
	}
	return out
}
