package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon settings, read from the environment and an
// optional .env file in the working directory.
type Config struct {
	Addr     string `mapstructure:"TOLLGATE_ADDR"`
	BasePath string `mapstructure:"TOLLGATE_BASE_PATH"`
	LogLevel string `mapstructure:"TOLLGATE_LOG_LEVEL"`

	WebBaseURL  string `mapstructure:"WEB_BASE_URL"`
	APIBaseURL  string `mapstructure:"API_BASE_URL"`
	CallbackURL string `mapstructure:"TBC_CALLBACK_URL"`

	IPHashSalt         string `mapstructure:"IP_HASH_SALT"`
	CallbackAllowedIPs string `mapstructure:"TBC_CALLBACK_ALLOWED_IPS"`
	AllowMockBilling   bool   `mapstructure:"ALLOW_MOCK_BILLING"`
	AdminToken         string `mapstructure:"ADMIN_TOKEN"`
	TrustedProxies     string `mapstructure:"TRUSTED_PROXIES"`

	DatabaseDriver   string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	DatabasePoolSize int    `mapstructure:"DATABASE_POOL_SIZE"`

	TBCBaseURL      string        `mapstructure:"TBC_BASE_URL"`
	TBCAPIKey       string        `mapstructure:"TBC_API_KEY"`
	TBCClientID     string        `mapstructure:"TBC_CLIENT_ID"`
	TBCClientSecret string        `mapstructure:"TBC_CLIENT_SECRET"`
	GatewayTimeout  time.Duration `mapstructure:"TBC_TIMEOUT"`

	SweepSchedule        string `mapstructure:"SWEEP_SCHEDULE"`
	NumberingMaxAttempts int    `mapstructure:"NUMBERING_MAX_ATTEMPTS"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	RabbitMQURL  string `mapstructure:"RABBITMQ_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
	AuditLog     bool   `mapstructure:"AUDIT_LOG"`
}

var configKeys = []string{
	"TOLLGATE_ADDR", "TOLLGATE_BASE_PATH", "TOLLGATE_LOG_LEVEL",
	"WEB_BASE_URL", "API_BASE_URL", "TBC_CALLBACK_URL",
	"IP_HASH_SALT", "TBC_CALLBACK_ALLOWED_IPS", "ALLOW_MOCK_BILLING", "ADMIN_TOKEN", "TRUSTED_PROXIES",
	"DATABASE_DRIVER", "DATABASE_URL", "DATABASE_POOL_SIZE",
	"TBC_BASE_URL", "TBC_API_KEY", "TBC_CLIENT_ID", "TBC_CLIENT_SECRET", "TBC_TIMEOUT",
	"SWEEP_SCHEDULE", "NUMBERING_MAX_ATTEMPTS",
	"REDIS_URL", "RABBITMQ_URL", "AMQP_EXCHANGE", "AUDIT_LOG",
}

// LoadConfig reads configuration from the environment, falling back to a
// .env file when one exists.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.SetDefault("TOLLGATE_ADDR", ":3001")
	v.SetDefault("TOLLGATE_LOG_LEVEL", "info")
	v.SetDefault("TBC_TIMEOUT", 15*time.Second)
	v.SetDefault("SWEEP_SCHEDULE", "@every 1m")
	v.SetDefault("NUMBERING_MAX_ATTEMPTS", 5)
	v.SetDefault("AMQP_EXCHANGE", "tollgate.events")
	v.SetDefault("DATABASE_POOL_SIZE", 10)

	v.AutomaticEnv()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TBCAPIKey != "" && (c.TBCClientID == "" || c.TBCClientSecret == "") {
		return errors.New("TBC_CLIENT_ID and TBC_CLIENT_SECRET are required when TBC_API_KEY is set")
	}
	if c.TBCAPIKey != "" && c.WebBaseURL == "" {
		return errors.New("WEB_BASE_URL is required to build checkout return links")
	}
	switch c.DatabaseDriverName() {
	case driverMemory:
		// Paid subscriptions would vanish on restart.
		if c.TBCAPIKey != "" {
			return errors.New("DATABASE_URL is required when TBC_API_KEY is set; the memory store loses paid subscriptions on restart")
		}
	case driverPostgres, driverSQLite, driverMongo:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for DATABASE_DRIVER=%s", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q (want memory, postgres, sqlite or mongo)", c.DatabaseDriver)
	}
	return nil
}

// DatabaseDriverName returns DATABASE_DRIVER, or infers it from the
// DATABASE_URL scheme when unset.
func (c *Config) DatabaseDriverName() string {
	if d := strings.ToLower(strings.TrimSpace(c.DatabaseDriver)); d != "" {
		return d
	}
	u := strings.ToLower(c.DatabaseURL)
	switch {
	case u == "":
		return driverMemory
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return driverPostgres
	case strings.HasPrefix(u, "mongodb://"), strings.HasPrefix(u, "mongodb+srv://"):
		return driverMongo
	default:
		return driverSQLite
	}
}

// AllowedIPs splits the comma separated callback allow-list.
func (c *Config) AllowedIPs() []string { return splitList(c.CallbackAllowedIPs) }

// Proxies splits the comma separated trusted proxy list.
func (c *Config) Proxies() []string { return splitList(c.TrustedProxies) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
