// Package config loads ledgerd configuration from defaults, an optional
// YAML file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete ledgerd configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Auth    AuthConfig    `yaml:"auth"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Tracing TracingConfig `yaml:"tracing"`
}

// HTTPConfig configures the API and metrics listeners.
type HTTPConfig struct {
	Addr        string        `yaml:"addr" env:"LEDGER_HTTP_ADDR"`
	MetricsAddr string        `yaml:"metrics_addr" env:"LEDGER_METRICS_ADDR"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"LEDGER_HTTP_READ_TIMEOUT"`
}

// StorageConfig selects and configures the ledger and analytics backends.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory" env:"LEDGER_USE_MEMORY"`
	PostgresDSN   string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	ClickHouseDSN string `yaml:"clickhouse_dsn" env:"CLICKHOUSE_DSN"` // empty disables trade analytics
	TxRetries     int    `yaml:"tx_retries" env:"LEDGER_TX_RETRIES"`
}

// EventsConfig configures event sinks.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" env:"NATS_URL"` // empty disables NATS
	SubjectPrefix string `yaml:"subject_prefix" env:"LEDGER_SUBJECT_PREFIX"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"LEDGER_JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"LEDGER_JWT_ISSUER"`
}

// LedgerConfig holds business parameters.
type LedgerConfig struct {
	PlatformFeeRate string        `yaml:"platform_fee_rate" env:"LEDGER_PLATFORM_FEE_RATE"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"LEDGER_SWEEP_INTERVAL"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"` // empty disables tracing
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
			ReadTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			TxRetries: 3,
		},
		Events: EventsConfig{
			SubjectPrefix: "ledger",
		},
		Auth: AuthConfig{
			JWTIssuer: "",
		},
		Ledger: LedgerConfig{
			PlatformFeeRate: "0.01",
			SweepInterval:   time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "ledgerd",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// FeeRate returns the parsed platform fee rate.
func (c *Config) FeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Ledger.PlatformFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.platform_fee_rate: %w", err)
	}
	return rate, nil
}

// Validate checks that the configuration is usable for serving.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required (set storage.use_memory for in-memory storage)")
	}
	if c.Storage.TxRetries < 0 {
		return fmt.Errorf("storage.tx_retries must not be negative")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	rate, err := c.FeeRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ledger.platform_fee_rate must be in [0, 1)")
	}
	if c.Ledger.SweepInterval <= 0 {
		return fmt.Errorf("ledger.sweep_interval must be positive")
	}
	return nil
}
