// Package config handles node configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/robfig/cron/v3"
)

// Config holds all node configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string

	// Security
	AuthoritySecret string // Bearer token for /v1/admin routes
	RateLimitRPM    int
	CORSOrigins     []string // empty allows any origin
	MaxRequestBytes int64

	// Block production and maintenance
	BlockInterval      time.Duration
	SettlementSchedule string // cron expression with seconds field, empty disables the keeper
	KeeperAccount      common.Address

	// Stake ledger
	MinimumStake       amount.Amount
	MinimumActiveStake amount.Amount
	MaxProviders       uint32
	SlashBPS           uint64
	UnstakingPeriod    uint64

	// Task ledger
	MinimumBounty         amount.Amount
	MaxProvidersPerTask   uint32
	RequireActiveProvider bool

	// Reward ledger
	MaxProvidersPerBatch    uint32
	MinimumReward           amount.Amount
	SettlementPeriod        uint64
	PlatformFeeBPS          uint64
	MaxBatchesPerSettlement int
}

// Reference runtime constants
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultRateLimit          = 600
	DefaultMaxRequestBytes    = 1 << 20
	DefaultBlockInterval      = 6 * time.Second
	DefaultSettlementSchedule = "0 */10 * * * *"

	DefaultMinimumStake       = "1000"
	DefaultMinimumActiveStake = "500"
	DefaultMaxProviders       = 10_000
	DefaultSlashBPS           = 1000
	DefaultUnstakingPeriod    = 7 * 24 * 600 // 7 days of 6s blocks

	DefaultMinimumBounty       = "10"
	DefaultMaxProvidersPerTask = 100

	DefaultMaxProvidersPerBatch    = 1000
	DefaultMinimumReward           = "0.01"
	DefaultSettlementPeriod        = 100
	DefaultPlatformFeeBPS          = 200
	DefaultMaxBatchesPerSettlement = 50

	MaxBPS = 10_000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	var errs []error
	amountVar := func(key, def string) amount.Amount {
		a, err := getEnvAmount(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return a
	}

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AuthoritySecret:    os.Getenv("AUTHORITY_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
		MaxRequestBytes:    getEnvInt64("MAX_REQUEST_BYTES", DefaultMaxRequestBytes),
		BlockInterval:      getEnvDuration("BLOCK_INTERVAL", DefaultBlockInterval),
		SettlementSchedule: getEnv("SETTLEMENT_SCHEDULE", DefaultSettlementSchedule),
		KeeperAccount:      common.HexToAddress(os.Getenv("KEEPER_ACCOUNT")),

		MinimumStake:       amountVar("MINIMUM_STAKE", DefaultMinimumStake),
		MinimumActiveStake: amountVar("MINIMUM_ACTIVE_STAKE", DefaultMinimumActiveStake),
		MaxProviders:       uint32(getEnvUint64("MAX_PROVIDERS", DefaultMaxProviders)),
		SlashBPS:           getEnvUint64("SLASH_BPS", DefaultSlashBPS),
		UnstakingPeriod:    getEnvUint64("UNSTAKING_PERIOD", DefaultUnstakingPeriod),

		MinimumBounty:         amountVar("MINIMUM_BOUNTY", DefaultMinimumBounty),
		MaxProvidersPerTask:   uint32(getEnvUint64("MAX_PROVIDERS_PER_TASK", DefaultMaxProvidersPerTask)),
		RequireActiveProvider: getEnvBool("REQUIRE_ACTIVE_PROVIDER", false),

		MaxProvidersPerBatch:    uint32(getEnvUint64("MAX_PROVIDERS_PER_BATCH", DefaultMaxProvidersPerBatch)),
		MinimumReward:           amountVar("MINIMUM_REWARD", DefaultMinimumReward),
		SettlementPeriod:        getEnvUint64("SETTLEMENT_PERIOD", DefaultSettlementPeriod),
		PlatformFeeBPS:          getEnvUint64("PLATFORM_FEE_BPS", DefaultPlatformFeeBPS),
		MaxBatchesPerSettlement: int(getEnvInt64("MAX_BATCHES_PER_SETTLEMENT", DefaultMaxBatchesPerSettlement)),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AuthoritySecret == "" {
		return fmt.Errorf("AUTHORITY_SECRET is required")
	}
	if c.IsProduction() && len(c.AuthoritySecret) < 32 {
		return fmt.Errorf("AUTHORITY_SECRET must be at least 32 characters in production")
	}
	if c.IsProduction() && len(c.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required in production")
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BYTES must be positive")
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("BLOCK_INTERVAL must be positive")
	}
	if c.SettlementSchedule != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.SettlementSchedule); err != nil {
			return fmt.Errorf("SETTLEMENT_SCHEDULE is invalid: %w", err)
		}
		if c.KeeperAccount == (common.Address{}) {
			return fmt.Errorf("KEEPER_ACCOUNT is required when SETTLEMENT_SCHEDULE is set")
		}
	}
	if c.SlashBPS > MaxBPS {
		return fmt.Errorf("SLASH_BPS must be at most %d", MaxBPS)
	}
	if c.PlatformFeeBPS > MaxBPS {
		return fmt.Errorf("PLATFORM_FEE_BPS must be at most %d", MaxBPS)
	}
	if c.MinimumStake.IsZero() {
		return fmt.Errorf("MINIMUM_STAKE must be positive")
	}
	if c.MaxProvidersPerTask == 0 || c.MaxProvidersPerBatch == 0 {
		return fmt.Errorf("MAX_PROVIDERS_PER_TASK and MAX_PROVIDERS_PER_BATCH must be positive")
	}
	if c.MaxBatchesPerSettlement <= 0 {
		return fmt.Errorf("MAX_BATCHES_PER_SETTLEMENT must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAmount parses a token amount such as "1000" or "0.01". Unlike the
// numeric helpers it reports bad input instead of falling back.
func getEnvAmount(key, defaultValue string) (amount.Amount, error) {
	value := getEnv(key, defaultValue)
	a, ok := amount.Parse(value)
	if !ok {
		return amount.Zero(), fmt.Errorf("%s: invalid amount %q", key, value)
	}
	return a, nil
}
