// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	HTTPAddr       string
	LogLevel       string
	AllowedOrigins []string

	// Persistence. An empty DatabaseURL selects the in-memory store.
	DatabaseURL    string
	MigrationsPath string
	RedisAddr      string

	// Ledger client.
	LedgerRPCURL  string
	NetworkMagic  uint32
	LedgerTimeout time.Duration

	// Cost contracts. Amounts are in the asset's smallest unit.
	SimpleAttackFee      int64
	SimpleAttackAsset    string
	SimpleAttackTreasury string
	BulkAttackFee        int64
	BulkAttackTreasury   string

	// Settlement polling.
	ConfirmPollInterval time.Duration
	ConfirmWaitTimeout  time.Duration

	// Rate limiting on the attack route.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Cron expression for the session expiry sweep.
	SweepSchedule string
}

// LoadFromEnv builds a Config from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() Config {
	return Config{
		HTTPAddr:       envStr("HTTP_ADDR", ":8080"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		AllowedOrigins: strings.Split(envStr("ALLOWED_ORIGINS", "*"), ","),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationsPath: envStr("MIGRATIONS_PATH", "migrations"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),

		LedgerRPCURL:  envStr("LEDGER_RPC_URL", "http://localhost:20332"),
		NetworkMagic:  uint32(envInt("NETWORK_MAGIC", 894710606)),
		LedgerTimeout: envDuration("LEDGER_TIMEOUT", 30*time.Second),

		SimpleAttackFee:      envInt("SIMPLE_ATTACK_FEE", 10_000_000),
		SimpleAttackAsset:    os.Getenv("SIMPLE_ATTACK_ASSET"),
		SimpleAttackTreasury: os.Getenv("SIMPLE_ATTACK_TREASURY"),
		BulkAttackFee:        envInt("BULK_ATTACK_FEE", 100_000_000),
		BulkAttackTreasury:   os.Getenv("BULK_ATTACK_TREASURY"),

		ConfirmPollInterval: envDuration("CONFIRM_POLL_INTERVAL", 2*time.Second),
		ConfirmWaitTimeout:  envDuration("CONFIRM_WAIT_TIMEOUT", 90*time.Second),

		RateLimitPerSecond: envFloat("RATE_LIMIT_PER_SECOND", 2),
		RateLimitBurst:     int(envInt("RATE_LIMIT_BURST", 5)),

		SweepSchedule: envStr("SWEEP_SCHEDULE", "@every 1m"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
