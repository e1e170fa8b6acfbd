package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port               int
	NatsURL            string
	NatsToken          string
	DatabaseURL        string
	LogLevel           string
	AdminToken         string
	Env                string
	EnableScheduler    bool
	Migrate            bool
	ViolationThreshold float64
	VoteRateLimit      int
	RateBurst          int
	ShutdownTimeout    time.Duration
}

func Load() Config {
	return Config{
		Port:               envInt("CITADEL_PORT", 8760),
		NatsURL:            envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:          envStr("NATS_TOKEN", ""),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		AdminToken:         envStr("CITADEL_ADMIN_TOKEN", ""),
		Env:                envStr("CITADEL_ENV", "production"),
		EnableScheduler:    envBool("CITADEL_ENABLE_SCHEDULER", false),
		Migrate:            envBool("CITADEL_MIGRATE", true),
		ViolationThreshold: envFloat("CITADEL_VIOLATION_THRESHOLD", 5),
		VoteRateLimit:      envInt("CITADEL_VOTE_RATE_LIMIT", 10),
		RateBurst:          envInt("CITADEL_RATE_BURST", 5),
		ShutdownTimeout:    envDuration("CITADEL_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// SchedulerEnabled reports whether the hourly commitment job should run.
// Development environments skip it unless explicitly enabled.
func (c Config) SchedulerEnabled() bool {
	return c.Env != "development" || c.EnableScheduler
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
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
