// Package config loads the engagement service settings that sit on top of
// the shared platform config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	// NATSURL empty means natsconn picks its own default.
	NATSURL   string
	JWTSecret string
	GRPCAddr  string

	Worker WorkerConfig
}

// WorkerConfig tunes the JetStream pull consumers.
type WorkerConfig struct {
	Enabled       bool
	BatchSize     int
	BatchInterval time.Duration
}

func Load() Config {
	return Config{
		DatabaseURL: getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL"),
		NATSURL:     getenv("NATS_URL"),
		JWTSecret:   getenv("JWT_SECRET"),
		GRPCAddr:    envString("GRPC_ADDR", ":9090"),
		Worker: WorkerConfig{
			Enabled:       envBool("WORKER_ENABLED", true),
			BatchSize:     envInt("WORKER_BATCH_SIZE", 50),
			BatchInterval: time.Duration(envInt("WORKER_BATCH_INTERVAL_MS", 2000)) * time.Millisecond,
		},
	}
}

func getenv(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}

func envString(key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
