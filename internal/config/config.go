// Package config provides the environment-backed configuration loader used
// by the auditd bootstrap (cmd/auditd/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime config values used by main.go.
type Config struct {
	DatabaseURL   string // DATABASE_URL (empty -> in-memory store, dev only)
	ListenAddr    string // LISTEN_ADDR (default :8080)
	AuthJWTSecret string // AUTH_JWT_SECRET

	// Kafka/S3 offload pipeline; streamer starts only when all three of
	// KafkaBrokers, KafkaTopic and S3Bucket are set (and Postgres is used).
	KafkaBrokers []string // KAFKA_BROKERS (comma-separated)
	KafkaTopic   string   // KAFKA_TOPIC
	S3Bucket     string   // S3_BUCKET
	S3Prefix     string   // S3_PREFIX

	ExportMaxRows int // EXPORT_MAX_ROWS (default 10000)
	RelatedMax    int // RELATED_MAX (default 100)

	StreamBatchSize      int           // STREAM_BATCH_SIZE (default 10)
	StreamMaxConcurrency int           // STREAM_MAX_CONCURRENCY (default 5)
	StreamPollInterval   time.Duration // STREAM_POLL_INTERVAL_SECONDS (default 3s)
}

// LoadFromEnv reads config values from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		KafkaTopic:    strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		S3Bucket:      strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:      strings.TrimSpace(os.Getenv("S3_PREFIX")),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.ExportMaxRows = envInt("EXPORT_MAX_ROWS", 10000)
	cfg.RelatedMax = envInt("RELATED_MAX", 100)
	cfg.StreamBatchSize = envInt("STREAM_BATCH_SIZE", 10)
	cfg.StreamMaxConcurrency = envInt("STREAM_MAX_CONCURRENCY", 5)
	cfg.StreamPollInterval = time.Duration(envInt("STREAM_POLL_INTERVAL_SECONDS", 3)) * time.Second

	return cfg
}

func envInt(name string, def int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
