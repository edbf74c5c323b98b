// Package config loads the process configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the process.
type Config struct {
	UserID         string        // Gmail user; "me" addresses the authenticated account
	CredentialsDir string        // directory holding gmailctl credential material
	DBPath         string        // SQLite database path
	ProjectID      string        // GCP project for Pub/Sub
	Topic          string        // fully-qualified Pub/Sub topic for watch registration
	Subscription   string        // Pub/Sub subscription id to consume
	Bucket         string        // GCS bucket for attachments; empty means local disk
	AttachmentsDir string        // local attachment directory when no bucket is set
	Lookback       time.Duration // first-run lookback window per rule
	RPS            int           // remote API requests per second
	Burst          int           // rate limiter burst allowance
	Workers        int           // concurrent rules per scheduler pass
}

// Load reads configuration from the environment, with a .env file as a
// convenience for local runs.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return &Config{
		UserID:         getEnv("GMAIL_USER_ID", "me"),
		CredentialsDir: getEnv("GMAIL_CREDENTIALS_DIR", os.ExpandEnv("$HOME/.gmailctl")),
		DBPath:         getEnv("DB_PATH", "mailflow.db"),
		ProjectID:      os.Getenv("PUBSUB_PROJECT_ID"),
		Topic:          os.Getenv("PUBSUB_TOPIC"),
		Subscription:   os.Getenv("PUBSUB_SUBSCRIPTION"),
		Bucket:         os.Getenv("BUCKET_NAME"),
		AttachmentsDir: getEnv("ATTACHMENTS_DIR", "attachments"),
		Lookback:       getEnvDuration("RULE_LOOKBACK", 30*24*time.Hour),
		RPS:            getEnvInt("API_RPS", 4),
		Burst:          getEnvInt("API_BURST", 4),
		Workers:        getEnvInt("RULE_WORKERS", 4),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
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
