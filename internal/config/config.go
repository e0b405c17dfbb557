package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded from environment variables; a .env file is read by the
// cmd entrypoint before Load runs.
type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP (optional; empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker
	SyncInterval      time.Duration
	SyncHorizonMonths int
	SyncConcurrency   int

	// Reconciliation matching
	MatchWindowDays  int
	MatchResultLimit int
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/scadenze.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "scadenze"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "occurrence_sync"),

		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 15*time.Minute),
		SyncHorizonMonths: getEnvInt("SYNC_HORIZON_MONTHS", 12),
		SyncConcurrency:   getEnvInt("SYNC_CONCURRENCY", 4),

		MatchWindowDays:  getEnvInt("MATCH_WINDOW_DAYS", 60),
		MatchResultLimit: getEnvInt("MATCH_RESULT_LIMIT", 5),
	}
}

// Validate checks the configuration and collects every problem into a
// single error.
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.SyncHorizonMonths < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync horizon %d: cannot be negative", c.SyncHorizonMonths))
	} else if c.SyncHorizonMonths > 120 {
		errors = append(errors, fmt.Sprintf("invalid sync horizon %d: must be at most 120 months", c.SyncHorizonMonths))
	}

	if c.SyncConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be at least 1", c.SyncConcurrency))
	}

	if c.MatchWindowDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid match window %d: must be at least 1 day", c.MatchWindowDays))
	}
	if c.MatchResultLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid match result limit %d: must be at least 1", c.MatchResultLimit))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
