// Package config reads service configuration from the environment.
// godotenv in main loads a local .env first; everything here is plain
// env vars with defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the service configuration.
type Config struct {
	Port           string
	DBPath         string
	StageTimeout   time.Duration // per capability call
	GradeWorkers   int           // concurrent sibling grades
	StuckThreshold time.Duration // processing with no update for this long looks stalled
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		DBPath:         envOr("DB_PATH", "callcoach.db"),
		StageTimeout:   envDuration("STAGE_TIMEOUT", 60*time.Second),
		GradeWorkers:   envInt("GRADE_WORKERS", 4),
		StuckThreshold: envDuration("STUCK_THRESHOLD", 10*time.Minute),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
