package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	Port                 string
	DBDriver             string
	DBConn               string
	LogLevel             logrus.Level
	JWTSecret            string
	OverdueSweepSchedule string
	DefaultTenure        int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBDriver:             getEnv("DB_DRIVER", store.DialectSQLite),
		DBConn:               getEnv("DB_CONN", "grouploan.db"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		OverdueSweepSchedule: getEnv("OVERDUE_SWEEP_SCHEDULE", ""),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	switch cfg.DBDriver {
	case store.DialectSQLite, store.DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}

	tenure, err := strconv.Atoi(getEnv("DEFAULT_TENURE", "12"))
	if err != nil || tenure <= 0 {
		return nil, fmt.Errorf("DEFAULT_TENURE must be a positive integer")
	}
	cfg.DefaultTenure = tenure

	if cfg.OverdueSweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.OverdueSweepSchedule); err != nil {
			return nil, fmt.Errorf("invalid OVERDUE_SWEEP_SCHEDULE: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
