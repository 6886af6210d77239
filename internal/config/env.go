package config

import (
	"os"
	"strconv"
)

// LoadFromEnv applies environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("BACKUPD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("BACKUPD_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if statePath := os.Getenv("BACKUPD_STATE_PATH"); statePath != "" {
		cfg.State.Path = statePath
	}

	if webhook := os.Getenv("BACKUPD_ALERT_WEBHOOK"); webhook != "" {
		cfg.Alerting.WebhookURL = webhook
	}

	if budget := os.Getenv("BACKUPD_BUDGET_USD"); budget != "" {
		if b, err := strconv.ParseFloat(budget, 64); err == nil {
			cfg.Cost.BudgetUSD = b
		}
	}

	if pw := os.Getenv("BACKUPD_POSTGRES_PASSWORD"); pw != "" {
		cfg.State.Postgres.Password = pw
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
