package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL         string
	HTTPAddr            string
	TelegramToken       string // Empty disables the staff bot
	ManagerTelegramID   int64  // Receives the due digest; 0 disables it
	StaffAccounts       map[int64]int64
	LogLevel            string
	Environment         string
	CronSpecAutoClosure string
	CronSpecDueDigest   string
	DigestLimit         int
	TxMaxRetries        int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	if managerIDStr := os.Getenv("MANAGER_TELEGRAM_ID"); managerIDStr != "" {
		cfg.ManagerTelegramID, err = strconv.ParseInt(managerIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MANAGER_TELEGRAM_ID: %w", err)
		}
	}

	cfg.StaffAccounts, err = ParseStaffAccounts(os.Getenv("STAFF_ACCOUNTS"))
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecAutoClosure = os.Getenv("CRON_SPEC_AUTO_CLOSURE")
	if cfg.CronSpecAutoClosure == "" {
		cfg.CronSpecAutoClosure = "0 2 * * *" // Default: 2 AM daily
	}

	cfg.CronSpecDueDigest = os.Getenv("CRON_SPEC_DUE_DIGEST")
	if cfg.CronSpecDueDigest == "" {
		cfg.CronSpecDueDigest = "0 9 * * *" // Default: 9 AM daily
	}

	cfg.DigestLimit, err = intFromEnv("DIGEST_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	cfg.TxMaxRetries, err = intFromEnv("TX_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func intFromEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// ParseStaffAccounts reads "telegramID:userID" pairs separated by commas.
func ParseStaffAccounts(raw string) (map[int64]int64, error) {
	accounts := make(map[int64]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tgStr, userStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid STAFF_ACCOUNTS entry %q: want telegramID:userID", pair)
		}
		tgID, err := strconv.ParseInt(strings.TrimSpace(tgStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram ID in STAFF_ACCOUNTS entry %q: %w", pair, err)
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(userStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID in STAFF_ACCOUNTS entry %q: %w", pair, err)
		}
		accounts[tgID] = userID
	}
	return accounts, nil
}
