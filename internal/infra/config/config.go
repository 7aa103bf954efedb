package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// minHorizon covers the widest reminder window plus a polling interval, so appointments
// never age out of the reconcile window before their confirmation reminder is due.
const minHorizon = 26 * time.Hour

// YClientsConfig holds booking API settings.
type YClientsConfig struct {
	APIURL       string
	PartnerToken string
	UserToken    string
	CompanyID    int64
	RateLimit    float64 // requests per second
	PageSize     int
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken     string
	BotUsername       string
	AgentGatewayURL   string
	AgentGatewayToken string
	DatabaseURL       string
	DatabaseDriver    string
	AdminTelegramID   int64
	LogLevel          string
	Environment       string
	Timezone          *time.Location
	BusinessName      string
	HTTPAddr          string // empty disables the ops HTTP server

	YClients YClientsConfig

	CronSpecReconcile     string
	CronSpecReminders     string
	CronSpecReviews       string
	CronSpecLostCustomers string

	ReconcileHorizon  time.Duration
	ReconcileLookback time.Duration
	IdentityCacheTTL  time.Duration
	MaxRetryWait      time.Duration
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
	cfg.DatabaseDriver = strings.ToLower(getEnv("DATABASE_DRIVER", "postgres"))

	cfg.TelegramToken = os.Getenv("BOT_TOKEN")
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	}
	cfg.BotUsername = strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@")
	cfg.AgentGatewayURL = strings.TrimRight(os.Getenv("AGENT_GATEWAY_URL"), "/")
	cfg.AgentGatewayToken = os.Getenv("AGENT_GATEWAY_TOKEN")
	if cfg.TelegramToken == "" && cfg.AgentGatewayURL == "" {
		return nil, fmt.Errorf("neither BOT_TOKEN nor AGENT_GATEWAY_URL is set")
	}

	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.YClients.PartnerToken = os.Getenv("YCLIENTS_PARTNER_TOKEN")
	if cfg.YClients.PartnerToken == "" {
		return nil, fmt.Errorf("YCLIENTS_PARTNER_TOKEN is not set")
	}
	cfg.YClients.UserToken = os.Getenv("YCLIENTS_USER_TOKEN")
	if cfg.YClients.UserToken == "" {
		return nil, fmt.Errorf("YCLIENTS_USER_TOKEN is not set")
	}
	companyID := os.Getenv("YCLIENTS_COMPANY_ID")
	if companyID == "" {
		return nil, fmt.Errorf("YCLIENTS_COMPANY_ID is not set")
	}
	cfg.YClients.CompanyID, err = strconv.ParseInt(companyID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid YCLIENTS_COMPANY_ID: %w", err)
	}
	cfg.YClients.APIURL = strings.TrimRight(getEnv("YCLIENTS_API_URL", "https://api.yclients.com/api/v1"), "/")
	if cfg.YClients.RateLimit, err = getFloat("YCLIENTS_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.YClients.PageSize, err = getInt("YCLIENTS_PAGE_SIZE", 200); err != nil {
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

	tz := getEnv("TIMEZONE", "Europe/Moscow")
	cfg.Timezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.BusinessName = getEnv("BUSINESS_NAME", "салон")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	cfg.CronSpecReconcile = getEnv("CRON_SPEC_RECONCILE", "@every 60s")
	cfg.CronSpecReminders = getEnv("CRON_SPEC_REMINDERS", "@every 5m")
	cfg.CronSpecReviews = getEnv("CRON_SPEC_REVIEWS", "@every 30m")
	cfg.CronSpecLostCustomers = getEnv("CRON_SPEC_LOST_CUSTOMERS", "0 10 * * *") // Default: 10:00 AM daily

	if cfg.ReconcileHorizon, err = getDuration("RECONCILE_HORIZON", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReconcileHorizon < minHorizon {
		return nil, fmt.Errorf("RECONCILE_HORIZON must be at least %s, got %s", minHorizon, cfg.ReconcileHorizon)
	}
	if cfg.ReconcileLookback, err = getDuration("RECONCILE_LOOKBACK", 3*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdentityCacheTTL, err = getDuration("IDENTITY_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxRetryWait, err = getDuration("MAX_RETRY_WAIT", 2*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive duration", key, v)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", key, v)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive number", key, v)
	}
	return f, nil
}
