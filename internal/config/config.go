package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSheetID is the spreadsheet the sales team fills every month.
const DefaultSheetID = "1p9SXOZUmArwINrMUdOlmQrGc3BcMT4Zh6S-pIL8xxXc"

type Config struct {
	// HTTP Server
	Port string

	// Backend selection: csv (public export), sheets (API) or memory (fixtures)
	DataBackend string

	// Spreadsheet
	SheetID              string
	SheetsExportBaseURL  string
	FixturesDir          string
	MonthsFile           string
	GoogleServiceAccount string
	GoogleServiceFile    string
	GoogleAPIKey         string

	// Dashboard
	DefaultBudget float64
	FetchTimeout  time.Duration
	CacheTTL      time.Duration
	CacheSize     int

	// Worker
	RefreshSchedule string

	// AMQP (optional refresh broadcast)
	AMQPURL      string
	AMQPExchange string

	// Middleware
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DataBackend: getEnv("DATA_BACKEND", "csv"),

		SheetID:              getEnv("SHEET_ID", DefaultSheetID),
		SheetsExportBaseURL:  getEnv("SHEETS_EXPORT_BASE_URL", "https://docs.google.com"),
		FixturesDir:          getEnv("FIXTURES_DIR", "data"),
		MonthsFile:           getEnv("MONTHS_FILE", ""),
		GoogleServiceAccount: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceFile:    getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleAPIKey:         getEnv("GOOGLE_API_KEY", ""),

		DefaultBudget: getEnvFloat("DEFAULT_BUDGET", 150000),
		FetchTimeout:  getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize:     getEnvInt("CACHE_SIZE", 24),

		RefreshSchedule: getEnv("REFRESH_SCHEDULE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ventas.refresh"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"csv", "sheets", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "csv":
		if strings.TrimSpace(c.SheetID) == "" {
			errors = append(errors, "SHEET_ID is required when using csv backend")
		}
		if u, err := url.Parse(c.SheetsExportBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid SHEETS_EXPORT_BASE_URL '%s': must be an http(s) URL", c.SheetsExportBaseURL))
		}
	case "sheets":
		if strings.TrimSpace(c.SheetID) == "" {
			errors = append(errors, "SHEET_ID is required when using sheets backend")
		}
		if c.GoogleServiceAccount == "" && c.GoogleServiceFile == "" && c.GoogleAPIKey == "" {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_API_KEY must be provided for sheets backend")
		}
		if c.GoogleServiceFile != "" {
			if _, err := os.Stat(c.GoogleServiceFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceFile))
			}
		}
	case "memory":
		if c.FixturesDir == "" {
			errors = append(errors, "FIXTURES_DIR cannot be empty when using memory backend")
		}
	}

	if c.MonthsFile != "" {
		if _, err := os.Stat(c.MonthsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("months file does not exist: %s", c.MonthsFile))
		}
	}

	if c.DefaultBudget < 0 {
		errors = append(errors, fmt.Sprintf("invalid default budget %v: must not be negative", c.DefaultBudget))
	}
	if c.FetchTimeout < time.Second || c.FetchTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be between 1s and 2m", c.FetchTimeout))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache ttl %v: must not be negative", c.CacheTTL))
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}

	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid refresh schedule '%s': %v", c.RefreshSchedule, err))
		}
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
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ServiceAccountJSON returns the inline credentials or the content of the
// credentials file, nil when neither is configured.
func (c *Config) ServiceAccountJSON() ([]byte, error) {
	if c.GoogleServiceAccount != "" {
		return []byte(c.GoogleServiceAccount), nil
	}
	if c.GoogleServiceFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.GoogleServiceFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
