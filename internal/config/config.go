package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Paymob PaymobConfig

	// Background reconciliation configuration
	Reconcile ReconcileConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymobConfig holds the card/wallet/Apple Pay gateway configuration
type PaymobConfig struct {
	BaseURL      string
	IntentionURL string
	CheckoutURL  string // unified checkout page for intentions
	APIKey       string // exchanged for short-lived auth tokens (SECRET)
	SecretKey    string // intention API "Token" credential (SECRET)
	PublicKey    string
	HMACSecret   string // webhook signing secret, hex or plain text (SECRET)

	IframeID              int
	CardIntegrationID     int
	WalletIntegrationID   int
	ApplePayIntegrationID int
	MotoIntegrationID     int // saved-card (tokenized) charges

	DefaultCurrency string
	PaymentKeyTTL   time.Duration
	AuthTokenTTL    time.Duration
	HTTPTimeout     time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ReconcileConfig controls the stale order sweep
type ReconcileConfig struct {
	Enabled    bool
	Schedule   string // robfig/cron spec with seconds field
	StaleAfter time.Duration
	Lookback   time.Duration
	BatchSize  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
			Issuer:            getEnv("JWT_ISSUER", "chargeup-payments"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Paymob: PaymobConfig{
			BaseURL:      getEnv("PAYMOB_BASE_URL", "https://accept.paymob.com/api"),
			IntentionURL: getEnv("PAYMOB_INTENTION_URL", "https://accept.paymob.com/v1/intention/"),
			CheckoutURL:  getEnv("PAYMOB_CHECKOUT_URL", "https://accept.paymob.com/unifiedcheckout/"),
			APIKey:       getEnv("PAYMOB_API_KEY", ""),
			SecretKey:    getEnv("PAYMOB_SECRET_KEY", ""),
			PublicKey:    getEnv("PAYMOB_PUBLIC_KEY", ""),
			HMACSecret:   getEnv("PAYMOB_HMAC_SECRET", ""),

			IframeID:              getEnvAsInt("PAYMOB_IFRAME_ID", 0),
			CardIntegrationID:     getEnvAsInt("PAYMOB_CARD_INTEGRATION_ID", 0),
			WalletIntegrationID:   getEnvAsInt("PAYMOB_WALLET_INTEGRATION_ID", 0),
			ApplePayIntegrationID: getEnvAsInt("PAYMOB_APPLEPAY_INTEGRATION_ID", 0),
			MotoIntegrationID:     getEnvAsInt("PAYMOB_MOTO_INTEGRATION_ID", 0),

			DefaultCurrency: getEnv("PAYMOB_DEFAULT_CURRENCY", "EGP"),
			PaymentKeyTTL:   time.Duration(getEnvAsInt("PAYMOB_PAYMENT_KEY_TTL", 3600)) * time.Second,
			AuthTokenTTL:    getEnvAsDuration("PAYMOB_AUTH_TOKEN_TTL", 50*time.Minute),
			HTTPTimeout:     getEnvAsDuration("PAYMOB_HTTP_TIMEOUT", 30*time.Second),

			MaxRetries:     getEnvAsInt("PAYMOB_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvAsDuration("PAYMOB_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:  getEnvAsDuration("PAYMOB_RETRY_MAX_DELAY", 8*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:    getEnvAsBool("RECONCILE_ENABLED", true),
			Schedule:   getEnv("RECONCILE_SCHEDULE", "0 */5 * * * *"),
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
			Lookback:   getEnvAsDuration("RECONCILE_LOOKBACK", 48*time.Hour),
			BatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Paymob.APIKey == "" {
		return fmt.Errorf("PAYMOB_API_KEY is required")
	}

	if c.Paymob.HMACSecret == "" {
		return fmt.Errorf("PAYMOB_HMAC_SECRET is required")
	}

	if c.Paymob.MaxRetries < 0 {
		return fmt.Errorf("PAYMOB_MAX_RETRIES must not be negative")
	}

	if len(c.Paymob.DefaultCurrency) != 3 {
		return fmt.Errorf("PAYMOB_DEFAULT_CURRENCY must be an ISO 4217 code, got %q", c.Paymob.DefaultCurrency)
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("50m") or bare seconds ("3000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
