package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/payments")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PAYMOB_API_KEY", "api-key")
	t.Setenv("PAYMOB_HMAC_SECRET", "hmac-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "EGP", cfg.Paymob.DefaultCurrency)
	assert.Equal(t, 50*time.Minute, cfg.Paymob.AuthTokenTTL)
	assert.Equal(t, 3, cfg.Paymob.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Paymob.RetryBaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Paymob.RetryMaxDelay)
	assert.Equal(t, time.Hour, cfg.Paymob.PaymentKeyTTL)
	assert.True(t, cfg.Reconcile.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMOB_AUTH_TOKEN_TTL", "30m")
	t.Setenv("PAYMOB_PAYMENT_KEY_TTL", "600")
	t.Setenv("PAYMOB_CARD_INTEGRATION_ID", "4455")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Paymob.AuthTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Paymob.PaymentKeyTTL)
	assert.Equal(t, 4455, cfg.Paymob.CardIntegrationID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL"},
		{"missing jwt", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET"},
		{"missing api key", func(c *Config) { c.Paymob.APIKey = "" }, "PAYMOB_API_KEY"},
		{"missing hmac", func(c *Config) { c.Paymob.HMACSecret = "" }, "PAYMOB_HMAC_SECRET"},
		{"negative retries", func(c *Config) { c.Paymob.MaxRetries = -1 }, "PAYMOB_MAX_RETRIES"},
		{"bad currency", func(c *Config) { c.Paymob.DefaultCurrency = "EURO" }, "PAYMOB_DEFAULT_CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Database: DatabaseConfig{URL: "postgres://x"},
				JWT:      JWTConfig{Secret: "s"},
				Paymob:   PaymobConfig{APIKey: "k", HMACSecret: "h", DefaultCurrency: "EGP"},
			}
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
