package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/webhook", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"public x-real-ip", map[string]string{"X-Real-IP": "41.33.1.2"}, "41.33.1.2"},
		{"first public forwarded", map[string]string{"X-Forwarded-For": "10.1.1.1, 41.33.1.2, 8.8.8.8"}, "41.33.1.2"},
		{"all private forwarded", map[string]string{"X-Forwarded-For": "192.168.1.4, 10.1.1.1"}, "192.168.1.4"},
		{"private x-real-ip ignored", map[string]string{"X-Real-IP": "10.2.2.2", "X-Forwarded-For": "41.33.1.2"}, "41.33.1.2"},
		{"remote addr fallback", nil, "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetRealIP(newContext(tt.headers)))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	info := ParseUserAgent("Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36")
	assert.Equal(t, "mobile", info.DeviceType)
	assert.Contains(t, info.OS, "Android")
	assert.Contains(t, info.Browser, "Chrome")
	assert.False(t, info.IsBot)

	unknown := ParseUserAgent("")
	assert.Equal(t, "unknown", unknown.DeviceType)
	assert.Equal(t, "unknown; Unknown; Unknown", unknown.String())
}

func TestGenerateServiceSecrets(t *testing.T) {
	jwtSecret, hmacSecret, err := GenerateServiceSecrets()
	require.NoError(t, err)
	assert.Len(t, jwtSecret, 64)
	assert.Len(t, hmacSecret, 128)
	assert.NotEqual(t, jwtSecret, hmacSecret[:64])
}
