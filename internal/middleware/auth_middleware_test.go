package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chargeup/payment-engine/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestJWTService() *jwt.Service {
	return jwt.NewService("test-access-secret-key-123456789", "test", time.Hour)
}

func setupTestRouter(jwtService *jwt.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/protected", AuthMiddleware(jwtService, logger), func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userCtx.UserID, "email": userCtx.Email})
	})
	router.GET("/admin", AuthMiddleware(jwtService, logger), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter(jwtService)

	token, err := jwtService.GenerateAccessToken("42", "mona@example.com", []string{"customer"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "42", body["user_id"])
	assert.Equal(t, "mona@example.com", body["email"])
}

func TestAuthMiddleware_Failures(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter(jwtService)

	expired, err := jwt.NewService("test-access-secret-key-123456789", "test", -time.Hour).GenerateAccessToken("42", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "MISSING_AUTH_HEADER"},
		{"wrong scheme", "Basic abc", "INVALID_AUTH_FORMAT"},
		{"empty token", "Bearer   ", "INVALID_AUTH_FORMAT"},
		{"garbage token", "Bearer invalid.token.here", "INVALID_TOKEN"},
		{"truncated token", "Bearer abc", "INVALID_TOKEN"},
		{"expired token", "Bearer " + expired, "TOKEN_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter(jwtService)

	customer, _ := jwtService.GenerateAccessToken("42", "", []string{"customer"})
	admin, _ := jwtService.GenerateAccessToken("1", "", []string{"admin"})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGetUserContext_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetUserContext(c)
	assert.False(t, ok)

	c.Set(UserContextKey, UserContext{})
	_, ok = GetUserContext(c)
	assert.False(t, ok, "empty user id is not an identity")
}
