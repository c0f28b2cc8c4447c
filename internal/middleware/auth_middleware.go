package middleware

import (
	"net/http"
	"strings"

	"github.com/chargeup/payment-engine/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated caller
type UserContext struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
}

// AuthMiddleware creates a middleware that validates JWT tokens
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.WithFields(fields).Warn("Auth failed: missing authorization header")
			abortUnauthorized(c, "unauthorized", "Authorization header is required", "MISSING_AUTH_HEADER")
			return
		}

		// Check Bearer token format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			logger.WithFields(fields).Warn("Auth failed: invalid authorization format")
			abortUnauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			return
		}
		tokenString := strings.TrimSpace(parts[1])

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwtService.IsTokenExpired(tokenString) {
				logger.WithFields(fields).Info("Auth failed: token expired")
				abortUnauthorized(c, "token_expired", "Access token has expired. Please refresh your token.", "TOKEN_EXPIRED")
			} else {
				logger.WithFields(fields).WithError(err).Warn("Auth failed: invalid token")
				abortUnauthorized(c, "invalid_token", "Invalid access token", "INVALID_TOKEN")
			}
			return
		}

		c.Set(UserContextKey, UserContext{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
		})

		c.Next()
	}
}

// RequireRole creates a middleware that checks if user has required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "unauthorized", "User context not found. Auth middleware may not be applied.", "MISSING_USER_CONTEXT")
			return
		}

		for _, required := range roles {
			for _, role := range userCtx.Roles {
				if role == required {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok || userCtx.UserID == "" {
		return UserContext{}, false
	}

	return userCtx, true
}

func abortUnauthorized(c *gin.Context, errCode, message, code string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   errCode,
		"message": message,
		"code":    code,
	})
	c.Abort()
}
