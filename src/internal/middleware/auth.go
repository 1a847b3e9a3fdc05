package middleware

import (
	"net/http"
	"strings"

	"sso-session-svc/src/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	ClaimsKey         = "claims"
	AccessTokenCookie = "accessToken"
)

// TokenVerifier checks access tokens without a store round trip.
type TokenVerifier interface {
	VerifyAccessToken(accessToken string) (*token.AccessClaims, error)
}

// AuthMiddleware handles authentication and authorization
type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth validates the access token from the Authorization header or
// the access token cookie.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := m.extractToken(c)
		if accessToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
			})
			return
		}

		claims, err := m.verifier.VerifyAccessToken(accessToken)
		if err != nil {
			logrus.WithError(err).Debug("Access token validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token - please log in again",
			})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)
		c.Set("user_email", claims.Email)
		c.Set("user_role", claims.Role)

		logrus.WithFields(logrus.Fields{
			"user_id":    claims.UserID,
			"session_id": claims.SessionID,
			"user_role":  claims.Role,
		}).Debug("User authenticated successfully")

		c.Next()
	}
}

// RequireAdminRights checks if user has admin privileges
func (m *AuthMiddleware) RequireAdminRights() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			logrus.Error("Claims not found in context - ensure RequireAuth middleware runs first")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if claims.Role != "admin" {
			logrus.WithFields(logrus.Fields{
				"user_id":   claims.UserID,
				"user_role": claims.Role,
			}).Warn("User attempted to access admin endpoint without admin privileges")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access forbidden - admin privileges required",
			})
			return
		}

		c.Next()
	}
}

// Claims returns the verified claims set by RequireAuth, or nil.
func Claims(c *gin.Context) *token.AccessClaims {
	value, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*token.AccessClaims)
	return claims
}

func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			logrus.Debug("Invalid authorization header format")
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		return cookie
	}
	return ""
}
