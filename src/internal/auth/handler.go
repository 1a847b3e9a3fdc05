package auth

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"sso-session-svc/src/internal/middleware"
	"sso-session-svc/src/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	RefreshTokenCookie = "refreshToken"
	SessionIDCookie    = "sessionId"
)

type CookieConfig struct {
	Domain     string
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type Handler interface {
	Login(c *gin.Context)
	Refresh(c *gin.Context)
	Logout(c *gin.Context)
	LogoutAll(c *gin.Context)
	CurrentSession(c *gin.Context)
	Verify(c *gin.Context)
}

type handler struct {
	service Service
	cookies CookieConfig
	timeout time.Duration
}

func NewHandler(service Service, cookies CookieConfig, timeout time.Duration) Handler {
	return &handler{service: service, cookies: cookies, timeout: timeout}
}

func metadata(c *gin.Context) models.SessionMetadata {
	return models.SessionMetadata{
		UserAgent: c.Request.UserAgent(),
		Address:   c.ClientIP(),
	}
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *handler) Login(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": "email and password are required",
		})
		return
	}

	result, err := h.service.Login(ctx, LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Meta:     metadata(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.setTokenCookies(c, result.Tokens)
	h.setCookie(c, SessionIDCookie, result.Session.SessionID, h.cookies.SessionTTL)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"user":    result.User,
			"session": result.Session,
			"tokens":  result.Tokens,
		},
		"message": "Login successful",
	})
}

func (h *handler) Refresh(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	presented, _ := c.Cookie(RefreshTokenCookie)
	if presented == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			presented = req.RefreshToken
		}
	}
	if presented == "" {
		respondError(c, models.ErrTokenInvalid)
		return
	}

	pair, err := h.service.Refresh(ctx, presented, metadata(c))
	if err != nil {
		if errors.Is(err, models.ErrTokenInvalid) || errors.Is(err, models.ErrTokenReuseDetected) {
			h.clearCookies(c)
		}
		respondError(c, err)
		return
	}

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    pair,
	})
}

func (h *handler) Logout(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	claims := middleware.Claims(c)
	if err := h.service.Logout(ctx, claims.UserID, claims.SessionID); err != nil {
		respondError(c, err)
		return
	}

	h.clearCookies(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out",
	})
}

func (h *handler) LogoutAll(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	claims := middleware.Claims(c)
	count, err := h.service.LogoutAll(ctx, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.clearCookies(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"terminated": count},
		"message": "Logged out from all devices",
	})
}

func (h *handler) CurrentSession(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	claims := middleware.Claims(c)
	sess, err := h.service.ValidateSession(ctx, claims.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sess,
	})
}

func (h *handler) Verify(c *gin.Context) {
	claims := middleware.Claims(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"userId":      claims.UserID,
			"sessionId":   claims.SessionID,
			"email":       claims.Email,
			"role":        claims.Role,
			"permissions": claims.Permissions,
			"expiresAt":   claims.ExpiresAt.Time,
		},
	})
}

func (h *handler) setTokenCookies(c *gin.Context, pair *models.TokenPair) {
	h.setCookie(c, middleware.AccessTokenCookie, pair.AccessToken, h.cookies.AccessTTL)
	h.setCookie(c, RefreshTokenCookie, pair.RefreshToken, h.cookies.RefreshTTL)
}

func (h *handler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(ttl/time.Second), "/", h.cookies.Domain, h.cookies.Secure, true)
}

func (h *handler) clearCookies(c *gin.Context) {
	for _, name := range []string{middleware.AccessTokenCookie, RefreshTokenCookie, SessionIDCookie} {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(name, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
	}
}

// respondError maps the error taxonomy onto HTTP. Unknown accounts and wrong
// passwords share one response.
func respondError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"

	switch {
	case errors.Is(err, models.ErrStoreUnavailable):
		status, code, message = http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable, please retry"
	case errors.Is(err, models.ErrTokenReuseDetected):
		status, code, message = http.StatusUnauthorized, "TOKEN_REUSE_DETECTED", "Session revoked for security reasons, please log in again"
	case errors.Is(err, models.ErrInvalidCredentials):
		status, code, message = http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"
	case errors.Is(err, models.ErrTokenInvalid),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrAccessTokenInvalid):
		status, code, message = http.StatusUnauthorized, "SESSION_EXPIRED", "Please log in again"
	case errors.Is(err, models.ErrAccountLocked):
		status, code, message = http.StatusLocked, "ACCOUNT_LOCKED", "Account is temporarily locked"
	case errors.Is(err, models.ErrThrottledByAddress):
		status, code, message = http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many login attempts, please try again later"
	case errors.Is(err, models.ErrAccountInactive):
		status, code, message = http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is not active"
	case errors.Is(err, models.ErrEmailNotVerified):
		status, code, message = http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email address is not verified"
	}

	if after, ok := models.RetryAfter(err); ok && (status == http.StatusLocked || status == http.StatusTooManyRequests) {
		c.Header("Retry-After", strconv.Itoa(max(int(math.Ceil(after.Seconds())), 1)))
	}

	entry := logrus.WithError(err).WithFields(logrus.Fields{
		"status": status,
		"code":   code,
		"path":   c.FullPath(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
