package user

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sso-session-svc/src/internal/config"
	"sso-session-svc/src/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionAdmin is the slice of the authentication service the admin
// endpoints operate on.
type SessionAdmin interface {
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)
	SessionCount(ctx context.Context, userID string) (int, error)
	CheckCapacity(ctx context.Context, userID string) (*models.Capacity, error)
	TerminateSessions(ctx context.Context, userID string) (int, error)
}

type Handler interface {
	GetUser(c *gin.Context)
	ListSessions(c *gin.Context)
	CountSessions(c *gin.Context)
	SessionCapacity(c *gin.Context)
	TerminateSessions(c *gin.Context)
}

type handler struct {
	config   *config.Configuration
	service  Service
	sessions SessionAdmin
}

func NewHandler(cfg *config.Configuration, service Service, sessions SessionAdmin) Handler {
	return &handler{
		config:   cfg,
		service:  service,
		sessions: sessions,
	}
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
}

func (h *handler) GetUser(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	userID := c.Param("id")
	profile, err := h.service.GetProfile(ctx, userID)
	if err != nil {
		h.handleError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    profile,
		"message": "User retrieved successfully",
	})
}

func (h *handler) ListSessions(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	userID := c.Param("id")
	adminID, _ := c.Get("user_id")
	logrus.WithFields(logrus.Fields{
		"admin_user_id": adminID,
		"user_id":       userID,
	}).Info("ListSessions request received")

	sessions, err := h.sessions.ListSessions(ctx, userID)
	if err != nil {
		h.handleError(c, userID, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sessions,
		"message": "Sessions retrieved successfully",
	})
}

func (h *handler) CountSessions(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	userID := c.Param("id")
	count, err := h.sessions.SessionCount(ctx, userID)
	if err != nil {
		h.handleError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"count": count},
	})
}

func (h *handler) SessionCapacity(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	userID := c.Param("id")
	capacity, err := h.sessions.CheckCapacity(ctx, userID)
	if err != nil {
		h.handleError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    capacity,
	})
}

func (h *handler) TerminateSessions(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	userID := c.Param("id")
	adminID, _ := c.Get("user_id")

	count, err := h.sessions.TerminateSessions(ctx, userID)
	if err != nil {
		h.handleError(c, userID, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"admin_user_id": adminID,
		"user_id":       userID,
		"count":         count,
	}).Warn("Admin terminated all user sessions")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"terminated": count},
		"message": "All sessions terminated",
	})
}

func (h *handler) handleError(c *gin.Context, userID string, err error) {
	logrus.WithError(err).WithField("user_id", userID).Error("Admin request failed")

	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "User not found", "No user found with the provided ID")
	case errors.Is(err, models.ErrStoreUnavailable):
		h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session store unavailable", "Please try again later")
	default:
		h.sendErrorResponse(c, http.StatusInternalServerError, "Request failed", "An unexpected error occurred")
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, error, message string) {
	c.JSON(statusCode, gin.H{
		"error":   error,
		"success": false,
		"message": message,
	})
}
