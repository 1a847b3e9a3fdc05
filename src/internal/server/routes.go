package server

import (
	"net/http"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/dependency"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func SetupRoutes(deps *dependency.Manager) {
	router := deps.Router
	router.Use(enableCORS)

	setupHealthEndpoint(deps)
	setupAuthRoutes(router, deps)
	setupAdminRoutes(router, deps)
}

func setupHealthEndpoint(deps *dependency.Manager) {
	router := deps.Router
	mongodb := deps.Mongodb
	redisClient := deps.Redis
	cfg := deps.Config

	router.GET("/health", func(c *gin.Context) {
		mongoStatus := getStatus(isMongoConnected(mongodb, c))
		redisStatus := getStatus(isRedisConnected(redisClient.Client, c))

		status, code := "ok", http.StatusOK
		if redisStatus != "connected" {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"service":   cfg.App.Name,
			"version":   cfg.App.Version,
			"instance":  deps.InstanceID,
			"events":    cfg.Events.Driver,
			"mongodb":   mongoStatus,
			"redis":     redisStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func setupAuthRoutes(router *gin.Engine, deps *dependency.Manager) {
	handler := deps.AuthHandler
	authMiddleware := deps.AuthMiddleware

	authGroup := router.Group("/api/v1/auth")
	authGroup.Use(deps.RateLimiter.Middleware())
	{
		authGroup.POST("/login", setRouteName("login"), handler.Login)
		authGroup.POST("/refresh", setRouteName("refresh"), handler.Refresh)

		authGroup.POST("/logout",
			setRouteName("logout"),
			authMiddleware.RequireAuth(),
			handler.Logout)

		authGroup.POST("/logout-all",
			setRouteName("logoutAll"),
			authMiddleware.RequireAuth(),
			handler.LogoutAll)

		authGroup.GET("/session",
			setRouteName("currentSession"),
			authMiddleware.RequireAuth(),
			handler.CurrentSession)

		authGroup.GET("/verify",
			setRouteName("verify"),
			authMiddleware.RequireAuth(),
			handler.Verify)
	}
}

func setupAdminRoutes(router *gin.Engine, deps *dependency.Manager) {
	authMiddleware := deps.AuthMiddleware
	handler := deps.UserHandler

	// Apply route name FIRST, then auth middlewares
	admin := router.Group("/api/v1/admin")
	{
		admin.GET("/users/:id",
			setRouteName("getUser"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			handler.GetUser)

		admin.GET("/users/:id/sessions",
			setRouteName("listUserSessions"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			handler.ListSessions)

		admin.GET("/users/:id/sessions/count",
			setRouteName("countUserSessions"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			handler.CountSessions)

		admin.GET("/users/:id/sessions/capacity",
			setRouteName("userSessionCapacity"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			handler.SessionCapacity)

		admin.DELETE("/users/:id/sessions",
			setRouteName("terminateUserSessions"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			handler.TerminateSessions)
	}
}

func setRouteName(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("route_name", name)
		c.Next()
	}
}

func isMongoConnected(mongodb *clients.MongoDB, c *gin.Context) bool {
	if err := mongodb.Client.Ping(c.Request.Context(), nil); err != nil {
		return false
	}
	return true
}

func isRedisConnected(redisClient *redis.Client, c *gin.Context) bool {
	if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
		return false
	}
	return true
}

func enableCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

func getStatus(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}
