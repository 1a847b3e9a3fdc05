package dependency

import (
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/auth"
	"sso-session-svc/src/internal/cache"
	"sso-session-svc/src/internal/config"
	"sso-session-svc/src/internal/events"
	"sso-session-svc/src/internal/guard"
	"sso-session-svc/src/internal/middleware"
	"sso-session-svc/src/internal/session"
	"sso-session-svc/src/internal/token"
	"sso-session-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverMemory   = "memory"
)

type Manager struct {
	Router         *gin.Engine
	Config         *config.Configuration
	InstanceID     string
	Mongodb        *clients.MongoDB
	Redis          *clients.RedisClient
	RabbitMQ       *clients.RabbitMQ
	Bus            events.Bus
	UserService    user.Service
	UserHandler    user.Handler
	AuthService    auth.Service
	AuthHandler    auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.AddressLimiter
}

// NewDependencyManager wires the services over already connected clients.
// rabbitMQ may be nil unless the events driver is rabbitmq.
func NewDependencyManager(router *gin.Engine,
	mongodb *clients.MongoDB,
	redisClient *clients.RedisClient,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) *Manager {
	instanceID := uuid.NewString()
	bus := NewEventBus(cfg, redisClient, rabbitMQ, instanceID)

	userRepo := user.NewUserRepository(mongodb, cfg.Database.UserCollection)
	profileCache := cache.NewCacheService(redisClient.Client, cfg.Cache.ProfileTTL())
	userService := user.NewUserService(userRepo, profileCache)

	sessionRepo := session.NewSessionRepository(redisClient.Client, bus, cfg.Session.TTL())
	enforcer := session.NewEnforcer(sessionRepo)

	attemptLog := guard.NewMongoAttemptLog(mongodb, cfg.Database.AttemptCollection)
	guardService := guard.NewGuardService(redisClient.Client, attemptLog, guard.Config{
		Window:             cfg.Login.Window(),
		MaxAccountFailures: cfg.Login.MaxAccountFailures,
		MaxAddressAttempts: cfg.Login.MaxAddressAttempts,
		LockoutDuration:    cfg.Login.LockoutDuration(),
	})

	tokenService := token.NewTokenService(redisClient.Client, token.Config{
		Secret:     cfg.Security.JwtKey,
		Issuer:     cfg.Security.Issuer,
		AccessTTL:  cfg.Security.AccessTTL(),
		RefreshTTL: cfg.Security.RefreshTTL(),
	})

	authService := auth.NewAuthService(userService, guardService, sessionRepo, enforcer, tokenService, auth.Config{
		MaxSessions:              cfg.Session.MaxConcurrentSessions,
		RequireEmailVerification: cfg.Security.RequireEmailVerification,
	})

	authHandler := auth.NewHandler(authService, auth.CookieConfig{
		Domain:     cfg.Server.CookieDomain,
		Secure:     cfg.Server.Mode == gin.ReleaseMode,
		AccessTTL:  cfg.Security.AccessTTL(),
		RefreshTTL: cfg.Security.RefreshTTL(),
		SessionTTL: cfg.Session.TTL(),
	}, time.Duration(cfg.App.Timeout)*time.Second)

	return &Manager{
		Router:         router,
		Config:         cfg,
		InstanceID:     instanceID,
		Mongodb:        mongodb,
		Redis:          redisClient,
		RabbitMQ:       rabbitMQ,
		Bus:            bus,
		UserService:    userService,
		UserHandler:    user.NewHandler(cfg, userService, authService),
		AuthService:    authService,
		AuthHandler:    authHandler,
		AuthMiddleware: middleware.NewAuthMiddleware(authService),
		RateLimiter:    middleware.NewAddressLimiter(cfg.Server.AuthRateLimit),
	}
}

// NewEventBus selects the session event transport from cfg.Events.Driver.
func NewEventBus(cfg *config.Configuration, redisClient *clients.RedisClient, rabbitMQ *clients.RabbitMQ, origin string) events.Bus {
	switch cfg.Events.Driver {
	case DriverRabbitMQ:
		if rabbitMQ != nil {
			return events.NewAMQPBus(rabbitMQ, cfg.Queue.RabbitMQ.Exchange, cfg.Queue.RabbitMQ.Consumer, origin)
		}
		logrus.Warn("RabbitMQ is not connected, falling back to Redis session events")
	case DriverMemory:
		return events.NewMemoryBus(origin)
	case DriverRedis:
	default:
		logrus.WithField("driver", cfg.Events.Driver).Warn("Unknown events driver, using redis")
	}
	return events.NewRedisBus(redisClient.Client, cfg.Events.Channel, origin)
}
