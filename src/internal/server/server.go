package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/config"
	"sso-session-svc/src/internal/dependency"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "server")

const shutdownTimeout = 15 * time.Second

type Server struct {
	cfg    *config.Configuration
	router *gin.Engine
}

func New(cfg *config.Configuration) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	return &Server{cfg: cfg, router: router}
}

// Start connects the backing stores, serves HTTP until SIGINT or SIGTERM and
// then shuts down gracefully, closing every client it opened.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongodb, err := clients.NewMongoDB(ctx, &s.cfg.Database)
	if err != nil {
		return err
	}
	defer closeMongo(mongodb)

	redisClient, err := clients.NewRedis(ctx, &s.cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	var rabbitMQ *clients.RabbitMQ
	if s.cfg.Events.Driver == dependency.DriverRabbitMQ {
		rabbitMQ, err = clients.NewRabbitMQ(&s.cfg.Queue.RabbitMQ)
		if err != nil {
			return err
		}
		defer func() { _ = rabbitMQ.Close() }()
	}

	deps := dependency.NewDependencyManager(s.router, mongodb, redisClient, rabbitMQ, s.cfg)
	defer func() { _ = deps.Bus.Close() }()

	subscription, err := subscribeSessionEvents(ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	defer func() { _ = subscription.Close() }()

	SetupRoutes(deps)

	srv := &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
		return err
	}

	log.Info("Server stopped")
	return nil
}

func closeMongo(mongodb *clients.MongoDB) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = mongodb.Close(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"latency":  time.Since(start),
			"address":  c.ClientIP(),
			"route_id": c.GetString("route_name"),
		}).Debug("Request handled")
	}
}
