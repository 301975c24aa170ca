// Package server exposes the webhook endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/pipeline"
)

// maxBodyBytes caps a webhook request body.
const maxBodyBytes = 1 << 20

// Handler processes parsed webhook events. *pipeline.Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, requestID string, events []event.Event) pipeline.Response
}

// Opts holds configuration for the webhook server.
type Opts struct {
	Handler   Handler
	Messenger config.MessengerConfig
	Zalo      config.ZaloConfig
	Server    config.ServerConfig
	Logger    *slog.Logger
}

// Server serves the webhook routes.
type Server struct {
	handler   Handler
	messenger config.MessengerConfig
	zalo      config.ZaloConfig
	cfg       config.ServerConfig
	log       *slog.Logger
	router    *gin.Engine
}

// New creates a Server and registers its routes.
func New(opts Opts) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("server: handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Server.Port <= 0 {
		opts.Server.Port = 8080
	}
	if opts.Server.ReadHeaderTimeout <= 0 {
		opts.Server.ReadHeaderTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Logger))

	s := &Server{
		handler:   opts.Handler,
		messenger: opts.Messenger,
		zalo:      opts.Zalo,
		cfg:       opts.Server,
		log:       opts.Logger,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured port. It blocks until ctx is cancelled,
// then shuts down gracefully, letting in-flight webhooks finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", "error", err)
		}
	}()

	s.log.Info("webhook server listening", "port", s.cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
