// Package api serves the read-mostly HTTP surface next to the line protocol:
// health, session status, websocket frame notifications and swagger docs.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/api/handlers"
	"frame-grabber-go/internal/config"
)

// Deps are the services the handlers read from.
type Deps struct {
	Session  handlers.SessionReader
	Stats    handlers.PipelineStats
	Registry handlers.Registry
}

type Server struct {
	config   *config.Config
	router   *gin.Engine
	server   *http.Server
	listener net.Listener

	healthHandler *handlers.HealthHandler
	statusHandler *handlers.StatusHandler
	framesHandler *handlers.FramesHandler
	systemHandler *handlers.SystemHandler
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	s := &Server{
		config:        cfg,
		router:        router,
		healthHandler: handlers.NewHealthHandler(cfg.GrabberID, cfg.Version),
		statusHandler: handlers.NewStatusHandler(deps.Session, deps.Stats),
		framesHandler: handlers.NewFramesHandler(deps.Registry, cfg.WriteTimeout),
		systemHandler: handlers.NewSystemHandler(cfg.GrabberID, cfg.ListenNetwork+"://"+cfg.ListenAddress),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:              s.config.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.config.HTTPAddress)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.config.HTTPAddress, err)
	}
	s.listener = l
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is done, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.Info().Str("address", s.listener.Addr().String()).Msg("Starting grabber HTTP API")

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.server.Serve(s.listener) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Stopping grabber HTTP API")
	err := s.server.Shutdown(shutdownCtx)
	s.framesHandler.CloseAll()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
