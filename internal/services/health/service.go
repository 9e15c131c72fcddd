// Package health exposes the session state over the standard gRPC health protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"frame-grabber-go/internal/models"
)

const (
	ServiceAcquisition = "grabber.acquisition"
	ServiceDevice      = "grabber.device"
)

// StatusSource is satisfied by *session.Session.
type StatusSource interface {
	Snapshot() models.SessionSnapshot
}

type Service struct {
	address  string
	interval time.Duration
	source   StatusSource
	logger   zerolog.Logger

	health   *health.Server
	server   *grpc.Server
	listener net.Listener
}

func NewService(address string, interval time.Duration, source StatusSource, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Service{
		address:  address,
		interval: interval,
		source:   source,
		logger:   logger,
		health:   hs,
		server:   gs,
	}
	s.Refresh()
	return s
}

func (s *Service) Listen() error {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.address, err)
	}
	s.listener = l
	s.logger.Info().Str("address", l.Addr().String()).Msg("gRPC health service listening")
	return nil
}

func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Refresh maps the session snapshot onto serving statuses.
func (s *Service) Refresh() {
	snap := s.source.Snapshot()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceDevice, servingIf(snap.DeviceOpen))
	s.health.SetServingStatus(ServiceAcquisition, servingIf(snap.Streaming))
}

func servingIf(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Run serves until ctx is done, refreshing statuses every interval.
func (s *Service) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.server.Serve(s.listener) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case err := <-serveErr:
			return fmt.Errorf("health server: %w", err)
		case <-ticker.C:
			s.Refresh()
		}
	}
}

func (s *Service) stop() {
	// flips every status to NOT_SERVING so watchers see the shutdown
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn().Msg("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
	s.logger.Info().Msg("gRPC health service stopped")
}
