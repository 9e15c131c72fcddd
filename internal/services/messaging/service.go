// Package messaging publishes frame and session events to NATS for consumers
// outside the local host.
package messaging

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/config"
	"frame-grabber-go/internal/models"
)

type Service struct {
	conn    *nats.Conn
	publish func(subject string, data []byte) error

	frameSubject   string
	sessionSubject string

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewService(cfg *config.Config) (*Service, error) {
	opts := []nats.Option{
		nats.Name("frame-grabber-" + cfg.GrabberID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	s := newService(cfg.NatsSubjectPrefix, conn.Publish)
	s.conn = conn
	return s, nil
}

func newService(prefix string, publish func(subject string, data []byte) error) *Service {
	return &Service{
		publish:        publish,
		frameSubject:   prefix + ".frames",
		sessionSubject: prefix + ".session",
	}
}

func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.publish(subject, payload)
}

// PublishFrame is called from the acquisition loop for every published frame.
// Failures are counted, never propagated.
func (s *Service) PublishFrame(event models.FrameEvent) {
	if err := s.Publish(s.frameSubject, event); err != nil {
		if s.failed.Add(1) == 1 {
			log.Warn().Err(err).Str("subject", s.frameSubject).Msg("Failed to publish frame event")
		}
		return
	}
	s.published.Add(1)
}

func (s *Service) PublishSession(event models.SessionEvent) {
	if err := s.Publish(s.sessionSubject, event); err != nil {
		s.failed.Add(1)
		log.Warn().Err(err).Str("subject", s.sessionSubject).Str("verb", event.Verb).Msg("Failed to publish session event")
		return
	}
	s.published.Add(1)
}

func (s *Service) Published() uint64 { return s.published.Load() }
func (s *Service) Failed() uint64    { return s.failed.Load() }

func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn != nil {
		// Try graceful drain, fallback to immediate close
		if err := s.conn.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
			s.conn.Close()
		}
	}
	return nil
}
