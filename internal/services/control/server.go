// Package control implements the line protocol front end: the listener, one
// handler per connection and the bounded command queue they feed.
package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"frame-grabber-go/internal/models"
)

// MaxLineBytes bounds a single unterminated command line.
const MaxLineBytes = 64 * 1024

type Options struct {
	Network      string
	Address      string
	Greeting     string
	PollInterval time.Duration
	WriteTimeout time.Duration
}

// Server accepts protocol connections and funnels their commands into a Queue.
type Server struct {
	opts   Options
	queue  *Queue
	logger zerolog.Logger

	listener net.Listener

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

func NewServer(opts Options, queue *Queue, logger zerolog.Logger) *Server {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return &Server{
		opts:    opts,
		queue:   queue,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Listen binds the listener. A stale unix socket file is removed first.
func (s *Server) Listen() error {
	if strings.HasPrefix(s.opts.Network, "unix") {
		if err := os.Remove(s.opts.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", s.opts.Address, err)
		}
	}
	l, err := net.Listen(s.opts.Network, s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.opts.Network, s.opts.Address, err)
	}
	s.listener = l
	s.logger.Info().
		Str("network", s.opts.Network).
		Str("address", l.Addr().String()).
		Msg("Command server listening")
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections is the number of live protocol connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Serve runs the accept loop until ctx is done, then closes the listener and
// every connection and joins all handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	dl, _ := s.listener.(deadliner)

	defer func() {
		s.listener.Close()
		s.closeAll()
		s.wg.Wait()
		s.logger.Info().Msg("Command server stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if dl != nil {
			_ = dl.SetDeadline(time.Now().Add(s.opts.PollInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error().Err(err).Msg("Accept failed")
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}

		client := newClient(conn, s.opts.WriteTimeout, s.logger)
		s.track(client)
		s.wg.Add(1)
		go s.handle(ctx, client)
	}
}

func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// handle reads one connection with a short deadline so shutdown stays
// responsive, reassembles lines and pushes one command per line.
func (s *Server) handle(ctx context.Context, c *Client) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Client handler panic recovered")
		}
		c.Close()
		s.untrack(c)
	}()

	c.logger.Info().Msg("Client connected")
	if s.opts.Greeting != "" {
		if err := c.Send(s.opts.Greeting); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send greeting")
			return
		}
	}

	buf := make([]byte, 4096)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(s.opts.PollInterval)); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection closed")
			return
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(pending[:i])
				pending = pending[i+1:]
				if strings.TrimSpace(line) == "" {
					continue
				}
				cmd := models.ParseCommand(line, c)
				if err := s.queue.Push(ctx, cmd); err != nil {
					c.logger.Debug().Err(err).Str("verb", cmd.Verb).Msg("Command not queued, handler exiting")
					return
				}
				c.logger.Debug().Str("verb", cmd.Verb).Msg("Command queued")
			}
			if len(pending) > MaxLineBytes {
				c.logger.Warn().Int("bytes", len(pending)).Msg("Command line too long, dropping connection")
				return
			}
		}

		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				continue
			case errors.Is(err, io.EOF):
				c.logger.Info().Msg("Client disconnected")
			case errors.Is(err, net.ErrClosed):
				c.logger.Debug().Msg("Client connection closed")
			default:
				c.logger.Info().Err(err).Msg("Client connection reset")
			}
			return
		}
	}
}
