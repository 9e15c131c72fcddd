package control

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"frame-grabber-go/internal/logging"
)

// Client is the handle for one protocol connection. It is the origin of every
// command read from the connection and, once subscribed, a registry member.
type Client struct {
	id   string
	conn net.Conn
	peer string

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool

	logger zerolog.Logger
}

func newClient(conn net.Conn, writeTimeout time.Duration, base zerolog.Logger) *Client {
	id := uuid.NewString()
	peer := conn.RemoteAddr().String()
	if peer == "" || peer == "@" {
		peer = "local:" + id[:8]
	}
	return &Client{
		id:           id,
		conn:         conn,
		peer:         peer,
		writeTimeout: writeTimeout,
		logger:       logging.WithClient(base, id, peer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) RemoteAddr() string { return c.peer }

// Send writes line plus the newline terminator, bounded by the write timeout.
// Writes from the dispatcher and the acquisition loop are serialized.
func (c *Client) Send(line string) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return fmt.Errorf("send to %s: %w", c.peer, err)
	}
	return nil
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
