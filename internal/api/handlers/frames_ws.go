package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"frame-grabber-go/internal/logging"
	"frame-grabber-go/internal/models"
)

// FramesHandler upgrades browsers and tools to websocket frame subscribers.
// Each connection is a registry member and receives the same cap:<ts> lines
// as protocol subscribers, one text message per frame.
type FramesHandler struct {
	registry     Registry
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	active  map[string]*wsSubscriber
	closing bool
	wg      sync.WaitGroup
}

// Registry is the part of *registry.Registry the handler needs.
type Registry interface {
	Add(c models.Client) bool
	RemoveID(id string) bool
}

func NewFramesHandler(reg Registry, writeTimeout time.Duration) *FramesHandler {
	return &FramesHandler{
		registry:     reg,
		active:       make(map[string]*wsSubscriber),
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// @Summary Frame notifications
// @Description Websocket stream of cap:<timestamp_ns> messages, one per published frame
// @Tags frames
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/frames [get]
func (h *FramesHandler) Subscribe(c *gin.Context) {
	reqLog := logging.Request(c)
	if h.isClosing() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "shutting down"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		reqLog.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := &wsSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		peer:         c.ClientIP(),
		writeTimeout: h.writeTimeout,
	}
	// CloseAll may have run while the upgrade was in flight
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		sub.closeWith(websocket.CloseGoingAway)
		reqLog.Debug().Msg("Websocket subscriber rejected during shutdown")
		return
	}
	h.wg.Add(1)
	h.active[sub.id] = sub
	h.mu.Unlock()
	defer h.wg.Done()
	h.registry.Add(sub)
	reqLog.Info().Str("client_id", sub.id).Str("peer", sub.peer).Msg("Websocket subscriber connected")

	// reads only detect the close, inbound messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.registry.RemoveID(sub.id)
	h.mu.Lock()
	delete(h.active, sub.id)
	h.mu.Unlock()
	sub.close()
	reqLog.Info().Str("client_id", sub.id).Dur("connected_for", logging.Elapsed(c)).Msg("Websocket subscriber disconnected")
}

// Active is the number of connected websocket subscribers.
func (h *FramesHandler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *FramesHandler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// CloseAll closes every websocket subscriber and waits for their handlers.
// Later upgrades are refused. http.Server.Shutdown does not track hijacked
// connections.
func (h *FramesHandler) CloseAll() {
	h.mu.Lock()
	h.closing = true
	subs := make([]*wsSubscriber, 0, len(h.active))
	for _, sub := range h.active {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	h.wg.Wait()
}

type wsSubscriber struct {
	id           string
	peer         string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) ID() string         { return s.id }
func (s *wsSubscriber) RemoteAddr() string { return s.peer }

func (s *wsSubscriber) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (s *wsSubscriber) close() { s.closeWith(websocket.CloseNormalClosure) }

func (s *wsSubscriber) closeWith(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	s.conn.Close()
}
