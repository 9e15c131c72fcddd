// Package session holds the state of the one managed device and the dispatcher
// that is its only writer.
package session

import (
	"sync"
	"time"

	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/acquisition"
	"frame-grabber-go/internal/services/framebuffer"
	"frame-grabber-go/internal/services/registry"
)

// Session is mutated only from the dispatcher goroutine. The lock exists for
// Snapshot readers (HTTP, gRPC health) and is never held across device calls.
type Session struct {
	grabberID string
	subs      *registry.Registry

	mu         sync.RWMutex
	deviceOpen bool
	serial     string
	geometry   models.Geometry
	format     models.PixelFormat
	buffer     *framebuffer.Buffer
	loop       *acquisition.Loop
	lastFPS    float64
	lastFrames uint64
	lastErr    string
	updatedAt  time.Time
}

func New(grabberID string, subs *registry.Registry) *Session {
	return &Session{grabberID: grabberID, subs: subs, updatedAt: time.Now()}
}

func (s *Session) Subscribers() *registry.Registry { return s.subs }

// Streaming is true while an acquisition loop handle is held and still running.
func (s *Session) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loop != nil && s.loop.Running()
}

func (s *Session) DeviceOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceOpen
}

// BufferPath is empty unless the device is open.
func (s *Session) BufferPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buffer == nil {
		return ""
	}
	return s.buffer.Path()
}

// Descriptor renders the activefile/framedonotify reply, ok is false while closed.
func (s *Session) Descriptor() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.deviceOpen || s.buffer == nil {
		return "", false
	}
	return s.buffer.Descriptor(), true
}

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.SessionSnapshot{
		GrabberID:   s.grabberID,
		DeviceOpen:  s.deviceOpen,
		Streaming:   s.loop != nil && s.loop.Running(),
		Serial:      s.serial,
		Geometry:    s.geometry,
		PixelFormat: s.format,
		FrameRateHz: s.lastFPS,
		Frames:      s.lastFrames,
		Subscribers: s.subs.Len(),
		LastError:   s.lastErr,
		UpdatedAt:   s.updatedAt,
	}
	if s.buffer != nil {
		snap.BufferPath = s.buffer.Path()
	}
	if s.loop != nil {
		snap.FrameRateHz = s.loop.FPS()
		snap.Frames = s.loop.Frames()
	}
	return snap
}

// The setters below are for the dispatcher only.

func (s *Session) setOpened(serial string, g models.Geometry, f models.PixelFormat, buf *framebuffer.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceOpen = true
	s.serial = serial
	s.geometry = g
	s.format = f
	s.buffer = buf
	s.lastErr = ""
	s.lastFPS, s.lastFrames = 0, 0
	s.updatedAt = time.Now()
}

// setClosed clears device state and hands back the buffer for the caller to unmap.
func (s *Session) setClosed() *framebuffer.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffer
	s.deviceOpen = false
	s.buffer = nil
	s.serial = ""
	s.geometry = models.Geometry{}
	s.format = models.PixelFormat{}
	s.updatedAt = time.Now()
	return buf
}

func (s *Session) setLoop(l *acquisition.Loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = l
	s.updatedAt = time.Now()
}

// clearLoop drops the loop handle, keeping its last rate and frame count.
func (s *Session) clearLoop() *acquisition.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.loop
	if l != nil {
		s.lastFPS = l.FPS()
		s.lastFrames = l.Frames()
	}
	s.loop = nil
	s.updatedAt = time.Now()
	return l
}

func (s *Session) currentLoop() *acquisition.Loop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loop
}

func (s *Session) currentBuffer() *framebuffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
	} else {
		s.lastErr = err.Error()
	}
	s.updatedAt = time.Now()
}
