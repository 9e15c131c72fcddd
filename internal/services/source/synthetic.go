package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/models"
)

// SyntheticConfig describes a software device emitting a moving gradient.
type SyntheticConfig struct {
	Serial   string
	Geometry models.Geometry
	Interval time.Duration
	Formats  []models.PixelFormat

	// Stall makes NextFrame behave like an unplugged camera.
	Stall bool
}

// Synthetic is a deterministic FrameSource. Its device clock advances by exactly
// Interval per frame, so rate computations over it are exact.
type Synthetic struct {
	cfg SyntheticConfig

	mu        sync.Mutex
	opened    bool
	capturing bool
	format    models.PixelFormat
	clock     time.Duration
	seq       uint64
	next      time.Time
	buf       []byte

	opens int
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if len(cfg.Formats) == 0 {
		cfg.Formats = []models.PixelFormat{models.PixelMono8, models.PixelMono16}
	}
	if cfg.Serial == "" {
		cfg.Serial = "SYNTH0001"
	}
	return &Synthetic{cfg: cfg}
}

func (s *Synthetic) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Geometry.Width <= 0 || s.cfg.Geometry.Height <= 0 {
		return fmt.Errorf("synthetic source: invalid geometry %dx%d", s.cfg.Geometry.Width, s.cfg.Geometry.Height)
	}
	s.opened = true
	s.opens++
	log.Debug().Str("serial", s.cfg.Serial).Msg("Synthetic source opened")
	return nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.capturing = false
	return nil
}

func (s *Synthetic) Serial() string { return s.cfg.Serial }

func (s *Synthetic) Geometry() models.Geometry { return s.cfg.Geometry }

func (s *Synthetic) SupportedFormats() []models.PixelFormat {
	out := make([]models.PixelFormat, len(s.cfg.Formats))
	copy(out, s.cfg.Formats)
	return out
}

func (s *Synthetic) SetPixelFormat(format models.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrNotOpen
	}
	for _, f := range s.cfg.Formats {
		if f.Name == format.Name {
			s.format = format
			s.buf = make([]byte, s.cfg.Geometry.FrameSize(format))
			return nil
		}
	}
	return fmt.Errorf("synthetic source: pixel format %s not supported", format.Name)
}

func (s *Synthetic) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrNotOpen
	}
	if s.buf == nil {
		return fmt.Errorf("synthetic source: pixel format not set")
	}
	s.capturing = true
	s.next = time.Now().Add(s.cfg.Interval)
	return nil
}

func (s *Synthetic) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	return nil
}

func (s *Synthetic) NextFrame(ctx context.Context, timeout time.Duration) (*models.Frame, error) {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil, ErrNotCapturing
	}
	wait := time.Until(s.next)
	stall := s.cfg.Stall
	s.mu.Unlock()

	// the next frame is not due within timeout
	late := stall || wait > timeout
	if late {
		wait = timeout
	}
	timer := time.NewTimer(max(wait, 0))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	if late {
		return nil, ErrTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing {
		return nil, ErrNotCapturing
	}
	s.seq++
	s.clock += s.cfg.Interval
	s.next = s.next.Add(s.cfg.Interval)
	s.fill()
	return &models.Frame{Data: s.buf, Timestamp: s.clock, Succeeded: true}, nil
}

// fill draws a horizontal gradient shifted by the frame sequence.
func (s *Synthetic) fill() {
	w, h := s.cfg.Geometry.Width, s.cfg.Geometry.Height
	bpp := s.format.BytesPerPixel
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint64(x+y) + s.seq
			off := (y*w + x) * bpp
			if bpp == 2 {
				binary.LittleEndian.PutUint16(s.buf[off:], uint16(v*16))
			} else {
				s.buf[off] = byte(v)
			}
		}
	}
}

// SetStall toggles the unplugged-camera behaviour at runtime.
func (s *Synthetic) SetStall(stall bool) {
	s.mu.Lock()
	s.cfg.Stall = stall
	s.mu.Unlock()
}

// Opens reports how many times Open succeeded.
func (s *Synthetic) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}
