// Package framebuffer owns the memory-mapped file holding the most recent frame.
//
// The file has no header: raw row-major samples only. Readers learn geometry and
// sample type from the protocol. There is exactly one writer (the acquisition loop)
// and writes overwrite in place, so a reader may observe a torn frame.
package framebuffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"frame-grabber-go/internal/models"
)

var (
	ErrSizeMismatch = errors.New("framebuffer: frame size does not match buffer")
	ErrClosed       = errors.New("framebuffer: buffer closed")
)

// FileName derives the backing file name from device identity and geometry so a
// downstream reader can rediscover it.
func FileName(serial string, g models.Geometry, f models.PixelFormat) string {
	return fmt.Sprintf("Cam_%s__%dx%d-%s.raw", serial, g.Width, g.Height, f.Name)
}

// Buffer is one mapped frame file.
type Buffer struct {
	path     string
	geometry models.Geometry
	format   models.PixelFormat

	mu     sync.Mutex
	file   *os.File
	data   []byte
	writes uint64
}

// Open creates dir/FileName(...) sized to exactly one frame, reusing an existing
// file when its size matches and recreating it otherwise, then maps it read-write.
func Open(dir, serial string, g models.Geometry, f models.PixelFormat) (*Buffer, error) {
	size := g.FrameSize(f)
	if size <= 0 {
		return nil, fmt.Errorf("framebuffer: invalid frame size %d for %dx%d %s", size, g.Width, g.Height, f.Name)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: resolve dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("framebuffer: create dir: %w", err)
	}
	path := filepath.Join(absDir, FileName(serial, g, f))

	file, reused, err := openSized(path, int64(size))
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("framebuffer: mmap %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("size", size).
		Bool("reused", reused).
		Msg("Frame buffer mapped")

	return &Buffer{
		path:     path,
		geometry: g,
		format:   f,
		file:     file,
		data:     data,
	}, nil
}

func openSized(path string, size int64) (*os.File, bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() == size:
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("framebuffer: open %s: %w", path, err)
		}
		return f, true, nil
	case err == nil:
		log.Debug().Str("path", path).Int64("have", info.Size()).Int64("want", size).Msg("Frame buffer size changed, recreating")
		if err := os.Remove(path); err != nil {
			return nil, false, fmt.Errorf("framebuffer: remove stale %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("framebuffer: stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("framebuffer: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("framebuffer: truncate %s: %w", path, err)
	}
	return f, false, nil
}

func (b *Buffer) Path() string                    { return b.path }
func (b *Buffer) Geometry() models.Geometry       { return b.geometry }
func (b *Buffer) PixelFormat() models.PixelFormat { return b.format }
func (b *Buffer) Size() int                       { return b.geometry.FrameSize(b.format) }

// Descriptor is the "<path>:(<H>,<W>):<dtype>" reply line.
func (b *Buffer) Descriptor() string {
	return models.BufferDescriptor(b.path, b.geometry, b.format)
}

// Write overwrites the mapped region with frame.
func (b *Buffer) Write(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return ErrClosed
	}
	if len(frame) != len(b.data) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(frame), len(b.data))
	}
	copy(b.data, frame)
	b.writes++
	return nil
}

// Writes counts successful Write calls.
func (b *Buffer) Writes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Close unmaps the region and releases the file handle. The file itself stays on disk.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(b.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	b.data = nil
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	b.file = nil
	log.Debug().Str("path", b.path).Msg("Frame buffer released")
	return errors.Join(errs...)
}
