package source

import (
	"context"
	"errors"
	"time"

	"frame-grabber-go/internal/models"
)

var (
	// ErrTimeout is returned by NextFrame when no frame arrived within the timeout.
	ErrTimeout = errors.New("frame source: timed out waiting for frame")
	// ErrNotOpen is returned by operations that need an open device.
	ErrNotOpen = errors.New("frame source: device not open")
	// ErrNotCapturing is returned by NextFrame outside continuous capture.
	ErrNotCapturing = errors.New("frame source: capture not started")
)

// FrameSource abstracts the imaging device. Only the acquisition loop calls
// NextFrame; every other method is called from the dispatcher.
type FrameSource interface {
	Open(ctx context.Context) error
	Close() error

	Serial() string
	Geometry() models.Geometry
	SupportedFormats() []models.PixelFormat
	SetPixelFormat(format models.PixelFormat) error

	StartCapture() error
	StopCapture() error

	// NextFrame blocks until a frame, the timeout (ErrTimeout) or ctx cancellation.
	NextFrame(ctx context.Context, timeout time.Duration) (*models.Frame, error)
}
