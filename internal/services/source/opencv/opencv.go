// Package opencv adapts a gocv VideoCapture device to the FrameSource contract.
// Frames are converted to single channel grayscale, so only mono formats are offered,
// and Mono16 only when the device delivers 16-bit samples.
package opencv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/source"
)

type grabbed struct {
	data []byte
	ts   time.Duration
}

// Source reads from a webcam index or a stream URL.
type Source struct {
	device string
	serial string

	mu       sync.Mutex
	cap      *gocv.VideoCapture
	geometry models.Geometry
	format   models.PixelFormat
	deep     bool // device delivers 16-bit samples
	epoch    time.Time

	frames chan grabbed
	stop   chan struct{}
	done   chan struct{}
}

// New creates a source for device, which is either a camera index ("0") or a URL.
// When serial is empty it is derived from the device string.
func New(device, serial string) *Source {
	if serial == "" {
		serial = "cv" + sanitize(device)
	}
	return &Source{device: device, serial: serial}
}

func (s *Source) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap != nil {
		return nil
	}

	var dev interface{} = s.device
	if idx, err := strconv.Atoi(s.device); err == nil {
		dev = idx
	}
	capture, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return fmt.Errorf("failed to open video capture %s: %w", s.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video capture is not opened for device %s", s.device)
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	s.cap = capture
	s.geometry = models.Geometry{
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	s.deep = sampleDepth(capture)
	s.epoch = time.Now()

	log.Info().
		Str("device", s.device).
		Int("width", s.geometry.Width).
		Int("height", s.geometry.Height).
		Bool("sixteen_bit", s.deep).
		Msg("OpenCV capture opened")
	return nil
}

func (s *Source) Close() error {
	_ = s.StopCapture()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}

func (s *Source) Serial() string { return s.serial }

func (s *Source) Geometry() models.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

func (s *Source) SupportedFormats() []models.PixelFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatsForDepth(s.deep)
}

func (s *Source) SetPixelFormat(format models.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return source.ErrNotOpen
	}
	for _, f := range formatsForDepth(s.deep) {
		if f.Name == format.Name {
			s.format = format
			return nil
		}
	}
	return fmt.Errorf("opencv source: pixel format %s not supported", format.Name)
}

// formatsForDepth never offers Mono16 for 8-bit devices, upscaling would
// double the buffer without adding information.
func formatsForDepth(deep bool) []models.PixelFormat {
	if deep {
		return []models.PixelFormat{models.PixelMono16, models.PixelMono8}
	}
	return []models.PixelFormat{models.PixelMono8}
}

// isSixteenBit reports whether a Mat type carries 16-bit samples.
func isSixteenBit(t gocv.MatType) bool {
	depth := t & 7
	return depth == gocv.MatTypeCV16U || depth == gocv.MatTypeCV16S
}

// sampleDepth reads one frame to learn the sample depth. Devices that
// deliver nothing yet are treated as 8-bit.
func sampleDepth(capture *gocv.VideoCapture) bool {
	img := gocv.NewMat()
	defer img.Close()
	if ok := capture.Read(&img); !ok || img.Empty() {
		return false
	}
	return isSixteenBit(img.Type())
}

func (s *Source) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return source.ErrNotOpen
	}
	if s.stop != nil {
		return nil
	}
	s.frames = make(chan grabbed, 1)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(s.cap, s.format, s.deep, s.frames, s.stop, s.done)
	return nil
}

func (s *Source) StopCapture() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("opencv source: reader did not stop")
	}
	return nil
}

func (s *Source) NextFrame(ctx context.Context, timeout time.Duration) (*models.Frame, error) {
	s.mu.Lock()
	frames := s.frames
	running := s.stop != nil
	s.mu.Unlock()
	if !running {
		return nil, source.ErrNotCapturing
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, source.ErrTimeout
	case g := <-frames:
		return &models.Frame{Data: g.data, Timestamp: g.ts, Succeeded: true}, nil
	}
}

// readLoop keeps only the latest converted frame in out.
func (s *Source) readLoop(capture *gocv.VideoCapture, format models.PixelFormat, deep bool, out chan grabbed, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("device", s.device).Msg("OpenCV reader panic recovered")
		}
	}()

	img := gocv.NewMat()
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	wide := gocv.NewMat()
	defer wide.Close()
	narrow := gocv.NewMat()
	defer narrow.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := capture.Read(&img); !ok || img.Empty() {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		ts := time.Since(s.epoch)

		if img.Channels() > 1 {
			gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		} else {
			img.CopyTo(&gray)
		}

		var data []byte
		switch {
		case format.BytesPerPixel == 2:
			gray.ConvertTo(&wide, gocv.MatTypeCV16UC1)
			data = wide.ToBytes()
		case deep:
			// keep the high byte of 16-bit samples
			gray.ConvertToWithParams(&narrow, gocv.MatTypeCV8UC1, 1.0/257, 0)
			data = narrow.ToBytes()
		default:
			data = gray.ToBytes()
		}

		select {
		case out <- grabbed{data: data, ts: ts}:
		default:
			// drop the stale frame and keep the newest
			select {
			case <-out:
			default:
			}
			select {
			case out <- grabbed{data: data, ts: ts}:
			default:
			}
		}
	}
}

func sanitize(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			b = append(b, c)
		} else {
			b = append(b, '_')
		}
	}
	return string(b)
}
