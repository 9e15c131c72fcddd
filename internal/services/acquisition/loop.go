// Package acquisition runs the per-frame capture loop: pull a frame from the
// source, copy it into the shared buffer, update the frame rate and notify
// subscribers.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/framebuffer"
	"frame-grabber-go/internal/services/source"
)

// ErrAlreadyRunning is returned by Start on a loop that was already started.
var ErrAlreadyRunning = errors.New("acquisition: loop already started")

// State represents the atomic state of the loop
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FrameWriter receives every published frame. *framebuffer.Buffer implements it.
type FrameWriter interface {
	Write(frame []byte) error
}

// Notifier fans a line out to subscribers. *registry.Registry implements it.
type Notifier interface {
	Broadcast(line string) (sent, removed int)
}

// EventSink receives one event per published frame. It must not block.
type EventSink interface {
	PublishFrame(event models.FrameEvent)
}

type Options struct {
	GrabberID        string
	FrameTimeout     time.Duration
	RateWindow       int
	JoinPollInterval time.Duration
	JoinWarnAfter    time.Duration
}

func (o Options) withDefaults() Options {
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = 5 * time.Second
	}
	if o.RateWindow < 2 {
		o.RateWindow = 10
	}
	if o.JoinPollInterval <= 0 {
		o.JoinPollInterval = 10 * time.Millisecond
	}
	if o.JoinWarnAfter <= 0 {
		o.JoinWarnAfter = 2 * time.Second
	}
	return o
}

// Loop is a single-use acquisition run. The dispatcher creates one per stream
// command and discards it once Done is closed.
type Loop struct {
	src    source.FrameSource
	buffer FrameWriter
	subs   Notifier
	sink   EventSink
	opts   Options
	logger zerolog.Logger

	state   int32
	started int32
	stopReq atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	frames  atomic.Uint64
	fpsBits atomic.Uint64
	rate    *RateWindow
}

// New builds an idle loop. sink may be nil.
func New(src source.FrameSource, buffer FrameWriter, subs Notifier, sink EventSink, opts Options) *Loop {
	opts = opts.withDefaults()
	return &Loop{
		src:    src,
		buffer: buffer,
		subs:   subs,
		sink:   sink,
		opts:   opts,
		logger: log.With().Str("component", "acquisition").Str("serial", src.Serial()).Logger(),
		done:   make(chan struct{}),
		rate:   NewRateWindow(opts.RateWindow),
	}
}

func (l *Loop) setState(s State) {
	atomic.StoreInt32(&l.state, int32(s))
}

func (l *Loop) State() State {
	return State(atomic.LoadInt32(&l.state))
}

// Running reports whether the loop is capturing or about to.
func (l *Loop) Running() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// Start switches the source to continuous capture and launches the loop.
// The state is Running before Start returns.
func (l *Loop) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return ErrAlreadyRunning
	}
	if !atomic.CompareAndSwapInt32(&l.state, int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("acquisition: cannot start from state %s", l.State())
	}

	if err := l.src.StartCapture(); err != nil {
		l.err = fmt.Errorf("start capture: %w", err)
		l.setState(StateIdle)
		close(l.done)
		return l.err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.setState(StateRunning)

	l.logger.Info().
		Dur("frame_timeout", l.opts.FrameTimeout).
		Int("rate_window", l.opts.RateWindow).
		Msg("Acquisition started")

	go l.run(runCtx)
	return nil
}

// Stop requests the loop to exit and joins it, polling Done every
// JoinPollInterval and warning every JoinWarnAfter while it lingers.
// It returns the error that ended the loop, nil for a requested stop.
func (l *Loop) Stop() error {
	if atomic.LoadInt32(&l.started) == 0 {
		return nil
	}
	l.stopReq.Store(true)
	if l.cancel != nil {
		l.cancel()
	}

	begin := time.Now()
	lastWarn := begin
	ticker := time.NewTicker(l.opts.JoinPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			l.logger.Debug().Dur("join", time.Since(begin)).Msg("Acquisition joined")
			return l.err
		case <-ticker.C:
			if time.Since(lastWarn) >= l.opts.JoinWarnAfter {
				lastWarn = time.Now()
				l.logger.Warn().
					Dur("waited", time.Since(begin)).
					Str("state", l.State().String()).
					Msg("Acquisition loop has not exited yet")
			}
		}
	}
}

// Done is closed once the loop has exited and capture mode was left.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err is valid after Done is closed.
func (l *Loop) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Loop) Frames() uint64 { return l.frames.Load() }

// FPS is the rate over the last RateWindow device-clock intervals, zero until the window fills.
func (l *Loop) FPS() float64 {
	return math.Float64frombits(l.fpsBits.Load())
}

func (l *Loop) stopping(ctx context.Context) bool {
	return l.stopReq.Load() || ctx.Err() != nil
}

func (l *Loop) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.err = fmt.Errorf("acquisition panic: %v", r)
			l.logger.Error().Interface("panic", r).Msg("Acquisition panic recovered")
		}
		if err := l.src.StopCapture(); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to leave capture mode")
		}
		l.setState(StateIdle)
		close(l.done)
		l.logger.Info().
			Uint64("frames", l.frames.Load()).
			Err(l.err).
			Msg("Acquisition stopped")
	}()

	for {
		if l.stopping(ctx) {
			l.setState(StateStopping)
			return
		}

		frame, err := l.src.NextFrame(ctx, l.opts.FrameTimeout)

		if l.stopping(ctx) {
			l.setState(StateStopping)
			return
		}
		if err != nil {
			if errors.Is(err, source.ErrTimeout) {
				l.logger.Error().Dur("timeout", l.opts.FrameTimeout).Msg("No frame from device, ending acquisition")
				l.err = fmt.Errorf("capture timeout after %s: %w", l.opts.FrameTimeout, err)
			} else {
				l.logger.Error().Err(err).Msg("Frame retrieval failed, ending acquisition")
				l.err = fmt.Errorf("retrieve frame: %w", err)
			}
			l.setState(StateStopping)
			return
		}
		if frame == nil || !frame.Succeeded {
			l.logger.Debug().Msg("Incomplete frame skipped")
			continue
		}

		l.publish(frame)
	}
}

func (l *Loop) publish(frame *models.Frame) {
	if err := l.buffer.Write(frame.Data); err != nil {
		if errors.Is(err, framebuffer.ErrSizeMismatch) {
			l.logger.Warn().Err(err).Int("bytes", len(frame.Data)).Msg("Frame size mismatch, frame dropped")
		} else {
			l.logger.Error().Err(err).Msg("Frame buffer write failed, frame dropped")
		}
		return
	}

	fps := l.rate.Observe(frame.Timestamp)
	l.fpsBits.Store(math.Float64bits(fps))
	seq := l.frames.Add(1)

	ts := frame.Timestamp.Nanoseconds()
	sent, removed := l.subs.Broadcast(models.NotifyPrefix + strconv.FormatInt(ts, 10))
	if removed > 0 {
		l.logger.Info().Int("removed", removed).Msg("Dropped unreachable subscribers")
	}

	if l.sink != nil {
		l.sink.PublishFrame(models.FrameEvent{
			GrabberID: l.opts.GrabberID,
			Sequence:  seq,
			Timestamp: ts,
			FPS:       fps,
			Notified:  sent,
			Dropped:   removed,
			At:        time.Now(),
		})
	}
}
