package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/acquisition"
	"frame-grabber-go/internal/services/control"
	"frame-grabber-go/internal/services/framebuffer"
	"frame-grabber-go/internal/services/source"
)

// SessionSink receives one event per applied command or loop failure. It must not block.
type SessionSink interface {
	PublishSession(event models.SessionEvent)
}

type Options struct {
	BufferDir    string
	PollInterval time.Duration
	Acquisition  acquisition.Options
}

// Dispatcher is the single consumer of the command queue and the only writer
// of the Session.
type Dispatcher struct {
	queue    *control.Queue
	session  *Session
	src      source.FrameSource
	shutdown func(reason string)
	opts     Options
	logger   zerolog.Logger

	frameSink   acquisition.EventSink
	sessionSink SessionSink

	processed atomic.Uint64
}

// NewDispatcher wires the dispatcher. shutdown is called for the close verb.
func NewDispatcher(queue *control.Queue, sess *Session, src source.FrameSource, shutdown func(reason string), opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.BufferDir == "" {
		opts.BufferDir = "."
	}
	return &Dispatcher{
		queue:    queue,
		session:  sess,
		src:      src,
		shutdown: shutdown,
		opts:     opts,
		logger:   logger,
	}
}

// SetSinks attaches optional event sinks. Call before Run.
func (d *Dispatcher) SetSinks(frames acquisition.EventSink, sessions SessionSink) {
	d.frameSink = frames
	d.sessionSink = sessions
}

func (d *Dispatcher) Session() *Session { return d.session }

// Processed is the number of commands applied so far.
func (d *Dispatcher) Processed() uint64 { return d.processed.Load() }

// Run wakes on the queue signal or every poll interval, reaps a finished
// acquisition loop and drains the queue in FIFO order. On exit it stops
// acquisition and releases the device.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Dur("poll_interval", d.opts.PollInterval).Msg("Dispatcher started")
	defer d.teardown()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.queue.Signal():
		case <-ticker.C:
		}

		d.reap(false)
		d.drain(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		cmd, ok := d.queue.TryPop()
		if !ok {
			return
		}
		d.execute(ctx, cmd)
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd models.Command) {
	logger := d.logger.With().Str("verb", cmd.Verb).Logger()
	if cmd.Origin != nil {
		logger = logger.With().Str("client_id", cmd.Origin.ID()).Logger()
	}

	var (
		reply string
		err   error
	)

	switch cmd.Verb {
	case models.VerbOpen:
		if err = d.open(ctx); err == nil {
			reply = models.ReplyOpen
		}

	case models.VerbRelease:
		d.release()
		reply = models.ReplyRelease

	case models.VerbStream:
		err = d.stream(ctx)

	case models.VerbStop:
		d.stop()

	case models.VerbActiveFile:
		reply = d.descriptorReply()

	case models.VerbFrameNotify:
		if cmd.Origin != nil && d.session.Subscribers().Add(cmd.Origin) {
			logger.Info().Int("subscribers", d.session.Subscribers().Len()).Msg("Client subscribed to frames")
		}
		reply = d.descriptorReply()

	case models.VerbFrameNoNotify:
		if cmd.Origin != nil && d.session.Subscribers().Remove(cmd.Origin) {
			logger.Info().Int("subscribers", d.session.Subscribers().Len()).Msg("Client unsubscribed from frames")
		}
		reply = models.ReplyUnsubscribed

	case models.VerbClose:
		reply = models.ReplyClose

	default:
		logger.Debug().Str("argument", cmd.Argument).Msg("Unknown command ignored")
		return
	}

	d.processed.Add(1)
	if err != nil {
		logger.Error().Err(err).Msg("Command failed")
		d.session.setError(err)
		reply = models.ErrorReply(err)
	} else {
		logger.Debug().Dur("latency", time.Since(cmd.ReceivedAt)).Msg("Command applied")
	}

	if reply != "" && cmd.Origin != nil {
		if sendErr := cmd.Origin.Send(reply); sendErr != nil {
			logger.Debug().Err(sendErr).Msg("Reply not delivered")
		}
	}
	d.publish(cmd.Verb, cmd.Origin, err)

	if cmd.Verb == models.VerbClose && d.shutdown != nil {
		d.shutdown("close command")
	}
}

func (d *Dispatcher) descriptorReply() string {
	if desc, ok := d.session.Descriptor(); ok {
		return desc
	}
	return models.ReplyNotOpen
}

// open (re)opens the device, negotiates the pixel format and maps the buffer.
// Any running acquisition is joined and a previous mapping released first.
func (d *Dispatcher) open(ctx context.Context) error {
	d.stopLoop()
	if d.session.DeviceOpen() {
		d.closeDevice()
	}

	if err := d.src.Open(ctx); err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	format, err := models.NegotiatePixelFormat(d.src.SupportedFormats())
	if err != nil {
		d.src.Close()
		return err
	}
	if err := d.src.SetPixelFormat(format); err != nil {
		d.src.Close()
		return fmt.Errorf("set pixel format %s: %w", format.Name, err)
	}

	geometry := d.src.Geometry()
	buf, err := framebuffer.Open(d.opts.BufferDir, d.src.Serial(), geometry, format)
	if err != nil {
		d.src.Close()
		return err
	}

	d.session.setOpened(d.src.Serial(), geometry, format, buf)
	d.logger.Info().
		Str("serial", d.src.Serial()).
		Int("width", geometry.Width).
		Int("height", geometry.Height).
		Str("pixel_format", format.Name).
		Str("buffer", buf.Path()).
		Msg("Device opened")
	return nil
}

func (d *Dispatcher) release() {
	d.stopLoop()
	if !d.session.DeviceOpen() {
		d.logger.Debug().Msg("Release while device closed")
		return
	}
	d.closeDevice()
	d.logger.Info().Msg("Device released")
}

// closeDevice must only run once the loop has been joined.
func (d *Dispatcher) closeDevice() {
	if buf := d.session.setClosed(); buf != nil {
		if err := buf.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to release frame buffer")
		}
	}
	if err := d.src.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close device")
	}
}

func (d *Dispatcher) stream(ctx context.Context) error {
	if l := d.session.currentLoop(); l != nil {
		if l.Running() {
			d.logger.Debug().Msg("Already streaming")
			return nil
		}
		d.reap(true)
	}
	if !d.session.DeviceOpen() {
		if err := d.open(ctx); err != nil {
			return err
		}
	}

	loop := acquisition.New(d.src, d.session.currentBuffer(), d.session.Subscribers(), d.frameSink, d.opts.Acquisition)
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}
	d.session.setLoop(loop)
	return nil
}

func (d *Dispatcher) stop() {
	if d.session.currentLoop() == nil {
		d.logger.Debug().Msg("Stop while not streaming")
		return
	}
	d.stopLoop()
}

// stopLoop joins the running loop, if any, and clears the handle.
func (d *Dispatcher) stopLoop() {
	l := d.session.currentLoop()
	if l == nil {
		return
	}
	if !l.Running() {
		d.reap(true)
		return
	}
	if err := l.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Acquisition had ended with an error")
	}
	d.session.clearLoop()
}

// reap clears the handle of a loop that exited on its own, e.g. on capture
// timeout. With join set it also waits for a loop that has left Running but
// has not yet released the device, so the next loop never overlaps it.
func (d *Dispatcher) reap(join bool) {
	l := d.session.currentLoop()
	if l == nil || l.Running() {
		return
	}
	if join {
		_ = l.Stop()
	}
	select {
	case <-l.Done():
	default:
		return
	}
	d.session.clearLoop()
	if err := l.Err(); err != nil {
		d.logger.Error().Err(err).Msg("Acquisition ended, streaming stopped")
		d.session.setError(err)
		d.publish("acquisition", nil, err)
	}
}

func (d *Dispatcher) teardown() {
	d.stopLoop()
	if d.session.DeviceOpen() {
		d.closeDevice()
	}
	d.logger.Info().Uint64("processed", d.processed.Load()).Msg("Dispatcher stopped")
}

func (d *Dispatcher) publish(verb string, origin models.Client, err error) {
	if d.sessionSink == nil {
		return
	}
	event := models.SessionEvent{Verb: verb, Session: d.session.Snapshot()}
	if origin != nil {
		event.Client = origin.ID()
	}
	if err != nil {
		event.Error = err.Error()
	}
	d.sessionSink.PublishSession(event)
}
