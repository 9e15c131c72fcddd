package acquisition

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-grabber-go/internal/models"
	"frame-grabber-go/internal/services/framebuffer"
	"frame-grabber-go/internal/services/registry"
	"frame-grabber-go/internal/services/source"
)

var testGeometry = models.Geometry{Width: 8, Height: 4}

func openSynthetic(t *testing.T, interval time.Duration) *source.Synthetic {
	t.Helper()
	src := source.NewSynthetic(source.SyntheticConfig{Geometry: testGeometry, Interval: interval})
	require.NoError(t, src.Open(context.Background()))
	require.NoError(t, src.SetPixelFormat(models.PixelMono16))
	return src
}

type recordingWriter struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (w *recordingWriter) Write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes++
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// stateRecorder records the loop state seen at every broadcast.
type stateRecorder struct {
	mu     sync.Mutex
	loop   *Loop
	states []State
	lines  []string
}

func (p *stateRecorder) Broadcast(line string) (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, p.loop.State())
	p.lines = append(p.lines, line)
	return 1, 0
}

func (p *stateRecorder) snapshot() ([]State, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...), append([]string(nil), p.lines...)
}

type failingClient struct{ id string }

func (c failingClient) ID() string             { return c.id }
func (c failingClient) RemoteAddr() string     { return "gone" }
func (c failingClient) Send(line string) error { return errors.New("broken pipe") }

type eventCollector struct {
	mu     sync.Mutex
	events []models.FrameEvent
}

func (c *eventCollector) PublishFrame(e models.FrameEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *eventCollector) last() (models.FrameEvent, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return models.FrameEvent{}, 0
	}
	return c.events[len(c.events)-1], len(c.events)
}

func TestLoopIsRunningBeforeFirstNotification(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	recorder := &stateRecorder{}
	loop := New(src, &recordingWriter{}, recorder, nil, Options{FrameTimeout: time.Second})
	recorder.loop = loop

	require.NoError(t, loop.Start(context.Background()))
	assert.Equal(t, StateRunning, loop.State())

	require.Eventually(t, func() bool { return loop.Frames() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, loop.Stop())

	states, lines := recorder.snapshot()
	require.NotEmpty(t, states)
	for _, s := range states {
		assert.Equal(t, StateRunning, s)
	}
	assert.Equal(t, "cap:5000000", lines[0])
	assert.Equal(t, StateIdle, loop.State())
}

func TestLoopFrameRateConverges(t *testing.T) {
	src := openSynthetic(t, 100*time.Millisecond)
	sink := &eventCollector{}
	loop := New(src, &recordingWriter{}, registry.New(), sink, Options{GrabberID: "g1", FrameTimeout: time.Second, RateWindow: 10})

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return loop.Frames() >= 12 }, 4*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 10.0, loop.FPS(), 1e-9)

	event, n := sink.last()
	assert.GreaterOrEqual(t, n, 12)
	assert.Equal(t, "g1", event.GrabberID)
	assert.InDelta(t, 10.0, event.FPS, 1e-9)
}

func TestLoopDropsUnreachableSubscriber(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	subs := registry.New()
	subs.Add(failingClient{id: "dead"})
	sink := &eventCollector{}
	loop := New(src, &recordingWriter{}, subs, sink, Options{FrameTimeout: time.Second})

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return loop.Frames() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, loop.Stop())

	assert.Zero(t, subs.Len())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.events[0].Dropped)
	assert.Zero(t, sink.events[1].Dropped)
}

func TestLoopTimeoutEndsAcquisition(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	src.SetStall(true)
	loop := New(src, &recordingWriter{}, registry.New(), nil, Options{FrameTimeout: 30 * time.Millisecond})

	require.NoError(t, loop.Start(context.Background()))

	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after timeout")
	}
	assert.ErrorIs(t, loop.Err(), source.ErrTimeout)
	assert.Equal(t, StateIdle, loop.State())
	assert.Zero(t, loop.Frames())

	_, err := src.NextFrame(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, source.ErrNotCapturing, "capture mode is left on exit")
}

func TestLoopStopIsCleanAndSingleUse(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	loop := New(src, &recordingWriter{}, registry.New(), nil, Options{FrameTimeout: time.Second})

	assert.NoError(t, loop.Stop(), "stopping a never-started loop is a no-op")
	require.NoError(t, loop.Start(context.Background()))
	assert.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, loop.Stop())
	assert.NoError(t, loop.Err())
	assert.Equal(t, StateIdle, loop.State())
	assert.False(t, loop.Running())
}

func TestLoopStartFailsWithoutPixelFormat(t *testing.T) {
	src := source.NewSynthetic(source.SyntheticConfig{Geometry: testGeometry, Interval: time.Millisecond})
	require.NoError(t, src.Open(context.Background()))
	loop := New(src, &recordingWriter{}, registry.New(), nil, Options{})

	require.Error(t, loop.Start(context.Background()))
	assert.Equal(t, StateIdle, loop.State())
	select {
	case <-loop.Done():
	default:
		t.Fatal("failed start must close Done")
	}
}

func TestLoopSkipsMismatchedFrames(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	buf, err := framebuffer.Open(t.TempDir(), src.Serial(), testGeometry, models.PixelMono8)
	require.NoError(t, err)
	defer buf.Close()

	recorder := &stateRecorder{}
	loop := New(src, buf, recorder, nil, Options{FrameTimeout: time.Second})
	recorder.loop = loop

	require.NoError(t, loop.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, loop.Stop())

	states, _ := recorder.snapshot()
	assert.Empty(t, states)
	assert.Zero(t, loop.Frames())
	assert.Zero(t, buf.Writes())
}

func TestLoopWritesIntoSharedBuffer(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	buf, err := framebuffer.Open(t.TempDir(), src.Serial(), testGeometry, models.PixelMono16)
	require.NoError(t, err)
	defer buf.Close()

	loop := New(src, buf, registry.New(), nil, Options{FrameTimeout: time.Second})
	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return loop.Frames() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, loop.Stop())

	onDisk, err := os.ReadFile(buf.Path())
	require.NoError(t, err)
	assert.Len(t, onDisk, testGeometry.FrameSize(models.PixelMono16))
	assert.NotEqual(t, make([]byte, len(onDisk)), onDisk)
}

func TestLoopHonoursParentContext(t *testing.T) {
	src := openSynthetic(t, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	loop := New(src, &recordingWriter{}, registry.New(), nil, Options{FrameTimeout: time.Second})

	require.NoError(t, loop.Start(ctx))
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop ignored context cancellation")
	}
	assert.NoError(t, loop.Err())
}
