package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-grabber-go/internal/models"
)

func newTestSynthetic(interval time.Duration) *Synthetic {
	return NewSynthetic(SyntheticConfig{
		Serial:   "TEST",
		Geometry: models.Geometry{Width: 4, Height: 3},
		Interval: interval,
	})
}

func TestSyntheticLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSynthetic(5 * time.Millisecond)

	require.ErrorIs(t, s.SetPixelFormat(models.PixelMono8), ErrNotOpen)
	require.NoError(t, s.Open(ctx))
	require.Error(t, s.StartCapture(), "capture needs a pixel format")
	require.NoError(t, s.SetPixelFormat(models.PixelMono16))
	require.Error(t, s.SetPixelFormat(models.PixelMono12))

	_, err := s.NextFrame(ctx, time.Second)
	require.ErrorIs(t, err, ErrNotCapturing)

	require.NoError(t, s.StartCapture())
	first, err := s.NextFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, first.Succeeded)
	assert.Len(t, first.Data, 4*3*2)
	assert.Equal(t, 5*time.Millisecond, first.Timestamp)

	second, err := s.NextFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, second.Timestamp)

	require.NoError(t, s.StopCapture())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, s.Opens())
}

func TestSyntheticStallTimesOut(t *testing.T) {
	ctx := context.Background()
	s := newTestSynthetic(time.Millisecond)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.SetPixelFormat(models.PixelMono8))
	require.NoError(t, s.StartCapture())
	s.SetStall(true)

	start := time.Now()
	_, err := s.NextFrame(ctx, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSyntheticSlowerThanTimeoutTimesOut(t *testing.T) {
	ctx := context.Background()
	s := newTestSynthetic(200 * time.Millisecond)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.SetPixelFormat(models.PixelMono8))
	require.NoError(t, s.StartCapture())

	start := time.Now()
	frame, err := s.NextFrame(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, frame)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "no frame is handed out early")

	frame, err = s.NextFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, frame.Timestamp, "the missed slot is still the next frame")
}

func TestSyntheticNextFrameHonoursContext(t *testing.T) {
	s := newTestSynthetic(time.Hour)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.SetPixelFormat(models.PixelMono8))
	require.NoError(t, s.StartCapture())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.NextFrame(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
