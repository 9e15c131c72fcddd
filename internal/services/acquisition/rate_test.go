package acquisition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateWindowConvergesAtHundredMillis(t *testing.T) {
	w := NewRateWindow(10)

	for i := 0; i <= 10; i++ {
		assert.False(t, w.Ready(), "not ready before %d intervals", 10)
		w.Observe(time.Duration(i) * 100 * time.Millisecond)
	}
	assert.True(t, w.Ready())
	assert.InDelta(t, 10.0, w.FPS(), 1e-9)

	for i := 11; i < 40; i++ {
		w.Observe(time.Duration(i) * 100 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, w.FPS(), 1e-9)
}

func TestRateWindowZeroUntilFilled(t *testing.T) {
	w := NewRateWindow(10)
	for i := 0; i < 10; i++ {
		assert.Zero(t, w.Observe(time.Duration(i)*time.Millisecond))
	}
	assert.InDelta(t, 1000.0, w.Observe(10*time.Millisecond), 1e-6)
}

func TestRateWindowTracksRateChange(t *testing.T) {
	w := NewRateWindow(4)
	ts := time.Duration(0)
	for i := 0; i < 5; i++ {
		ts += 50 * time.Millisecond
		w.Observe(ts)
	}
	assert.InDelta(t, 20.0, w.FPS(), 1e-9)

	for i := 0; i < 4; i++ {
		ts += 250 * time.Millisecond
		w.Observe(ts)
	}
	assert.InDelta(t, 4.0, w.FPS(), 1e-9)
}

func TestRateWindowIgnoresClockGoingBackwards(t *testing.T) {
	w := NewRateWindow(2)
	w.Observe(100 * time.Millisecond)
	w.Observe(200 * time.Millisecond)
	w.Observe(300 * time.Millisecond)
	assert.InDelta(t, 10.0, w.FPS(), 1e-9)

	w.Observe(50 * time.Millisecond)
	assert.InDelta(t, 10.0, w.FPS(), 1e-9)

	w.Reset()
	assert.False(t, w.Ready())
	assert.Zero(t, w.FPS())
}
