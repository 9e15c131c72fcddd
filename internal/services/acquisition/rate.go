package acquisition

import "time"

// RateWindow keeps the last N inter-frame intervals in a ring and reports
// N / sum(intervals) once the ring has been filled at least once.
type RateWindow struct {
	intervals []time.Duration
	next      int
	filled    bool

	last    time.Duration
	hasLast bool
	fps     float64
}

func NewRateWindow(size int) *RateWindow {
	if size < 2 {
		size = 2
	}
	return &RateWindow{intervals: make([]time.Duration, size)}
}

// Observe records a frame timestamp (device clock) and returns the current rate.
// Non-increasing timestamps are ignored.
func (w *RateWindow) Observe(ts time.Duration) float64 {
	if !w.hasLast {
		w.last, w.hasLast = ts, true
		return w.fps
	}
	d := ts - w.last
	if d <= 0 {
		return w.fps
	}
	w.last = ts

	w.intervals[w.next] = d
	w.next = (w.next + 1) % len(w.intervals)
	if w.next == 0 {
		w.filled = true
	}
	if !w.filled {
		return w.fps
	}

	var sum time.Duration
	for _, iv := range w.intervals {
		sum += iv
	}
	w.fps = float64(len(w.intervals)) / sum.Seconds()
	return w.fps
}

func (w *RateWindow) FPS() float64 { return w.fps }

// Ready reports whether the window has been filled at least once.
func (w *RateWindow) Ready() bool { return w.filled }

func (w *RateWindow) Reset() {
	for i := range w.intervals {
		w.intervals[i] = 0
	}
	w.next, w.filled, w.hasLast, w.fps, w.last = 0, false, false, 0, 0
}
