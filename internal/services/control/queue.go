package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/models"
)

// ErrQueueClosed is returned by Push once the queue has been closed.
var ErrQueueClosed = errors.New("control: command queue closed")

// Queue is the bounded FIFO between client handlers (many producers) and the
// dispatcher (single consumer). A full queue makes Push retry, it never drops.
type Queue struct {
	items  chan models.Command
	notify chan struct{}
	retry  time.Duration

	closed    chan struct{}
	closeOnce sync.Once

	pushed  atomic.Uint64
	retries atomic.Uint64
}

func NewQueue(capacity int, retry time.Duration) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &Queue{
		items:  make(chan models.Command, capacity),
		notify: make(chan struct{}, 1),
		retry:  retry,
		closed: make(chan struct{}),
	}
}

// Push enqueues cmd, retrying every retry interval while the queue is full,
// until it succeeds, ctx is done or the queue is closed. The consumer is
// signalled after every successful push.
func (q *Queue) Push(ctx context.Context, cmd models.Command) error {
	attempts := 0
	for {
		select {
		case <-q.closed:
			return ErrQueueClosed
		default:
		}

		select {
		case q.items <- cmd:
			q.pushed.Add(1)
			q.signal()
			return nil
		default:
		}

		attempts++
		q.retries.Add(1)
		if attempts == 1 || attempts%100 == 0 {
			log.Debug().
				Str("verb", cmd.Verb).
				Int("attempts", attempts).
				Int("capacity", cap(q.items)).
				Msg("Command queue full, retrying")
		}
		// wake the consumer in case it missed the earlier signal
		q.signal()

		timer := time.NewTimer(q.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-q.closed:
			timer.Stop()
			return ErrQueueClosed
		case <-timer.C:
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop returns the oldest command without blocking.
func (q *Queue) TryPop() (models.Command, bool) {
	select {
	case cmd := <-q.items:
		return cmd, true
	default:
		return models.Command{}, false
	}
}

// Signal fires at least once after any push since the last receive.
func (q *Queue) Signal() <-chan struct{} { return q.notify }

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Cap() int { return cap(q.items) }

// Pushed and Retries are counters for the status surface.
func (q *Queue) Pushed() uint64  { return q.pushed.Load() }
func (q *Queue) Retries() uint64 { return q.retries.Load() }

// Close rejects further pushes. Queued commands can still be popped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
