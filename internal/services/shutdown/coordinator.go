// Package shutdown turns termination signals and the close command into one
// cancellation token and joins every tracked goroutine before exit.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	pollInterval time.Duration
	warnAfter    time.Duration

	mu      sync.Mutex
	reason  string
	running map[string]int
}

func New(parent context.Context, pollInterval, warnAfter time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	if warnAfter <= 0 {
		warnAfter = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: pollInterval,
		warnAfter:    warnAfter,
		running:      make(map[string]int),
	}
}

// Context is the token handed to every loop at construction.
func (c *Coordinator) Context() context.Context { return c.ctx }

func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

// ListenSignals stops the coordinator on SIGINT/SIGTERM, or on the given signals.
func (c *Coordinator) ListenSignals(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, sigs...)
	go func() {
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			c.Stop("signal " + sig.String())
		case <-c.ctx.Done():
		}
	}()
}

// Stop requests cooperative termination. The first reason is kept.
func (c *Coordinator) Stop(reason string) {
	c.mu.Lock()
	first := c.reason == ""
	if first {
		c.reason = reason
	}
	c.mu.Unlock()
	if first {
		log.Info().Str("reason", reason).Msg("Shutdown requested")
	}
	c.cancel()
}

func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Go runs fn in a tracked goroutine. A returned error or a panic is logged and
// stops the coordinator, since the remaining loops cannot serve without it.
func (c *Coordinator) Go(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	c.running[name]++
	c.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Interface("panic", r).Msg("Task panic recovered")
				c.Stop(name + " panicked")
			}
			c.mu.Lock()
			if c.running[name]--; c.running[name] <= 0 {
				delete(c.running, name)
			}
			c.mu.Unlock()
		}()

		if err := fn(c.ctx); err != nil {
			log.Error().Err(err).Str("task", name).Msg("Task failed")
			c.Stop(name + " failed")
			return
		}
		log.Debug().Str("task", name).Msg("Task exited")
	}()
}

// Running lists the tracked tasks that have not returned yet.
func (c *Coordinator) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.running))
	for name := range c.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait polls until every tracked task has returned or timeout elapses,
// warning about stragglers every warnAfter.
func (c *Coordinator) Wait(timeout time.Duration) error {
	begin := time.Now()
	lastWarn := begin
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		pending := c.Running()
		if len(pending) == 0 {
			log.Info().Dur("elapsed", time.Since(begin)).Msg("All tasks joined")
			return nil
		}
		if timeout > 0 && time.Since(begin) >= timeout {
			return fmt.Errorf("shutdown timed out after %s waiting for %s", timeout, strings.Join(pending, ", "))
		}
		if time.Since(lastWarn) >= c.warnAfter {
			lastWarn = time.Now()
			log.Warn().Strs("pending", pending).Dur("elapsed", time.Since(begin)).Msg("Still waiting for tasks")
		}
		<-ticker.C
	}
}
