package messaging

import (
	"context"
	"errors"

	"frame-grabber-go/internal/models"
)

// Publisher is one event backend.
type Publisher interface {
	PublishFrame(event models.FrameEvent)
	PublishSession(event models.SessionEvent)
	Shutdown(ctx context.Context) error
}

// Fanout forwards every event to all backends in order.
type Fanout []Publisher

func (f Fanout) PublishFrame(event models.FrameEvent) {
	for _, p := range f {
		p.PublishFrame(event)
	}
}

func (f Fanout) PublishSession(event models.SessionEvent) {
	for _, p := range f {
		p.PublishSession(event)
	}
}

func (f Fanout) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
