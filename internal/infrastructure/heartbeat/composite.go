package heartbeat

import (
	"context"
	"time"

	"pfingest/internal/application/port"
)

// Composite fans a beat out to several sinks and reports the first error.
type Composite struct {
	beats []port.Heartbeat
}

func NewComposite(beats ...port.Heartbeat) *Composite {
	// nil sinks are allowed so callers can pass optional ones
	out := make([]port.Heartbeat, 0, len(beats))
	for _, b := range beats {
		if b != nil {
			out = append(out, b)
		}
	}
	return &Composite{beats: out}
}

func (c *Composite) Beat(ctx context.Context, at time.Time) error {
	var firstErr error
	for _, b := range c.beats {
		if err := b.Beat(ctx, at); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
