package port

import (
	"context"
	"time"
)

// Message is one delivery received from a queue.
type Message struct {
	// Handle identifies this delivery for Delete.
	Handle string
	Body   []byte
}

// Publisher sends message bodies, optionally delayed.
type Publisher interface {
	Send(ctx context.Context, body []byte, delay time.Duration) error
}

// Queue is an at-least-once work queue.
type Queue interface {
	Publisher
	// Receive long-polls for up to max messages, blocking at most wait.
	// An empty slice with nil error means the poll timed out.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, handle string) error
}
