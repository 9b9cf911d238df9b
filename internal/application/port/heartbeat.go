package port

import (
	"context"
	"time"
)

// Heartbeat records worker liveness independent of message volume.
type Heartbeat interface {
	Beat(ctx context.Context, at time.Time) error
}
