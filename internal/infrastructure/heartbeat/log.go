package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Log writes one log line per beat.
type Log struct {
	worker string
	start  time.Time
}

func NewLog(worker string) *Log {
	return &Log{worker: worker, start: time.Now()}
}

func (l *Log) Beat(_ context.Context, at time.Time) error {
	log.Info().
		Str("worker", l.worker).
		Dur("uptime", at.Sub(l.start).Round(time.Second)).
		Msg("heartbeat")
	return nil
}
