package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pfingest/internal/application/port"
)

type ServiceDeps struct {
	Queue          port.Queue
	DeadLetter     port.Publisher
	Handler        MessageHandler
	Classifier     Classifier
	Policy         RetryPolicy
	BatchSize      int
	WaitTime       time.Duration
	Heartbeat      port.Heartbeat
	HeartbeatEvery time.Duration
	Metrics        port.IngestMetrics
	// ReceiveBackoff is the pause after a failed receive.
	ReceiveBackoff time.Duration
}

// Service is the queue consumer loop.
type Service struct {
	deps ServiceDeps
	now  func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	if deps.BatchSize <= 0 {
		deps.BatchSize = 10
	}
	if deps.WaitTime <= 0 {
		deps.WaitTime = 20 * time.Second
	}
	if deps.HeartbeatEvery <= 0 {
		deps.HeartbeatEvery = 30 * time.Second
	}
	if deps.ReceiveBackoff <= 0 {
		deps.ReceiveBackoff = time.Second
	}
	if deps.Heartbeat == nil {
		deps.Heartbeat = NewNoopHeartbeat()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewNoopMetrics()
	}
	deps.Policy = deps.Policy.withDefaults()
	return &Service{deps: deps, now: time.Now}
}

// Run polls until ctx is cancelled. A received batch is always processed to
// the end; cancellation only takes effect between batches.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Queue == nil || s.deps.Handler == nil {
		return errors.New("ingest: queue and handler are required")
	}
	if s.deps.DeadLetter == nil {
		return errors.New("ingest: dead-letter destination is required")
	}

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(ctx)
	}()
	defer func() { <-hbDone }()

	log.Info().
		Int("batch", s.deps.BatchSize).
		Dur("wait", s.deps.WaitTime).
		Int("max_attempts", s.deps.Policy.MaxAttempts).
		Msg("ingest consumer started")

	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("ingest consumer stopping")
			return err
		}

		msgs, err := s.deps.Queue.Receive(ctx, s.deps.BatchSize, s.deps.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(s.deps.ReceiveBackoff):
			}
			continue
		}

		batchCtx := context.WithoutCancel(ctx)
		for _, m := range msgs {
			s.Process(batchCtx, m)
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.deps.HeartbeatEvery)
	defer t.Stop()

	beat := func(at time.Time) {
		if err := s.deps.Heartbeat.Beat(ctx, at); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("heartbeat failed")
		}
	}
	beat(s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-t.C:
			beat(at)
		}
	}
}

// Process handles one delivery. It never returns an error: every failure ends
// in ack, requeue, dead-letter, or leaving the message for redelivery.
func (s *Service) Process(ctx context.Context, m port.Message) {
	s.deps.Metrics.MessageReceived()

	n, err := s.deps.Classifier.Classify(m.Body)
	if err != nil {
		log.Warn().Err(err).Str("handle", m.Handle).Bytes("body", truncate(m.Body, 256)).Msg("dropping unrecognized message")
		s.deps.Metrics.MessageDropped(dropReason(err))
		s.ack(ctx, m)
		return
	}

	logger := log.With().
		Str("portfolio_id", n.PortfolioID).
		Str("key", n.Key).
		Int("attempt", n.Attempt).
		Str("shape", n.Shape.String()).
		Logger()

	start := s.now()
	out, err := s.handle(ctx, n)
	took := s.now().Sub(start)
	if err == nil {
		s.deps.Metrics.RunFinished("ok", out.RowsOK, out.RowsFailed, took)
		logger.Info().
			Str("run_id", out.RunID).
			Str("intent", out.Intent.String()).
			Int("rows_ok", out.RowsOK).
			Int("rows_failed", out.RowsFailed).
			Dur("took", took).
			Msg("ingest ok")
		s.ack(ctx, m)
		return
	}

	s.deps.Metrics.RunFinished("error", out.RowsOK, out.RowsFailed, took)
	logger.Error().Err(err).Str("run_id", out.RunID).Msg("ingest failed")

	d := s.deps.Policy.Next(RetryableMessage{
		PortfolioID: n.PortfolioID,
		Key:         n.Key,
		Attempt:     n.Attempt,
	}, err)
	body, err := json.Marshal(d.Message)
	if err != nil {
		logger.Error().Err(err).Msg("encode retry message; leaving for redelivery")
		return
	}

	switch d.Action {
	case ActionRequeue:
		if err := s.deps.Queue.Send(ctx, body, d.Delay); err != nil {
			logger.Error().Err(err).Msg("requeue failed; leaving for redelivery")
			return
		}
		s.deps.Metrics.Retried()
		logger.Info().Int("next_attempt", d.Message.Attempt).Float64("delay_s", d.Delay.Seconds()).Msg("requeued")
	case ActionDeadLetter:
		if err := s.deps.DeadLetter.Send(ctx, body, 0); err != nil {
			logger.Error().Err(err).Msg("dead-letter failed; leaving for redelivery")
			return
		}
		s.deps.Metrics.DeadLettered()
		logger.Error().Str("reason", d.Reason).Msg("dead-lettered")
	}
	s.ack(ctx, m)
}

func (s *Service) handle(ctx context.Context, n Notification) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.deps.Handler.Handle(ctx, n)
}

func (s *Service) ack(ctx context.Context, m port.Message) {
	if err := s.deps.Queue.Delete(ctx, m.Handle); err != nil {
		log.Error().Err(err).Str("handle", m.Handle).Msg("delete message failed")
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingPortfolio):
		return "missing_portfolio"
	case errors.Is(err, ErrMissingKey):
		return "missing_key"
	default:
		return "unrecognized"
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
