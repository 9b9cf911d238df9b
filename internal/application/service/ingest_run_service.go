package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

// RunTracker manages the pending -> ok|error lifecycle of ingest runs.
// Runs left pending by a crashed worker stay pending; staleness is the
// poller's concern.
type RunTracker struct {
	repo  port.RunRepository
	now   func() time.Time
	newID func() string
}

func NewRunTracker(repo port.RunRepository) *RunTracker {
	return &RunTracker{repo: repo, now: time.Now, newID: uuid.NewString}
}

// Start returns the id of the pending run for this object, creating it if needed.
func (t *RunTracker) Start(ctx context.Context, portfolioID, objectKey string) (string, error) {
	return t.repo.CreatePending(ctx, model.IngestRun{
		ID:          t.newID(),
		PortfolioID: portfolioID,
		ObjectKey:   objectKey,
		Status:      model.RunPending,
		StartedAt:   t.now(),
	})
}

func (t *RunTracker) Complete(ctx context.Context, runID string, rowsOK, rowsFailed int) error {
	return t.repo.Finish(ctx, runID, model.RunOK, rowsOK, rowsFailed, "", t.now())
}

func (t *RunTracker) Fail(ctx context.Context, runID string, cause error, rowsFailed int) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return t.repo.Finish(ctx, runID, model.RunError, 0, rowsFailed, msg, t.now())
}

func (t *RunTracker) Get(ctx context.Context, runID string) (*model.IngestRun, error) {
	return t.repo.Get(ctx, runID)
}

// List returns the portfolio's runs, most recent first.
func (t *RunTracker) List(ctx context.Context, portfolioID string, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.repo.ListByPortfolio(ctx, portfolioID, limit)
}
