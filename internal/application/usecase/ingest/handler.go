package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/application/service"
)

// Outcome summarises one handled notification.
type Outcome struct {
	RunID      string
	Intent     parser.Intent
	RowsOK     int
	RowsFailed int
}

// MessageHandler ingests one classified notification.
type MessageHandler interface {
	Handle(ctx context.Context, n Notification) (Outcome, error)
}

type HandlerDeps struct {
	Objects        port.ObjectStore
	Ledger         *service.LedgerService
	Positions      *service.PositionService
	Snapshots      *service.SnapshotService
	Runs           *service.RunTracker
	SnapshotPrefix string
}

// Handler runs the trade or snapshot ingest path for a notification and
// records it as an ingest run.
type Handler struct {
	deps HandlerDeps
}

func NewHandler(deps HandlerDeps) *Handler {
	if deps.SnapshotPrefix == "" {
		deps.SnapshotPrefix = "positions/"
	}
	return &Handler{deps: deps}
}

// IntentFor routes snapshot-prefixed keys to snapshot ingest.
func (h *Handler) IntentFor(key string) parser.Intent {
	if strings.HasPrefix(strings.TrimLeft(key, "/"), h.deps.SnapshotPrefix) {
		return parser.IntentSnapshot
	}
	return parser.IntentTrades
}

func (h *Handler) Handle(ctx context.Context, n Notification) (Outcome, error) {
	out := Outcome{Intent: h.IntentFor(n.Key)}

	runID, err := h.deps.Runs.Start(ctx, n.PortfolioID, n.Key)
	if err != nil {
		return out, fmt.Errorf("start run: %w", err)
	}
	out.RunID = runID

	text, err := h.deps.Objects.Fetch(ctx, n.Key)
	if err != nil {
		return out, h.fail(ctx, runID, fmt.Errorf("fetch %s: %w", n.Key, err), 0)
	}

	res := parser.Parse(text, out.Intent)
	switch out.Intent {
	case parser.IntentSnapshot:
		sr, err := h.deps.Snapshots.Ingest(ctx, n.PortfolioID, res.Snapshots)
		if err != nil {
			return out, h.fail(ctx, runID, fmt.Errorf("snapshot ingest: %w", err), res.Skipped)
		}
		out.RowsOK = sr.Applied + sr.Deleted
		out.RowsFailed = res.Skipped + sr.Skipped
	default:
		lr, err := h.deps.Ledger.Upsert(ctx, n.PortfolioID, res.Trades)
		if err != nil {
			return out, h.fail(ctx, runID, fmt.Errorf("ledger upsert: %w", err), res.Skipped)
		}
		out.RowsOK = lr.Inserted
		out.RowsFailed = res.Skipped + lr.Skipped
		// a retry may follow a recompute that failed after the trades committed
		if lr.Changed > 0 || n.Attempt > 0 {
			rr, err := h.deps.Positions.Recompute(ctx, n.PortfolioID)
			if err != nil {
				return out, h.fail(ctx, runID, fmt.Errorf("recompute positions: %w", err), out.RowsFailed)
			}
			log.Debug().
				Str("portfolio_id", n.PortfolioID).
				Int("updated", rr.Updated).
				Int("deleted", rr.Deleted).
				Msg("positions recomputed")
		}
	}

	if err := h.deps.Runs.Complete(ctx, runID, out.RowsOK, out.RowsFailed); err != nil {
		// another delivery of the same object already finished this run
		if errors.Is(err, port.ErrRunFinished) {
			log.Warn().Str("run_id", runID).Msg("run already finished")
			return out, nil
		}
		return out, fmt.Errorf("complete run: %w", err)
	}
	return out, nil
}

func (h *Handler) fail(ctx context.Context, runID string, cause error, rowsFailed int) error {
	if err := h.deps.Runs.Fail(ctx, runID, cause, rowsFailed); err != nil && !errors.Is(err, port.ErrRunFinished) {
		log.Error().Err(err).Str("run_id", runID).Msg("mark run failed")
	}
	return cause
}
