package service

import (
	"context"
	"fmt"
	"time"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

// SnapshotResult 快照导入结果
type SnapshotResult struct {
	Applied int
	Deleted int
	Skipped int
}

// SnapshotService overwrites positions from a broker export, bypassing the ledger.
type SnapshotService struct {
	store port.Store
	now   func() time.Time
}

func NewSnapshotService(store port.Store) *SnapshotService {
	return &SnapshotService{store: store, now: time.Now}
}

// Ingest applies all rows and the last-ingest marker in one transaction.
// A zero quantity removes the position rather than storing a flat row.
func (s *SnapshotService) Ingest(ctx context.Context, portfolioID string, rows []parser.SnapshotRow) (SnapshotResult, error) {
	var res SnapshotResult
	now := s.now()
	err := s.store.WithTx(ctx, func(tx port.Tx) error {
		res = SnapshotResult{}
		for _, row := range rows {
			sym := model.NormalizeSymbol(row.Symbol)
			if sym == "" {
				res.Skipped++
				continue
			}
			if row.Quantity.IsZero() {
				if _, err := tx.DeletePosition(ctx, portfolioID, sym); err != nil {
					return fmt.Errorf("delete position %s: %w", sym, err)
				}
				res.Deleted++
				continue
			}
			if err := tx.UpsertPosition(ctx, model.Position{
				PortfolioID: portfolioID,
				Symbol:      sym,
				Quantity:    row.Quantity,
				AvgCost:     row.AvgCost,
				UpdatedAt:   now,
			}); err != nil {
				return fmt.Errorf("upsert position %s: %w", sym, err)
			}
			res.Applied++
		}
		status := fmt.Sprintf("ok: snapshot %d positions, %d skipped", res.Applied+res.Deleted, res.Skipped)
		return tx.TouchPortfolio(ctx, portfolioID, now, status)
	})
	if err != nil {
		return SnapshotResult{}, err
	}
	return res, nil
}
