package service

import (
	"context"
	"fmt"
	"time"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
	domainservice "pfingest/internal/domain/service"
)

// RecomputeResult 持仓重算结果
type RecomputeResult struct {
	Updated int
	Deleted int
}

// PositionService owns the derived position set of the trade path.
type PositionService struct {
	store port.Store
	now   func() time.Time
}

func NewPositionService(store port.Store) *PositionService {
	return &PositionService{store: store, now: time.Now}
}

// Recompute rebuilds every position of the portfolio from its full ledger.
// Symbols that net to zero or vanished from the ledger are deleted. There is
// no lock: concurrent runs over the same ledger converge to the same rows.
func (s *PositionService) Recompute(ctx context.Context, portfolioID string) (RecomputeResult, error) {
	trades, err := s.store.ListTrades(ctx, portfolioID)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("list trades: %w", err)
	}
	net := domainservice.NetPositions(trades)
	now := s.now()

	var res RecomputeResult
	err = s.store.WithTx(ctx, func(tx port.Tx) error {
		res = RecomputeResult{}
		existing, err := tx.ListPositionSymbols(ctx, portfolioID)
		if err != nil {
			return err
		}
		for _, sym := range domainservice.SortedSymbols(net) {
			h := net[sym]
			if h.IsFlat() {
				deleted, err := tx.DeletePosition(ctx, portfolioID, sym)
				if err != nil {
					return err
				}
				if deleted {
					res.Deleted++
				}
				continue
			}
			if err := tx.UpsertPosition(ctx, model.Position{
				PortfolioID: portfolioID,
				Symbol:      sym,
				Quantity:    h.Quantity,
				AvgCost:     h.AvgCost,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
			res.Updated++
		}
		for _, sym := range existing {
			if _, ok := net[sym]; ok {
				continue
			}
			deleted, err := tx.DeletePosition(ctx, portfolioID, sym)
			if err != nil {
				return err
			}
			if deleted {
				res.Deleted++
			}
		}
		return nil
	})
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("write positions: %w", err)
	}
	return res, nil
}

func (s *PositionService) ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return s.store.ListPositions(ctx, portfolioID)
}
