package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

func TestRecomputeBuyThenPartialSell(t *testing.T) {
	store := newStore(t)
	ledger := NewLedgerService(store)
	positions := NewPositionService(store)
	ctx := context.Background()

	_, err := ledger.Upsert(ctx, "p1", []parser.TradeRow{
		tradeRow("AAPL", model.SideBuy, "10", "150", "2024-01-05T15:30:00Z"),
		tradeRow("AAPL", model.SideSell, "4", "155", "2024-01-06T15:30:00Z"),
	})
	require.NoError(t, err)

	res, err := positions.Recompute(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, RecomputeResult{Updated: 1}, res)

	got := positionMap(t, store, "p1")
	require.Len(t, got, 1)
	require.True(t, got["AAPL"].Quantity.Equal(decimal.NewFromInt(6)))
	require.True(t, got["AAPL"].AvgCost.Equal(decimal.NewFromInt(150)))

	// selling the remaining 6 removes the row entirely
	_, err = ledger.Upsert(ctx, "p1", []parser.TradeRow{
		tradeRow("AAPL", model.SideSell, "6", "160", "2024-01-07T15:30:00Z"),
	})
	require.NoError(t, err)
	res, err = positions.Recompute(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, RecomputeResult{Deleted: 1}, res)
	require.Empty(t, positionMap(t, store, "p1"))
}

func TestRecomputeIsIdempotentAndAllowsShorts(t *testing.T) {
	store := newStore(t)
	ledger := NewLedgerService(store)
	positions := NewPositionService(store)
	ctx := context.Background()

	rows := []parser.TradeRow{
		tradeRow("TSLA", model.SideSell, "3", "220", "2024-01-05T15:30:00Z"),
		tradeRow("NVDA", model.SideBuy, "2", "800", "2024-01-05T15:30:00Z"),
	}
	for i := 0; i < 2; i++ {
		_, err := ledger.Upsert(ctx, "p1", rows)
		require.NoError(t, err)
		_, err = positions.Recompute(ctx, "p1")
		require.NoError(t, err)
	}
	got := positionMap(t, store, "p1")
	require.Len(t, got, 2)
	require.True(t, got["TSLA"].Quantity.Equal(decimal.NewFromInt(-3)))
	require.True(t, got["NVDA"].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestRecomputeRemovesSymbolsMissingFromLedger(t *testing.T) {
	store := newStore(t)
	positions := NewPositionService(store)
	ctx := context.Background()

	// a stale row with no backing trades, e.g. left by a snapshot
	require.NoError(t, store.WithTx(ctx, func(tx port.Tx) error {
		return tx.UpsertPosition(ctx, model.Position{
			PortfolioID: "p1", Symbol: "GONE",
			Quantity: decimal.NewFromInt(1), AvgCost: decimal.NewFromInt(1),
		})
	}))

	res, err := positions.Recompute(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	require.Empty(t, positionMap(t, store, "p1"))
}
