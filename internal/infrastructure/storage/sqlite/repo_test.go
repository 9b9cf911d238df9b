package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
	"pfingest/internal/infrastructure/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteUpsertTradeIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tr := model.TradeRecord{
		PortfolioID: "p1",
		ExternalID:  "ext-1",
		Symbol:      "AAPL",
		Side:        model.SideBuy,
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.RequireFromString("150.25"),
		TradedAt:    time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC),
	}
	upsert := func() bool {
		var changed bool
		err := s.WithTx(ctx, func(tx port.Tx) error {
			var err error
			changed, err = tx.UpsertTrade(ctx, tr)
			return err
		})
		require.NoError(t, err)
		return changed
	}
	require.True(t, upsert(), "first write creates the row")
	require.False(t, upsert(), "identical rewrite changes nothing")

	// same id with new fields replaces in place
	tr.Quantity = decimal.NewFromInt(12)
	require.True(t, upsert())

	trades, err := s.ListTrades(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(12)))
	require.Equal(t, "150.25", trades[0].Price.String())
	require.Equal(t, tr.TradedAt, trades[0].TradedAt)
	require.Equal(t, model.SideBuy, trades[0].Side)

	other, err := s.ListTrades(ctx, "p2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestSQLiteWithTxRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx port.Tx) error {
		require.NoError(t, tx.UpsertPosition(ctx, model.Position{
			PortfolioID: "p1", Symbol: "AAPL",
			Quantity: decimal.NewFromInt(1), AvgCost: decimal.NewFromInt(2),
		}))
		require.NoError(t, tx.TouchPortfolio(ctx, "p1", time.Now(), "ok"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	positions, err := s.ListPositions(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, positions)
	_, err = s.GetPortfolio(ctx, "p1")
	require.ErrorIs(t, err, port.ErrPortfolioNotFound)
}

func TestSQLitePositionsAndMarker(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithTx(ctx, func(tx port.Tx) error {
		for _, sym := range []string{"MSFT", "AAPL"} {
			if err := tx.UpsertPosition(ctx, model.Position{
				PortfolioID: "p1", Symbol: sym,
				Quantity: decimal.NewFromInt(5), AvgCost: decimal.NewFromInt(100),
			}); err != nil {
				return err
			}
		}
		syms, err := tx.ListPositionSymbols(ctx, "p1")
		require.Equal(t, []string{"AAPL", "MSFT"}, syms)
		if err != nil {
			return err
		}
		deleted, err := tx.DeletePosition(ctx, "p1", "MSFT")
		require.True(t, deleted)
		if err != nil {
			return err
		}
		deleted, err = tx.DeletePosition(ctx, "p1", "NOPE")
		require.False(t, deleted)
		if err != nil {
			return err
		}
		return tx.TouchPortfolio(ctx, "p1", at, "ok: 2 rows")
	})
	require.NoError(t, err)

	positions, err := s.ListPositions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "AAPL", positions[0].Symbol)

	pf, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, at, pf.LastIngestAt)
	require.Equal(t, "ok: 2 rows", pf.LastIngestStatus)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	runs := s.Runs()
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	id, err := runs.CreatePending(ctx, model.IngestRun{ID: "run-1", PortfolioID: "p1", ObjectKey: "uploads/p1/a.csv", StartedAt: started})
	require.NoError(t, err)
	require.Equal(t, "run-1", id)

	// a second start for the same pending object reuses the first id
	id, err = runs.CreatePending(ctx, model.IngestRun{ID: "run-2", PortfolioID: "p1", ObjectKey: "uploads/p1/a.csv", StartedAt: started.Add(time.Second)})
	require.NoError(t, err)
	require.Equal(t, "run-1", id)

	require.NoError(t, runs.Finish(ctx, "run-1", model.RunOK, 7, 1, "", started.Add(time.Minute)))
	require.ErrorIs(t, runs.Finish(ctx, "run-1", model.RunError, 0, 0, "late", started), port.ErrRunFinished)
	require.ErrorIs(t, runs.Finish(ctx, "missing", model.RunOK, 0, 0, "", started), port.ErrRunNotFound)

	run, err := runs.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunOK, run.Status)
	require.Equal(t, 7, run.RowsOK)
	require.Equal(t, 1, run.RowsFailed)
	require.NotNil(t, run.FinishedAt)
	require.Empty(t, run.ErrorMessage)

	// once terminal, a new attempt gets a fresh run
	id, err = runs.CreatePending(ctx, model.IngestRun{ID: "run-3", PortfolioID: "p1", ObjectKey: "uploads/p1/a.csv", StartedAt: started.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "run-3", id)
	require.NoError(t, runs.Finish(ctx, "run-3", model.RunError, 0, 2, "db down", started.Add(2*time.Hour)))

	list, err := runs.ListByPortfolio(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "run-3", list[0].ID, "most recent first")
	require.Equal(t, "db down", list[0].ErrorMessage)
	require.Equal(t, "run-1", list[1].ID)

	list, err = runs.ListByPortfolio(ctx, "p1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = runs.Get(ctx, "nope")
	require.ErrorIs(t, err, port.ErrRunNotFound)
}
