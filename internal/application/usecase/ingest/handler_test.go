package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/application/service"
	"pfingest/internal/domain/model"
	"pfingest/internal/infrastructure/storage/sqlite"
	"pfingest/internal/infrastructure/storage/sqlstore"
)

type mapObjects map[string]string

func (m mapObjects) Fetch(_ context.Context, key string) (string, error) {
	body, ok := m[key]
	if !ok {
		return "", port.ErrObjectNotFound
	}
	return body, nil
}

type handlerFixture struct {
	store   *sqlstore.Store
	objects mapObjects
	runs    *service.RunTracker
	h       *Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &handlerFixture{store: store, objects: mapObjects{}, runs: service.NewRunTracker(store.Runs())}
	f.h = NewHandler(HandlerDeps{
		Objects:        f.objects,
		Ledger:         service.NewLedgerService(store),
		Positions:      service.NewPositionService(store),
		Snapshots:      service.NewSnapshotService(store),
		Runs:           f.runs,
		SnapshotPrefix: "positions/",
	})
	return f
}

func (f *handlerFixture) positions(t *testing.T, portfolioID string) map[string]model.Position {
	t.Helper()
	list, err := f.store.ListPositions(context.Background(), portfolioID)
	require.NoError(t, err)
	out := map[string]model.Position{}
	for _, p := range list {
		out[p.Symbol] = p
	}
	return out
}

func TestHandleTradeFile(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.objects["uploads/p1/trades.csv"] = "symbol,side,qty,price,tradedAt\n" +
		"AAPL,BUY,10,150,2024-01-05T15:30:00Z\n" +
		"garbage line\n" +
		"AAPL,SELL,4,155,2024-01-06T15:30:00Z\n"

	out, err := f.h.Handle(ctx, Notification{PortfolioID: "p1", Key: "uploads/p1/trades.csv"})
	require.NoError(t, err)
	require.Equal(t, parser.IntentTrades, out.Intent)
	require.Equal(t, 2, out.RowsOK)
	require.Equal(t, 1, out.RowsFailed)

	pos := f.positions(t, "p1")
	require.Len(t, pos, 1)
	require.Equal(t, "6", pos["AAPL"].Quantity.String())
	require.Equal(t, "150", pos["AAPL"].AvgCost.String())

	run, err := f.runs.Get(ctx, out.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunOK, run.Status)
	require.Equal(t, 2, run.RowsOK)
	require.Equal(t, 1, run.RowsFailed)
	require.NotNil(t, run.FinishedAt)
}

func TestHandleSnapshotFile(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.objects["positions/p1/export.csv"] = "symbol,quantity,avgCost\nMSFT,20,310.5\nTSLA,0,0\n"

	out, err := f.h.Handle(ctx, Notification{PortfolioID: "p1", Key: "positions/p1/export.csv"})
	require.NoError(t, err)
	require.Equal(t, parser.IntentSnapshot, out.Intent)

	pos := f.positions(t, "p1")
	require.Len(t, pos, 1)
	require.Equal(t, "20", pos["MSFT"].Quantity.String())
	require.Equal(t, "310.5", pos["MSFT"].AvgCost.String())

	trades, err := f.store.ListTrades(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, trades, "snapshots bypass the ledger")
}

func TestHandleEmptyTradeFileCompletesRun(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.objects["uploads/p1/empty.csv"] = "symbol,side,qty,price,tradedAt\nnot,a,trade,row,here\n"

	out, err := f.h.Handle(ctx, Notification{PortfolioID: "p1", Key: "uploads/p1/empty.csv"})
	require.NoError(t, err)
	require.Zero(t, out.RowsOK)
	require.Equal(t, 1, out.RowsFailed)

	pf, err := f.store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	require.False(t, pf.LastIngestAt.IsZero())
}

func TestHandleMissingObjectFailsRun(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	out, err := f.h.Handle(ctx, Notification{PortfolioID: "p1", Key: "uploads/p1/gone.csv"})
	require.ErrorIs(t, err, port.ErrObjectNotFound)
	require.NotEmpty(t, out.RunID)

	run, err := f.runs.Get(ctx, out.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunError, run.Status)
	require.Contains(t, run.ErrorMessage, "gone.csv")
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.objects["uploads/p1/trades.csv"] = "symbol,side,qty,price,tradedAt\nAAPL,BUY,10,150,2024-01-05T15:30:00Z\n"
	n := Notification{PortfolioID: "p1", Key: "uploads/p1/trades.csv"}

	for i := 0; i < 3; i++ {
		_, err := f.h.Handle(ctx, n)
		require.NoError(t, err)
	}

	trades, err := f.store.ListTrades(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "10", f.positions(t, "p1")["AAPL"].Quantity.String())
}

func TestHandleUnchangedRedeliverySkipsRecompute(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	f.objects["uploads/p1/trades.csv"] = "symbol,side,qty,price,tradedAt\nAAPL,BUY,10,150,2024-01-05T15:30:00Z\n"
	n := Notification{PortfolioID: "p1", Key: "uploads/p1/trades.csv"}

	_, err := f.h.Handle(ctx, n)
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(ctx, func(tx port.Tx) error {
		_, err := tx.DeletePosition(ctx, "p1", "AAPL")
		return err
	}))

	out, err := f.h.Handle(ctx, n)
	require.NoError(t, err)
	require.Equal(t, 1, out.RowsOK)
	require.NotContains(t, f.positions(t, "p1"), "AAPL", "no trade changed, positions left alone")

	n.Attempt = 1
	_, err = f.h.Handle(ctx, n)
	require.NoError(t, err)
	require.Equal(t, "10", f.positions(t, "p1")["AAPL"].Quantity.String(), "retries always recompute")
}

func TestIntentFor(t *testing.T) {
	h := NewHandler(HandlerDeps{})
	require.Equal(t, parser.IntentSnapshot, h.IntentFor("positions/p1/x.csv"))
	require.Equal(t, parser.IntentSnapshot, h.IntentFor("/positions/p1/x.csv"))
	require.Equal(t, parser.IntentTrades, h.IntentFor("uploads/p1/positions.csv"))
}
