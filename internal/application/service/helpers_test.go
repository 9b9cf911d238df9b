package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
	"pfingest/internal/infrastructure/storage/sqlite"
	"pfingest/internal/infrastructure/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tradeRow(sym string, side model.Side, qty, px, ts string) parser.TradeRow {
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return parser.TradeRow{
		Symbol:   sym,
		Side:     side,
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(px),
		TradedAt: at,
	}
}

func positionMap(t *testing.T, s port.Store, portfolioID string) map[string]model.Position {
	t.Helper()
	positions, err := s.ListPositions(context.Background(), portfolioID)
	require.NoError(t, err)
	out := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		out[p.Symbol] = p
	}
	return out
}

var errWrite = errors.New("connection reset")

// failingStore fails every transaction.
type failingStore struct {
	port.Store
}

func (f failingStore) WithTx(ctx context.Context, fn func(tx port.Tx) error) error {
	return errWrite
}
