// Package sqlstore implements the ledger, position and ingest run store on
// database/sql. The same code serves SQLite and Postgres through a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

type Store struct {
	db   *sql.DB
	d    Dialect
	runs *RunRepo
}

// New migrates the schema and wraps db.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, d: d, runs: &RunRepo{db: db, d: d}}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", d.Name, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.d }

func (s *Store) Runs() port.RunRepository { return s.runs }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithTx(ctx context.Context, fn func(tx port.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&txWriter{tx: tx, d: s.d}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, portfolioID string) ([]model.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(`
		SELECT portfolio_id, external_id, symbol, side, quantity, price, traded_at
		FROM trades
		WHERE portfolio_id = ?
		ORDER BY traded_at, external_id
	`), portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side string
		var tradedAt int64
		if err := rows.Scan(&t.PortfolioID, &t.ExternalID, &t.Symbol, &side, &t.Quantity, &t.Price, &tradedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.TradedAt = time.UnixMilli(tradedAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(`
		SELECT portfolio_id, symbol, quantity, avg_cost, updated_at
		FROM positions
		WHERE portfolio_id = ?
		ORDER BY symbol
	`), portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Position, 0)
	for rows.Next() {
		var p model.Position
		var updatedAt int64
		if err := rows.Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AvgCost, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPortfolio(ctx context.Context, portfolioID string) (*model.Portfolio, error) {
	var p model.Portfolio
	var lastAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.d.Rebind(`
		SELECT id, last_ingest_at, last_ingest_status FROM portfolios WHERE id = ?
	`), portfolioID).Scan(&p.ID, &lastAt, &p.LastIngestStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		p.LastIngestAt = time.UnixMilli(lastAt.Int64).UTC()
	}
	return &p, nil
}

var _ port.Store = (*Store)(nil)
