package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

type txWriter struct {
	tx *sql.Tx
	d  Dialect
}

func (w *txWriter) UpsertTrade(ctx context.Context, t model.TradeRecord) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := w.tx.ExecContext(ctx, w.d.Rebind(`
		INSERT INTO trades(portfolio_id, external_id, symbol, side, quantity, price, traded_at, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, external_id) DO UPDATE SET
		symbol=excluded.symbol, side=excluded.side, quantity=excluded.quantity,
		price=excluded.price, traded_at=excluded.traded_at, updated_at=excluded.updated_at
		WHERE trades.symbol <> excluded.symbol OR trades.side <> excluded.side
		OR trades.quantity <> excluded.quantity OR trades.price <> excluded.price
		OR trades.traded_at <> excluded.traded_at
	`), t.PortfolioID, t.ExternalID, t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		t.TradedAt.UnixMilli(), now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (w *txWriter) UpsertPosition(ctx context.Context, p model.Position) error {
	ts := p.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := w.tx.ExecContext(ctx, w.d.Rebind(`
		INSERT INTO positions(portfolio_id, symbol, quantity, avg_cost, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
		quantity=excluded.quantity, avg_cost=excluded.avg_cost, updated_at=excluded.updated_at
	`), p.PortfolioID, p.Symbol, p.Quantity.String(), p.AvgCost.String(), ts.UnixMilli())
	return err
}

func (w *txWriter) DeletePosition(ctx context.Context, portfolioID, symbol string) (bool, error) {
	res, err := w.tx.ExecContext(ctx, w.d.Rebind(`DELETE FROM positions WHERE portfolio_id = ? AND symbol = ?`), portfolioID, symbol)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (w *txWriter) ListPositionSymbols(ctx context.Context, portfolioID string) ([]string, error) {
	rows, err := w.tx.QueryContext(ctx, w.d.Rebind(`SELECT symbol FROM positions WHERE portfolio_id = ? ORDER BY symbol`), portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (w *txWriter) TouchPortfolio(ctx context.Context, portfolioID string, at time.Time, status string) error {
	ts := at.UnixMilli()
	_, err := w.tx.ExecContext(ctx, w.d.Rebind(`
		INSERT INTO portfolios(id, last_ingest_at, last_ingest_status, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		last_ingest_at=excluded.last_ingest_at, last_ingest_status=excluded.last_ingest_status, updated_at=excluded.updated_at
	`), portfolioID, ts, status, ts, ts)
	return err
}

var _ port.Tx = (*txWriter)(nil)
