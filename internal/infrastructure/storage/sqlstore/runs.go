package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

// RunRepo 导入记录仓储
type RunRepo struct {
	db *sql.DB
	d  Dialect
}

func (r *RunRepo) CreatePending(ctx context.Context, run model.IngestRun) (string, error) {
	// the partial unique index on pending runs turns a racing insert into a no-op
	_, err := r.db.ExecContext(ctx, r.d.Rebind(`
		INSERT INTO ingest_runs(id, portfolio_id, object_key, status, rows_ok, rows_failed, started_at)
		VALUES(?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT DO NOTHING
	`), run.ID, run.PortfolioID, run.ObjectKey, string(model.RunPending), run.StartedAt.UnixMilli())
	if err != nil {
		return "", err
	}

	var id string
	err = r.db.QueryRowContext(ctx, r.d.Rebind(`
		SELECT id FROM ingest_runs
		WHERE portfolio_id = ? AND object_key = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`), run.PortfolioID, run.ObjectKey, string(model.RunPending)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// finished between our insert and select; nothing pending to reuse
		return "", port.ErrRunFinished
	}
	return id, err
}

func (r *RunRepo) Finish(ctx context.Context, id string, status model.RunStatus, rowsOK, rowsFailed int, errMsg string, at time.Time) error {
	msg := sql.NullString{String: errMsg, Valid: errMsg != ""}
	res, err := r.db.ExecContext(ctx, r.d.Rebind(`
		UPDATE ingest_runs SET
			status=?, rows_ok=?, rows_failed=?, error_message=?, finished_at=?
		WHERE id=? AND status=?
	`), string(status), rowsOK, rowsFailed, msg, at.UnixMilli(), id, string(model.RunPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return port.ErrRunFinished
}

const runColumns = `id, portfolio_id, object_key, status, rows_ok, rows_failed, error_message, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*model.IngestRun, error) {
	var run model.IngestRun
	var status string
	var errMsg sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64
	if err := s.Scan(&run.ID, &run.PortfolioID, &run.ObjectKey, &status, &run.RowsOK, &run.RowsFailed,
		&errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.ErrorMessage = errMsg.String
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*model.IngestRun, error) {
	row := r.db.QueryRowContext(ctx, r.d.Rebind(`SELECT `+runColumns+` FROM ingest_runs WHERE id=?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRunNotFound
	}
	return run, err
}

func (r *RunRepo) ListByPortfolio(ctx context.Context, portfolioID string, limit int) ([]model.IngestRun, error) {
	rows, err := r.db.QueryContext(ctx, r.d.Rebind(`
		SELECT `+runColumns+`
		FROM ingest_runs
		WHERE portfolio_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), portfolioID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.IngestRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

var _ port.RunRepository = (*RunRepo)(nil)
