package port

import (
	"context"
	"errors"
	"time"

	"pfingest/internal/domain/model"
)

var (
	// ErrRunNotFound 导入记录不存在
	ErrRunNotFound = errors.New("ingest run not found")
	// ErrRunFinished 导入记录已是终态，不允许再次更新
	ErrRunFinished = errors.New("ingest run already finished")
	// ErrPortfolioNotFound 组合不存在
	ErrPortfolioNotFound = errors.New("portfolio not found")
)

// Store is the persistent ledger/position/run store.
type Store interface {
	// WithTx runs fn in one transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ledger reads
	ListTrades(ctx context.Context, portfolioID string) ([]model.TradeRecord, error)

	// Position reads
	ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error)

	// Portfolio marker
	GetPortfolio(ctx context.Context, portfolioID string) (*model.Portfolio, error)

	Runs() RunRepository

	// Connection management
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside Store.WithTx.
type Tx interface {
	// UpsertTrade reports whether the row was created or any field changed.
	UpsertTrade(ctx context.Context, t model.TradeRecord) (bool, error)
	UpsertPosition(ctx context.Context, p model.Position) error
	// DeletePosition reports whether a row was removed.
	DeletePosition(ctx context.Context, portfolioID, symbol string) (bool, error)
	ListPositionSymbols(ctx context.Context, portfolioID string) ([]string, error)
	TouchPortfolio(ctx context.Context, portfolioID string, at time.Time, status string) error
}

// RunRepository persists IngestRun lifecycle records.
type RunRepository interface {
	// CreatePending inserts run unless a pending run for the same
	// portfolio and object key exists; either way the pending id is returned.
	CreatePending(ctx context.Context, run model.IngestRun) (string, error)
	// Finish applies the single terminal transition of a pending run.
	Finish(ctx context.Context, id string, status model.RunStatus, rowsOK, rowsFailed int, errMsg string, at time.Time) error
	Get(ctx context.Context, id string) (*model.IngestRun, error)
	ListByPortfolio(ctx context.Context, portfolioID string, limit int) ([]model.IngestRun, error)
}
