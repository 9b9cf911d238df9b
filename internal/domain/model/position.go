package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 组合内单个标的的净持仓
// Quantity is signed (negative = short) and never zero when persisted.
type Position struct {
	PortfolioID string          `json:"portfolioId"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avgCost"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Portfolio carries only the last-ingest marker owned by the ingestion worker.
type Portfolio struct {
	ID               string    `json:"id"`
	LastIngestAt     time.Time `json:"lastIngestAt"`
	LastIngestStatus string    `json:"lastIngestStatus"`
}
