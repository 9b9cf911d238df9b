package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pfingest/internal/application/parser"
	"pfingest/internal/application/port"
	"pfingest/internal/domain/model"
)

// LedgerResult 一批成交写入结果
type LedgerResult struct {
	// Inserted counts every valid row written, Changed only those that were
	// new or differed from the stored trade.
	Inserted int
	Changed  int
	Skipped  int
}

// LedgerService writes parsed trade rows into the idempotent ledger.
type LedgerService struct {
	store port.Store
	now   func() time.Time
}

func NewLedgerService(store port.Store) *LedgerService {
	return &LedgerService{store: store, now: time.Now}
}

// Upsert writes rows keyed by external id. Invalid rows are skipped, never
// fatal. The trades and the portfolio's last-ingest marker commit together,
// and the marker moves even when nothing was written.
func (s *LedgerService) Upsert(ctx context.Context, portfolioID string, rows []parser.TradeRow) (LedgerResult, error) {
	var res LedgerResult
	records := make([]model.TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, ok := toTradeRecord(portfolioID, row)
		if !ok {
			res.Skipped++
			continue
		}
		records = append(records, rec)
	}

	err := s.store.WithTx(ctx, func(tx port.Tx) error {
		for _, rec := range records {
			changed, err := tx.UpsertTrade(ctx, rec)
			if err != nil {
				return fmt.Errorf("upsert trade %s: %w", rec.ExternalID, err)
			}
			if changed {
				res.Changed++
			}
		}
		status := fmt.Sprintf("ok: %d trades, %d skipped", len(records), res.Skipped)
		return tx.TouchPortfolio(ctx, portfolioID, s.now(), status)
	})
	if err != nil {
		return LedgerResult{}, err
	}
	res.Inserted = len(records)
	return res, nil
}

func toTradeRecord(portfolioID string, row parser.TradeRow) (model.TradeRecord, bool) {
	symbol := model.NormalizeSymbol(row.Symbol)
	if symbol == "" || row.TradedAt.IsZero() {
		return model.TradeRecord{}, false
	}
	if row.Side != model.SideBuy && row.Side != model.SideSell {
		return model.TradeRecord{}, false
	}
	if !row.Quantity.IsPositive() || !row.Price.IsPositive() {
		return model.TradeRecord{}, false
	}
	rec := model.TradeRecord{
		PortfolioID: portfolioID,
		ExternalID:  row.ExternalID,
		Symbol:      symbol,
		Side:        row.Side,
		Quantity:    row.Quantity,
		Price:       row.Price,
		TradedAt:    row.TradedAt.UTC(),
	}
	if rec.ExternalID == "" {
		rec.ExternalID = DeriveExternalID(rec)
	}
	return rec, true
}

// DeriveExternalID is a UUIDv5 over portfolioId:symbol:quantity:price:tradedAt,
// so re-uploading the same fill always maps to the same ledger entry.
func DeriveExternalID(t model.TradeRecord) string {
	key := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.PortfolioID, t.Symbol, t.Quantity.String(), t.Price.String(), t.TradedAt.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
