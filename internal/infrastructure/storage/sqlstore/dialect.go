package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the few places SQLite and Postgres disagree.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2...) instead of ?.
	Numbered bool
	// DecimalType is the column type holding decimal strings.
	DecimalType string
}

var (
	SQLite   = Dialect{Name: "sqlite", DecimalType: "TEXT"}
	Postgres = Dialect{Name: "postgres", Numbered: true, DecimalType: "NUMERIC"}
)

// Rebind rewrites ? placeholders for the dialect. Queries in this package
// never contain ? inside string literals.
func (d Dialect) Rebind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS portfolios (
  id TEXT PRIMARY KEY,
  last_ingest_at BIGINT,
  last_ingest_status TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trades (
  portfolio_id TEXT NOT NULL,
  external_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity %[1]s NOT NULL,
  price %[1]s NOT NULL,
  traded_at BIGINT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (portfolio_id, external_id)
)`, d.DecimalType),
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(portfolio_id, symbol)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS positions (
  portfolio_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  quantity %[1]s NOT NULL,
  avg_cost %[1]s NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (portfolio_id, symbol)
)`, d.DecimalType),
		`CREATE TABLE IF NOT EXISTS ingest_runs (
  id TEXT PRIMARY KEY,
  portfolio_id TEXT NOT NULL,
  object_key TEXT NOT NULL,
  status TEXT NOT NULL,
  rows_ok INTEGER NOT NULL DEFAULT 0,
  rows_failed INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  started_at BIGINT NOT NULL,
  finished_at BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_runs_portfolio ON ingest_runs(portfolio_id, started_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_ingest_runs_pending ON ingest_runs(portfolio_id, object_key) WHERE status = 'pending'`,
	}
}
