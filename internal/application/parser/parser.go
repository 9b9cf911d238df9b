// Package parser turns uploaded CSV text into validated rows.
//
// Two grammars are supported: trade files (header required, columns resolved
// by name) and position snapshots (header optional, detected heuristically).
// Malformed lines never fail the parse; they are dropped and counted.
package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pfingest/internal/domain/model"
)

// Intent declares which grammar the payload follows.
type Intent int

const (
	IntentTrades Intent = iota
	IntentSnapshot
)

func (i Intent) String() string {
	if i == IntentSnapshot {
		return "snapshot"
	}
	return "trades"
}

// TradeRow is a fully validated trade line.
type TradeRow struct {
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	TradedAt   time.Time
	ExternalID string
}

// SnapshotRow is a fully validated position snapshot line.
type SnapshotRow struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// Result holds the rows of one grammar. DataLines counts every non-blank
// line after the header, so len(rows) + Skipped == DataLines.
type Result struct {
	Intent    Intent
	Trades    []TradeRow
	Snapshots []SnapshotRow
	Skipped   int
	DataLines int
}

// Rows returns the number of parsed rows for the declared intent.
func (r Result) Rows() int {
	if r.Intent == IntentSnapshot {
		return len(r.Snapshots)
	}
	return len(r.Trades)
}

// Parse never returns an error; malformed input degrades row by row.
func Parse(text string, intent Intent) Result {
	if intent == IntentSnapshot {
		rows, skipped, lines := ParseSnapshot(text)
		return Result{Intent: intent, Snapshots: rows, Skipped: skipped, DataLines: lines}
	}
	rows, skipped, lines := ParseTrades(text)
	return Result{Intent: intent, Trades: rows, Skipped: skipped, DataLines: lines}
}

const bom = "\ufeff"

// records yields one record per non-blank physical line of text. Each line
// gets its own csv reader, so a stray quote can only spoil the line it sits
// on. A nil record with ok=false marks a line the csv reader rejected.
func records(text string, fn func(rec []string, ok bool)) {
	text = strings.TrimPrefix(text, bom)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := readLine(line)
		if err != nil {
			fn(nil, false)
			continue
		}
		fn(rec, true)
	}
}

func readLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	rec, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty record")
	}
	return rec, err
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, bom)))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, " ", "")
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func parseNumber(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTimestamp accepts the common ISO layouts, US dates and unix seconds
// or milliseconds. Zone-less values are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		// 1e11 seconds is year 5138; anything larger is milliseconds
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
