package parser

import (
	"github.com/shopspring/decimal"

	"pfingest/internal/domain/model"
)

type snapshotColumns struct {
	symbol, quantity, avgCost int
}

// positional layout used when the file has no header
var headerless = snapshotColumns{symbol: 0, quantity: 1, avgCost: 2}

// detectSnapshotHeader reports whether rec names the required columns.
func detectSnapshotHeader(rec []string) (snapshotColumns, bool) {
	c := snapshotColumns{-1, -1, -1}
	for i, h := range rec {
		switch normalizeHeader(h) {
		case "symbol":
			c.symbol = i
		case "quantity", "qty":
			c.quantity = i
		case "avgcost":
			c.avgCost = i
		}
	}
	if c.symbol < 0 || c.quantity < 0 {
		return snapshotColumns{}, false
	}
	return c, true
}

// ParseSnapshot parses a position snapshot. A first line that does not look
// like a header is treated as data.
func ParseSnapshot(text string) ([]SnapshotRow, int, int) {
	var (
		rows    []SnapshotRow
		skipped int
		lines   int
		cols    = headerless
		first   = true
	)
	records(text, func(rec []string, ok bool) {
		if first {
			first = false
			if ok {
				if c, isHeader := detectSnapshotHeader(rec); isHeader {
					cols = c
					return
				}
			}
		}
		lines++
		row, valid := snapshotRow(rec, ok, cols)
		if !valid {
			skipped++
			return
		}
		rows = append(rows, row)
	})
	return rows, skipped, lines
}

func snapshotRow(rec []string, ok bool, cols snapshotColumns) (SnapshotRow, bool) {
	if !ok {
		return SnapshotRow{}, false
	}
	symbol := model.NormalizeSymbol(field(rec, cols.symbol))
	if symbol == "" {
		return SnapshotRow{}, false
	}
	qty, ok := parseNumber(field(rec, cols.quantity))
	if !ok {
		return SnapshotRow{}, false
	}
	avg := decimal.Zero
	if raw := field(rec, cols.avgCost); raw != "" {
		if avg, ok = parseNumber(raw); !ok {
			return SnapshotRow{}, false
		}
	}
	return SnapshotRow{Symbol: symbol, Quantity: qty, AvgCost: avg}, true
}
