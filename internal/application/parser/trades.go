package parser

import "pfingest/internal/domain/model"

type tradeColumns struct {
	symbol, side, qty, price, tradedAt, externalID int
}

func (c tradeColumns) complete() bool {
	return c.symbol >= 0 && c.side >= 0 && c.qty >= 0 && c.price >= 0 && c.tradedAt >= 0
}

// minFields is one past the highest required column index.
func (c tradeColumns) minFields() int {
	m := c.symbol
	for _, v := range []int{c.side, c.qty, c.price, c.tradedAt} {
		if v > m {
			m = v
		}
	}
	return m + 1
}

func resolveTradeColumns(header []string) tradeColumns {
	c := tradeColumns{-1, -1, -1, -1, -1, -1}
	for i, h := range header {
		switch normalizeHeader(h) {
		case "symbol":
			c.symbol = i
		case "side":
			c.side = i
		case "qty", "quantity":
			c.qty = i
		case "price":
			c.price = i
		case "tradedat":
			c.tradedAt = i
		case "externalid":
			c.externalID = i
		}
	}
	return c
}

// ParseTrades parses a trade file. The first record is always the header.
// It returns the valid rows, the skipped line count and the data line count.
func ParseTrades(text string) ([]TradeRow, int, int) {
	var (
		rows    []TradeRow
		skipped int
		lines   int
		cols    = tradeColumns{-1, -1, -1, -1, -1, -1}
		header  = true
	)
	records(text, func(rec []string, ok bool) {
		if header {
			header = false
			if ok {
				cols = resolveTradeColumns(rec)
			}
			return
		}
		lines++
		row, valid := tradeRow(rec, ok, cols)
		if !valid {
			skipped++
			return
		}
		rows = append(rows, row)
	})
	return rows, skipped, lines
}

func tradeRow(rec []string, ok bool, cols tradeColumns) (TradeRow, bool) {
	if !ok || !cols.complete() || len(rec) < cols.minFields() {
		return TradeRow{}, false
	}
	symbol := model.NormalizeSymbol(field(rec, cols.symbol))
	side := field(rec, cols.side)
	tradedAtRaw := field(rec, cols.tradedAt)
	if symbol == "" || side == "" || tradedAtRaw == "" {
		return TradeRow{}, false
	}
	qty, ok := parseNumber(field(rec, cols.qty))
	if !ok {
		return TradeRow{}, false
	}
	price, ok := parseNumber(field(rec, cols.price))
	if !ok {
		return TradeRow{}, false
	}
	tradedAt, ok := ParseTimestamp(tradedAtRaw)
	if !ok {
		return TradeRow{}, false
	}
	return TradeRow{
		Symbol:     symbol,
		Side:       model.ParseSide(side),
		Quantity:   qty,
		Price:      price,
		TradedAt:   tradedAt,
		ExternalID: field(rec, cols.externalID),
	}, true
}
