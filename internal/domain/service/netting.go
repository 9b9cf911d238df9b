package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"pfingest/internal/domain/model"
)

// NetHolding 单个标的由成交流水汇总出的净持仓
type NetHolding struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// IsFlat reports whether the holding nets to zero and must not be stored.
func (h NetHolding) IsFlat() bool { return h.Quantity.IsZero() }

// NetPositions folds the full ledger of one portfolio into per-symbol holdings.
//
// Quantity is Σ BUY − Σ SELL and may be negative. AvgCost is the quantity
// weighted price of BUY fills only; SELL fills never move it and no P&L is
// realized. Flat symbols are returned too so callers can delete them.
func NetPositions(trades []model.TradeRecord) map[string]NetHolding {
	type acc struct {
		buyQty  decimal.Decimal
		buyCost decimal.Decimal
		sellQty decimal.Decimal
	}
	bySymbol := make(map[string]*acc)
	for _, t := range trades {
		a, ok := bySymbol[t.Symbol]
		if !ok {
			a = &acc{}
			bySymbol[t.Symbol] = a
		}
		switch t.Side {
		case model.SideSell:
			a.sellQty = a.sellQty.Add(t.Quantity)
		default:
			a.buyQty = a.buyQty.Add(t.Quantity)
			a.buyCost = a.buyCost.Add(t.Quantity.Mul(t.Price))
		}
	}

	out := make(map[string]NetHolding, len(bySymbol))
	for sym, a := range bySymbol {
		avg := decimal.Zero
		if a.buyQty.IsPositive() {
			avg = a.buyCost.Div(a.buyQty)
		}
		out[sym] = NetHolding{
			Symbol:   sym,
			Quantity: a.buyQty.Sub(a.sellQty),
			AvgCost:  avg,
		}
	}
	return out
}

// SortedSymbols returns map keys in a stable order.
func SortedSymbols(m map[string]NetHolding) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
