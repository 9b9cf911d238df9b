package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 成交方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps any unrecognized value to BUY.
func ParseSide(s string) Side {
	if strings.ToUpper(strings.TrimSpace(s)) == string(SideSell) {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string { return string(s) }

// TradeRecord is one ledger entry. ExternalID is unique per portfolio.
type TradeRecord struct {
	PortfolioID string          `json:"portfolio_id"`
	ExternalID  string          `json:"external_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TradedAt    time.Time       `json:"traded_at"`
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
