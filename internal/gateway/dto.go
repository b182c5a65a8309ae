package gateway

import (
	"stockwatch/internal/ledger"
	"stockwatch/pkg/nse"
)

// QuoteRecord is one watchlist row: the quote merged with the holding.
// Money is rendered as JSON numbers.
type QuoteRecord struct {
	Symbol            string  `json:"symbol"`
	LastPrice         float64 `json:"lastPrice"`
	Change            float64 `json:"change"`
	PercentChange     float64 `json:"pChange"`
	InvestmentValue   float64 `json:"investmentValue"`
	Quantity          int64   `json:"quantity"`
	ProfitLoss        float64 `json:"profitLoss"`
	ProfitLossPercent float64 `json:"profitLossPercent"`
}

func recordFromSnapshot(s ledger.Snapshot) QuoteRecord {
	return QuoteRecord{
		Symbol:            s.Symbol,
		LastPrice:         s.LastPrice.InexactFloat64(),
		InvestmentValue:   s.InvestmentValue.InexactFloat64(),
		Quantity:          s.Quantity,
		ProfitLoss:        s.ProfitLoss.InexactFloat64(),
		ProfitLossPercent: s.ProfitLossPercent.InexactFloat64(),
	}
}

func recordFromQuote(q nse.Quote, s ledger.Snapshot) QuoteRecord {
	r := recordFromSnapshot(s)
	r.Change = q.Change.InexactFloat64()
	r.PercentChange = q.PercentChange.InexactFloat64()
	return r
}

// PositionOut is the REST view of a holding.
type PositionOut struct {
	Symbol    string  `json:"symbol"`
	Quantity  int64   `json:"quantity"`
	CostBasis float64 `json:"costBasis"`
}

func positionsOut(ps []ledger.Position) []PositionOut {
	out := make([]PositionOut, len(ps))
	for i, p := range ps {
		out[i] = PositionOut{Symbol: p.Symbol, Quantity: p.Quantity, CostBasis: p.CostBasis.InexactFloat64()}
	}
	return out
}
