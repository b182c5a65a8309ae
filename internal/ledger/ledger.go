// Package ledger holds the simulated holdings per symbol.
//
// Buys and sells on one symbol are linearized by a per-symbol lock; different
// symbols never contend. Profit/loss is derived on demand from the latest
// quote and is never stored.
package ledger

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTrade rejects a malformed buy/sell command.
	ErrInvalidTrade = errors.New("invalid trade request")
	// ErrInsufficientPosition rejects a sell larger than the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
)

var hundred = decimal.NewFromInt(100)

// Action is the side of a simulated trade.
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// ParseAction accepts "buy" or "sell" in any case.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

// Position is the holding of one symbol. CostBasis is what was paid for the
// quantity currently held.
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	CostBasis decimal.Decimal `json:"costBasis"`
}

// Snapshot values the position at lastPrice.
func (p Position) Snapshot(lastPrice decimal.Decimal) Snapshot {
	pl := lastPrice.Mul(decimal.NewFromInt(p.Quantity)).Sub(p.CostBasis)
	pct := decimal.Zero
	if p.CostBasis.IsPositive() {
		pct = pl.Div(p.CostBasis).Mul(hundred)
	}
	return Snapshot{
		Symbol:            p.Symbol,
		LastPrice:         lastPrice,
		InvestmentValue:   p.CostBasis,
		Quantity:          p.Quantity,
		ProfitLoss:        pl,
		ProfitLossPercent: pct,
	}
}

// Snapshot is a read-only view of a position at a given price.
type Snapshot struct {
	Symbol            string
	LastPrice         decimal.Decimal
	InvestmentValue   decimal.Decimal
	Quantity          int64
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
}

type entry struct {
	mu  sync.Mutex
	pos Position
}

// Ledger is the process-wide store of positions.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// entry returns the symbol's entry, creating a zero position on first use.
func (l *Ledger) entry(symbol string) *entry {
	l.mu.RLock()
	e, ok := l.entries[symbol]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[symbol]; ok {
		return e
	}
	e = &entry{pos: Position{Symbol: symbol, CostBasis: decimal.Zero}}
	l.entries[symbol] = e
	return e
}

// RecordBuy adds qty at price: cost basis grows by qty*price.
// A buy that would overflow the held quantity is rejected unchanged.
func (l *Ledger) RecordBuy(symbol string, qty int64, price decimal.Decimal) (Position, error) {
	symbol, err := validate(symbol, qty, price)
	if err != nil {
		return Position{}, err
	}
	e := l.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if qty > math.MaxInt64-e.pos.Quantity {
		return e.pos, ErrInvalidTrade
	}
	e.pos.CostBasis = e.pos.CostBasis.Add(price.Mul(decimal.NewFromInt(qty)))
	e.pos.Quantity += qty
	return e.pos, nil
}

// RecordSell removes qty. The remaining holding is re-based to price, so the
// cost basis afterwards is newQty*price rather than a proportional reduction.
func (l *Ledger) RecordSell(symbol string, qty int64, price decimal.Decimal) (Position, error) {
	symbol, err := validate(symbol, qty, price)
	if err != nil {
		return Position{}, err
	}
	e := l.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.Quantity < qty {
		return e.pos, ErrInsufficientPosition
	}
	e.pos.Quantity -= qty
	e.pos.CostBasis = price.Mul(decimal.NewFromInt(e.pos.Quantity))
	return e.pos, nil
}

// Apply dispatches to RecordBuy or RecordSell.
func (l *Ledger) Apply(symbol string, action Action, qty int64, price decimal.Decimal) (Position, error) {
	switch action {
	case Buy:
		return l.RecordBuy(symbol, qty, price)
	case Sell:
		return l.RecordSell(symbol, qty, price)
	default:
		return Position{}, ErrInvalidTrade
	}
}

// Position returns a copy of the symbol's position, creating it if needed.
func (l *Ledger) Position(symbol string) Position {
	e := l.entry(normalize(symbol))
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// Snapshot values the symbol's current position at lastPrice.
func (l *Ledger) Snapshot(symbol string, lastPrice decimal.Decimal) Snapshot {
	return l.Position(symbol).Snapshot(lastPrice)
}

// Positions returns every known position sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func validate(symbol string, qty int64, price decimal.Decimal) (string, error) {
	symbol = normalize(symbol)
	if symbol == "" || qty <= 0 || price.IsNegative() {
		return "", ErrInvalidTrade
	}
	return symbol, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
