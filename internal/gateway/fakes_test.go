package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/journal"
	"stockwatch/internal/ledger"
	"stockwatch/internal/markethours"
	"stockwatch/internal/metrics"
	"stockwatch/pkg/nse"
)

var errUpstream = errors.New("upstream down")

// 13:00 IST on a trading Thursday
var fixedNow = time.Date(2026, time.October, 15, 13, 0, 0, 0, markethours.IST)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]string
	fail   map[string]bool
	calls  map[string]int
}

func newFakeSource(prices map[string]string) *fakeSource {
	return &fakeSource{prices: prices, fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeSource) EquityQuote(ctx context.Context, symbol string) (nse.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.fail[symbol] {
		return nse.Quote{}, errUpstream
	}
	p, ok := f.prices[symbol]
	if !ok {
		return nse.Quote{}, nse.ErrNotFound
	}
	return nse.Quote{
		Symbol:        symbol,
		LastPrice:     decimal.RequireFromString(p),
		Change:        decimal.RequireFromString("2.5"),
		PercentChange: decimal.RequireFromString("0.25"),
		FetchedAt:     fixedNow,
	}, nil
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

type fakeJournal struct {
	mu     sync.Mutex
	trades []journal.Trade
}

func (j *fakeJournal) Record(_ context.Context, t journal.Trade) (journal.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t.ID = "t-" + t.Symbol
	j.trades = append(j.trades, t)
	return t, nil
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Trade, 0, len(j.trades))
	for i := len(j.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.trades[i])
	}
	return out, nil
}

func testDeps(src QuoteSource) Deps {
	return Deps{
		Source:       src,
		Ledger:       ledger.New(),
		Metrics:      metrics.NewMetrics(prometheus.NewRegistry()),
		Health:       metrics.NewHealthStatus(),
		PollInterval: time.Hour,
		Now:          func() time.Time { return fixedNow },
	}
}

// inbound is a decoded outbound frame; only the fields relevant to its type are set.
type inbound struct {
	Type         string        `json:"type"`
	Message      string        `json:"message"`
	Records      []QuoteRecord `json:"records"`
	Record       QuoteRecord   `json:"record"`
	MarketOpen   bool          `json:"marketOpen"`
	MarketStatus string        `json:"marketStatus"`
}

func next(t *testing.T, ch <-chan []byte) inbound {
	t.Helper()
	select {
	case raw := <-ch:
		var m inbound
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message pushed")
		return inbound{}
	}
}

func nextOfType(t *testing.T, ch <-chan []byte, typ string) inbound {
	t.Helper()
	for {
		if m := next(t, ch); m.Type == typ {
			return m
		}
	}
}

func symbolsOf(records []QuoteRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Symbol
	}
	return out
}
