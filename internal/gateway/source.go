package gateway

import (
	"context"
	"log/slog"
	"time"

	"stockwatch/pkg/nse"
)

// QuoteSource produces a normalized quote for one symbol.
// *nse.Client satisfies it.
type QuoteSource interface {
	EquityQuote(ctx context.Context, symbol string) (nse.Quote, error)
}

// QuoteStore is a shared cache of recent quotes. *redis.QuoteCache satisfies it.
type QuoteStore interface {
	Get(ctx context.Context, symbol string) (nse.Quote, bool, error)
	Put(ctx context.Context, q nse.Quote) error
}

// CachedSource serves quotes younger than maxAge from the store and writes
// every upstream quote back. Store failures fall through to the upstream.
type CachedSource struct {
	next   QuoteSource
	store  QuoteStore
	maxAge time.Duration
	now    func() time.Time
}

// NewCachedSource wraps next with store.
func NewCachedSource(next QuoteSource, store QuoteStore, maxAge time.Duration) *CachedSource {
	return &CachedSource{next: next, store: store, maxAge: maxAge, now: time.Now}
}

func (s *CachedSource) EquityQuote(ctx context.Context, symbol string) (nse.Quote, error) {
	if s.maxAge > 0 {
		q, ok, err := s.store.Get(ctx, symbol)
		switch {
		case err != nil:
			slog.Debug("quote cache read failed", "symbol", symbol, "error", err)
		case ok && s.now().Sub(q.FetchedAt) <= s.maxAge:
			return q, nil
		}
	}

	q, err := s.next.EquityQuote(ctx, symbol)
	if err != nil {
		return nse.Quote{}, err
	}
	if err := s.store.Put(ctx, q); err != nil {
		slog.Debug("quote cache write failed", "symbol", symbol, "error", err)
	}
	return q, nil
}
