package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/journal"
	"stockwatch/internal/markethours"
	"stockwatch/internal/metrics"
	"stockwatch/pkg/nse"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LatestQuotes reads cached quotes in bulk. *redis.QuoteCache satisfies it.
type LatestQuotes interface {
	Latest(ctx context.Context, symbols []string) (map[string]nse.Quote, error)
}

// TradeHistory reads back journaled trades. *journal.Journal satisfies it.
type TradeHistory interface {
	Recent(ctx context.Context, limit int) ([]journal.Trade, error)
}

// Routes carries the optional read sides exposed over REST.
type Routes struct {
	Latest   LatestQuotes // nil: /api/quotes/latest fetches upstream
	History  TradeHistory // nil: /api/trades answers 503
	Gatherer prometheus.Gatherer
	Start    time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, rt Routes) {
	deps := hub.Deps()
	if rt.Start.IsZero() {
		rt.Start = time.Now()
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn)
	})

	// REST: every position held in the process-wide ledger
	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, positionsOut(deps.Ledger.Positions()))
	})

	// REST: latest quotes for ?symbols=A,B
	mux.HandleFunc("/api/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		symbols := normalizeSymbols(strings.Split(r.URL.Query().Get("symbols"), ","))
		if len(symbols) == 0 {
			writeError(w, http.StatusBadRequest, MsgNoSymbols)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		quotes, err := latestQuotes(ctx, rt.Latest, deps, symbols)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		records := make([]QuoteRecord, 0, len(symbols))
		for _, sym := range symbols {
			q, ok := quotes[sym]
			if !ok {
				continue
			}
			records = append(records, recordFromQuote(q, deps.Ledger.Snapshot(sym, q.LastPrice)))
		}
		writeJSON(w, http.StatusOK, records)
	})

	// REST: journaled trades, newest first
	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		if rt.History == nil {
			writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
			return
		}
		limit := 50
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
		trades, err := rt.History.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, trades)
	})

	// REST: market + process status
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"market":       markethours.StatusAt(deps.Now()),
			"clients":      hub.ClientCount(),
			"fetchLatency": deps.Metrics.Latency.Summary(),
			"process":      CollectProcessStats(rt.Start),
		})
	})

	mux.Handle("/healthz", deps.Health)
	if rt.Gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(rt.Gatherer))
	}
}

// latestQuotes reads from the cache when one is configured; symbols the
// cache does not have, or every symbol without a cache, are fetched live.
func latestQuotes(ctx context.Context, cache LatestQuotes, deps Deps, symbols []string) (map[string]nse.Quote, error) {
	out := make(map[string]nse.Quote, len(symbols))
	if cache != nil {
		cached, err := cache.Latest(ctx, symbols)
		if err != nil {
			log.Printf("[gateway] quote cache unavailable: %v", err)
		}
		for k, v := range cached {
			out[k] = v
		}
	}

	var missing []string
	for _, sym := range symbols {
		if _, ok := out[sym]; !ok {
			missing = append(missing, sym)
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(deps.FetchLimit)
	for _, sym := range missing {
		sym := sym
		g.Go(func() error {
			q, err := deps.Source.EquityQuote(ctx, sym)
			if err != nil {
				log.Printf("[gateway] latest %s: %v", sym, err)
				return nil
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out, ctx.Err()
}
