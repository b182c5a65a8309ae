package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/journal"
	"stockwatch/internal/ledger"
	"stockwatch/internal/logger"
	"stockwatch/internal/markethours"
	"stockwatch/internal/metrics"
	"stockwatch/pkg/nse"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultFetchLimit   = 10
)

// SessionState is the lifecycle phase of a Session.
type SessionState int

const (
	StateIdle SessionState = iota
	StatePolling
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TradeJournal records accepted trades. *journal.Journal satisfies it.
type TradeJournal interface {
	Record(ctx context.Context, t journal.Trade) (journal.Trade, error)
}

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Source  QuoteSource
	Ledger  *ledger.Ledger
	Journal TradeJournal // optional
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus

	PollInterval time.Duration
	FetchLimit   int // concurrent quote lookups per tick
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.PollInterval <= 0 {
		d.PollInterval = defaultPollInterval
	}
	if d.FetchLimit <= 0 {
		d.FetchLimit = defaultFetchLimit
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if d.Health == nil {
		d.Health = metrics.NewHealthStatus()
	}
	return d
}

// Session is the per-connection coordinator: it owns the watchlist, runs at
// most one polling loop and turns trade commands into ledger updates.
// Everything it produces is written to out; a full buffer drops the message.
type Session struct {
	id   string
	ctx  context.Context
	deps Deps
	out  chan<- []byte

	mu      sync.Mutex // guards state, symbols and the loop handles
	state   SessionState
	symbols []string
	cancel  context.CancelFunc
	done    chan struct{}

	sendMu sync.Mutex // push barrier for Close
	closed atomic.Bool
}

// NewSession creates an idle session. ctx scopes every loop it starts.
func NewSession(ctx context.Context, id string, out chan<- []byte, deps Deps) *Session {
	return &Session{
		id:   id,
		ctx:  logger.WithTraceID(ctx, id),
		deps: deps.withDefaults(),
		out:  out,
	}
}

// ID returns the session's trace id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Symbols returns a copy of the current watchlist.
func (s *Session) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// HandleMessage decodes one inbound frame and dispatches it.
func (s *Session) HandleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(MsgInvalidMessage)
		return
	}

	switch env.Type {
	case TypeSubscribe:
		var msg SubscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(MsgInvalidMessage)
			return
		}
		s.Subscribe(msg.Symbols)
	case TypeTrade:
		var msg TradeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.deps.Metrics.Trades.WithLabelValues("unknown", "invalid").Inc()
			s.sendError(MsgInvalidTrade)
			return
		}
		s.Trade(msg)
	default:
		s.sendError(MsgUnknownType)
	}
}

// ---- Subscription ----

// Subscribe replaces the watchlist and restarts polling with it. The previous
// loop, if any, has fully stopped before the new one starts. An empty list is
// rejected and leaves the current loop untouched.
func (s *Session) Subscribe(symbols []string) {
	syms := normalizeSymbols(symbols)
	if len(syms) == 0 {
		s.sendError(MsgNoSymbols)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.stopLocked()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.symbols = syms
	s.cancel = cancel
	s.done = done
	s.state = StatePolling

	logger.FromContext(s.ctx).Info("watchlist subscribed", "symbols", syms)
	go s.poll(ctx, syms, done)
}

// stopLocked cancels the running loop and waits for it to exit.
func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Session) poll(ctx context.Context, symbols []string, done chan struct{}) {
	defer close(done)

	s.tick(ctx, symbols)

	ticker := time.NewTicker(s.deps.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, symbols)
		}
	}
}

// tick fetches every symbol concurrently and pushes one batch with the
// survivors in watchlist order.
func (s *Session) tick(ctx context.Context, symbols []string) {
	quotes := make([]*nse.Quote, len(symbols))

	var g errgroup.Group
	g.SetLimit(s.deps.FetchLimit)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			q, err := s.deps.Source.EquityQuote(ctx, sym)
			if err != nil {
				if ctx.Err() == nil {
					s.deps.Metrics.QuoteFailures.Inc()
					logger.FromContext(ctx).Warn("quote fetch failed", "symbol", sym, "error", err)
				}
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return
	}

	records := make([]QuoteRecord, 0, len(symbols))
	for i, q := range quotes {
		if q == nil {
			continue
		}
		snap := s.deps.Ledger.Snapshot(symbols[i], q.LastPrice)
		records = append(records, recordFromQuote(*q, snap))
	}

	now := s.deps.Now()
	status := markethours.StatusAt(now)
	if s.sendJSON(newQuoteBatch(records, status.Open, status.Message, now)) {
		s.deps.Metrics.QuoteBatches.Inc()
		s.deps.Health.SetLastBatchTime(now)
	}
}

// ---- Trading ----

// Trade applies a simulated buy or sell and pushes the resulting position
// valued at the trade price.
func (s *Session) Trade(msg TradeMsg) {
	if s.closed.Load() {
		return
	}

	action, ok := ledger.ParseAction(msg.Action)
	if strings.TrimSpace(msg.Symbol) == "" || !ok || msg.Quantity == nil || msg.Price == nil {
		s.deps.Metrics.Trades.WithLabelValues(actionLabel(action), "invalid").Inc()
		s.sendError(MsgInvalidTrade)
		return
	}
	qty, price := *msg.Quantity, *msg.Price

	pos, err := s.deps.Ledger.Apply(msg.Symbol, action, qty, price)
	switch {
	case errors.Is(err, ledger.ErrInsufficientPosition):
		s.deps.Metrics.Trades.WithLabelValues(string(action), "rejected").Inc()
		s.sendError(MsgNotEnoughQuantity)
		return
	case errors.Is(err, ledger.ErrInvalidTrade):
		s.deps.Metrics.Trades.WithLabelValues(string(action), "invalid").Inc()
		s.sendError(MsgInvalidTrade)
		return
	case err != nil:
		logger.FromContext(s.ctx).Error("trade failed", "symbol", msg.Symbol, "error", err)
		s.sendError(MsgTradeFailed)
		return
	}
	s.deps.Metrics.Trades.WithLabelValues(string(action), "accepted").Inc()

	s.sendJSON(PositionUpdateMsg{
		Type:   TypePositionUpdate,
		Record: recordFromSnapshot(pos.Snapshot(price)),
	})
	s.journal(pos, action, qty, msg)
}

func (s *Session) journal(pos ledger.Position, action ledger.Action, qty int64, msg TradeMsg) {
	if s.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 2*time.Second)
	defer cancel()

	_, err := s.deps.Journal.Record(ctx, journal.Trade{
		Session:     s.id,
		Symbol:      pos.Symbol,
		Action:      string(action),
		Quantity:    qty,
		Price:       *msg.Price,
		PositionQty: pos.Quantity,
		CostBasis:   pos.CostBasis,
		ExecutedAt:  s.deps.Now(),
	})
	if err != nil {
		logger.FromContext(s.ctx).Warn("journal write failed", "symbol", pos.Symbol, "error", err)
	}
}

// ---- Lifecycle ----

// Close stops the polling loop and waits for it. Nothing is written to out
// once Close has returned. Safe to call more than once.
func (s *Session) Close() {
	s.sendMu.Lock()
	s.closed.Store(true)
	s.sendMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.stopLocked()
	s.state = StateClosed
	slog.Debug("session closed", logger.LogWithTrace(s.ctx)...)
}

// ---- Outbound ----

func (s *Session) sendError(message string) {
	s.sendJSON(ErrorMsg{Type: TypeError, Message: message})
}

// sendJSON marshals v and queues it without blocking. Reports whether the
// message was queued.
func (s *Session) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("json marshal error", "error", err)
		return false
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		s.deps.Metrics.DroppedPushes.Inc()
		logger.FromContext(s.ctx).Warn("client send buffer full, dropping message")
		return false
	}
}

// normalizeSymbols trims, uppercases and de-duplicates, keeping first-seen order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func actionLabel(a ledger.Action) string {
	if a == "" {
		return "unknown"
	}
	return string(a)
}
