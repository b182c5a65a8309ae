// Package redis is the optional shared quote cache. Every quote fetched for a
// session is written to quote:<SYMBOL> and published on pub:quote:<SYMBOL>,
// so several server processes can serve /api/quotes/latest and avoid
// refetching a symbol another process fetched a moment ago.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stockwatch/pkg/nse"
)

const (
	defaultTTL        = 30 * time.Second
	defaultMaxPending = 1024
)

// Config configures the quote cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // expiry of quote:<SYMBOL>
}

// QuoteCache stores the latest quote per symbol behind a circuit breaker.
// While the breaker is open, writes are parked (latest per symbol) and
// flushed once it closes again.
type QuoteCache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration

	mu         sync.Mutex
	pending    map[string]nse.Quote
	maxPending int

	// Optional hooks for metrics.
	OnLookup func(result string) // "hit", "miss" or "error"
	OnFlush  func(count int)
}

// New connects to Redis, pings it and returns a cache with a default breaker.
func New(cfg Config) (*QuoteCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, NewCircuitBreaker(5, 10*time.Second), cfg.TTL), nil
}

// NewWithClient wraps an existing client. The breaker's OnStateChange is
// chained so that a close triggers a flush of parked writes.
func NewWithClient(client *goredis.Client, cb *CircuitBreaker, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &QuoteCache{
		client:     client,
		cb:         cb,
		ttl:        ttl,
		pending:    make(map[string]nse.Quote),
		maxPending: defaultMaxPending,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[redis] circuit %s -> %s", from, to)
		if to == StateClosed {
			go c.flush(context.Background())
		}
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *QuoteCache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker (for state metrics).
func (c *QuoteCache) Breaker() *CircuitBreaker { return c.cb }

// Close closes the Redis connection.
func (c *QuoteCache) Close() error { return c.client.Close() }

func quoteKey(symbol string) string     { return "quote:" + strings.ToUpper(symbol) }
func quoteChannel(symbol string) string { return "pub:quote:" + strings.ToUpper(symbol) }

// Put stores q and publishes it to subscribers. When the breaker is open the
// quote is parked instead and nil is returned.
func (c *QuoteCache) Put(ctx context.Context, q nse.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", q.Symbol, err)
	}

	err = c.cb.Execute(func() error {
		return c.write(ctx, q.Symbol, data)
	})
	if errors.Is(err, ErrCircuitOpen) {
		c.park(q)
		return nil
	}
	return err
}

func (c *QuoteCache) write(ctx context.Context, symbol string, data []byte) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, quoteKey(symbol), data, c.ttl)
	pipe.Publish(ctx, quoteChannel(symbol), data)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the cached quote for symbol. ok is false on a miss.
func (c *QuoteCache) Get(ctx context.Context, symbol string) (q nse.Quote, ok bool, err error) {
	var raw []byte
	err = c.cb.Execute(func() error {
		var gerr error
		raw, gerr = c.client.Get(ctx, quoteKey(symbol)).Bytes()
		if errors.Is(gerr, goredis.Nil) {
			return nil
		}
		return gerr
	})
	if err != nil {
		c.lookup("error")
		return nse.Quote{}, false, err
	}
	if raw == nil {
		c.lookup("miss")
		return nse.Quote{}, false, nil
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		c.lookup("error")
		return nse.Quote{}, false, fmt.Errorf("decode cached quote %s: %w", symbol, err)
	}
	c.lookup("hit")
	return q, true, nil
}

// Latest returns the cached quotes for symbols in one round trip. Symbols
// with no cached entry are absent from the map.
func (c *QuoteCache) Latest(ctx context.Context, symbols []string) (map[string]nse.Quote, error) {
	out := make(map[string]nse.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = quoteKey(s)
	}

	var vals []interface{}
	err := c.cb.Execute(func() error {
		var merr error
		vals, merr = c.client.MGet(ctx, keys...).Result()
		return merr
	})
	if err != nil {
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var q nse.Quote
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			log.Printf("[redis] skipping undecodable %s: %v", keys[i], err)
			continue
		}
		out[q.Symbol] = q
	}
	return out, nil
}

// Subscribe listens to quote updates for symbols published by any process.
// Watch is the decoding consumer.
func (c *QuoteCache) Subscribe(ctx context.Context, symbols ...string) *goredis.PubSub {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = quoteChannel(s)
	}
	return c.client.Subscribe(ctx, channels...)
}

// Watch calls fn for every quote published on the symbols' channels until ctx
// is done or fn returns false. Undecodable payloads are skipped.
func (c *QuoteCache) Watch(ctx context.Context, symbols []string, fn func(nse.Quote) bool) error {
	sub := c.Subscribe(ctx, symbols...)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var q nse.Quote
			if err := json.Unmarshal([]byte(msg.Payload), &q); err != nil {
				log.Printf("[redis] skipping undecodable publish on %s: %v", msg.Channel, err)
				continue
			}
			if !fn(q) {
				return nil
			}
		}
	}
}

// PendingCount returns the number of parked writes.
func (c *QuoteCache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *QuoteCache) park(q nse.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[q.Symbol]; !exists && len(c.pending) >= c.maxPending {
		return
	}
	c.pending[q.Symbol] = q
}

// flush replays parked writes. Anything that fails again is dropped; the
// next poll tick produces a fresher quote anyway.
func (c *QuoteCache) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	parked := c.pending
	c.pending = make(map[string]nse.Quote)
	c.mu.Unlock()

	flushed := 0
	for sym, q := range parked {
		data, err := json.Marshal(q)
		if err != nil {
			continue
		}
		if err := c.write(ctx, sym, data); err != nil {
			log.Printf("[redis] flush %s: %v", sym, err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d parked quotes", flushed)
	if c.OnFlush != nil {
		c.OnFlush(flushed)
	}
}

func (c *QuoteCache) lookup(result string) {
	if c.OnLookup != nil {
		c.OnLookup(result)
	}
}
