// Package nse is a session-aware client for the NSE India public JSON API.
// The site authorizes API calls with short-lived browser cookies, so the client
// bootstraps and rotates a cookie credential, bounds the number of in-flight
// requests and retries failed calls with a capped attempt budget.
//
// Usage example:
//
//	c := nse.NewClient(nse.Config{})
//	q, err := c.EquityQuote(ctx, "INFY")
//	if err != nil { log.Fatal(err) }
//	fmt.Println(q.Symbol, q.LastPrice)
package nse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// ---- Config & client ----

type Config struct {
	BaseURL           string        // default: https://www.nseindia.com
	MaxConnections    int           // default: 5
	MaxAttempts       int           // default: 10
	RetryDelay        time.Duration // linear backoff unit between attempts; 0 disables
	Timeout           time.Duration // default: 10s
	CredentialMaxUses int           // default: 10
	CredentialMaxAge  time.Duration // default: 60s

	HTTPClient *http.Client // optional, Timeout is ignored when set
	Observer   Observer     // optional
}

// Client issues throttled, retried GETs against the NSE API.
// One Client is shared by every caller in the process.
type Client struct {
	baseURL     string
	maxAttempts int
	retryDelay  time.Duration

	httpClient *http.Client
	creds      *CredentialManager
	slots      *semaphore.Weighted
	observer   Observer
}

const (
	DefaultBaseURL        = "https://www.nseindia.com"
	DefaultMaxConnections = 5
	DefaultMaxAttempts    = 10
	DefaultMaxUses        = 10
	DefaultMaxAge         = 60 * time.Second
)

var routes = map[string]string{
	"api.quote.equity":   "/api/quote-equity",
	"api.corp.info":      "/api/top-corp-info",
	"api.chart.index":    "/api/chart-databyindex",
	"api.preopen":        "/api/market-data-pre-open",
	"api.chain.equities": "/api/option-chain-equities",
	"api.chain.indices":  "/api/option-chain-indices",
}

// baseHeaders mimic a same-origin XHR from the NSE site.
// Accept-Encoding is left to net/http so gzip bodies are decoded transparently.
var baseHeaders = map[string]string{
	"Referer":            "https://www.nseindia.com/",
	"Accept":             "*/*",
	"Origin":             DefaultBaseURL,
	"Sec-Fetch-Site":     "same-origin",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Dest":     "empty",
	"Sec-Ch-Ua":          `" Not A;Brand";v="99", "Chromium";v="109", "Google Chrome";v="109"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"Windows"`,
	"Accept-Language":    "en-US,en;q=0.9",
	"Connection":         "keep-alive",
}

// NewClient fills in defaults and builds the shared credential manager and slot pool.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CredentialMaxUses <= 0 {
		cfg.CredentialMaxUses = DefaultMaxUses
	}
	if cfg.CredentialMaxAge <= 0 {
		cfg.CredentialMaxAge = DefaultMaxAge
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		baseURL:     baseURL,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		httpClient:  httpClient,
		creds:       NewCredentialManager(baseURL, httpClient, cfg.CredentialMaxUses, cfg.CredentialMaxAge, cfg.Observer),
		slots:       semaphore.NewWeighted(int64(cfg.MaxConnections)),
		observer:    cfg.Observer,
	}
}

// Credentials exposes the shared credential manager.
func (c *Client) Credentials() *CredentialManager { return c.creds }

// ---- Throttled fetch ----

// FetchJSON GETs path (relative to the base URL) and decodes the JSON body.
// Every attempt takes one slot from the shared pool and gives it back before
// the next attempt starts, so a retrying caller queues behind other callers.
// After MaxAttempts failures the last error is returned inside a *FetchError.
func (c *Client) FetchJSON(ctx context.Context, path string) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 && c.retryDelay > 0 {
			t := time.NewTimer(c.retryDelay * time.Duration(attempt-1))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		data, err := c.attempt(ctx, path)
		if err == nil {
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		c.observer.AttemptFailed(path, err)
		slog.Debug("nse fetch attempt failed", "path", path, "attempt", attempt, "error", err)
	}

	fe := &FetchError{Path: path, Attempts: c.maxAttempts, Err: lastErr}
	var se *StatusError
	if errors.As(lastErr, &se) {
		fe.Status = se.Code
	}
	slog.Warn("nse fetch gave up", "path", path, "attempts", c.maxAttempts, "error", lastErr)
	return nil, fe
}

func (c *Client) attempt(ctx context.Context, path string) (any, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.observer.SlotAcquired()
	defer func() {
		c.slots.Release(1)
		c.observer.SlotReleased()
	}()

	cred, err := c.creds.Current(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header = requestHeaders(cred.UserAgent)
	req.Header.Set("Cookie", cred.CookieHeader())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.observer.FetchLatency(time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// cookies were rejected before their time; force a fresh bootstrap
		c.creds.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	return out, nil
}

// ---- Helpers ----

func requestHeaders(userAgent string) http.Header {
	h := http.Header{}
	for k, v := range baseHeaders {
		h.Set(k, v)
	}
	h.Set("User-Agent", userAgent)
	return h
}

func (c *Client) route(name string) string {
	uri, ok := routes[name]
	if !ok {
		panic("nse: unknown route " + name)
	}
	return uri
}
