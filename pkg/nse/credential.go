package nse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// sessionCookies is the allow-list of cookies the API checks. Everything else
// the site sets (analytics, consent) is dropped.
var sessionCookies = map[string]bool{
	"nsit":     true,
	"nseappid": true,
	"ak_bmsc":  true,
	"AKA_A2":   true,
	"bm_mi":    true,
	"bm_sv":    true,
}

// Credential is one bootstrapped browser session.
type Credential struct {
	Tokens     map[string]string
	UserAgent  string
	AcquiredAt time.Time
	UseCount   int
}

// CookieHeader renders the tokens as a Cookie header value, sorted by name.
func (c Credential) CookieHeader() string {
	names := make([]string, 0, len(c.Tokens))
	for name := range c.Tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + c.Tokens[name]
	}
	return strings.Join(parts, "; ")
}

func (c Credential) clone() Credential {
	c.Tokens = maps.Clone(c.Tokens)
	return c
}

// CredentialManager caches the session credential and replaces it once it has
// been handed out more than maxUses times or is older than maxAge.
type CredentialManager struct {
	baseURL    string
	httpClient *http.Client
	maxUses    int
	maxAge     time.Duration
	observer   Observer

	now       func() time.Time
	userAgent func() string

	// refresh admits one bootstrap at a time; mu only guards cur.
	refresh *semaphore.Weighted
	mu      sync.Mutex
	cur     *Credential
}

// NewCredentialManager creates a manager that bootstraps against baseURL.
func NewCredentialManager(baseURL string, httpClient *http.Client, maxUses int, maxAge time.Duration, obs Observer) *CredentialManager {
	if obs == nil {
		obs = nopObserver{}
	}
	return &CredentialManager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxUses:    maxUses,
		maxAge:     maxAge,
		observer:   obs,
		now:        time.Now,
		userAgent:  RandomUserAgent,
		refresh:    semaphore.NewWeighted(1),
	}
}

// Current returns the cached credential, bootstrapping a new one first when
// none exists or the cached one is stale. Each call counts as one use.
// Concurrent callers queue for a single bootstrap; a caller whose ctx ends
// while queued returns ctx.Err().
func (m *CredentialManager) Current(ctx context.Context) (Credential, error) {
	if err := m.refresh.Acquire(ctx, 1); err != nil {
		return Credential{}, err
	}
	defer m.refresh.Release(1)

	if cred, ok := m.use(); ok {
		return cred, nil
	}

	fresh, err := m.acquire(ctx)
	if err != nil {
		return Credential{}, err
	}
	fresh.UseCount = 1
	m.mu.Lock()
	m.cur = &fresh
	m.mu.Unlock()
	m.observer.CredentialRotated()
	slog.Info("nse session credential acquired", "tokens", len(fresh.Tokens))
	return fresh.clone(), nil
}

// use counts one use of the cached credential when it is still valid.
func (m *CredentialManager) use() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleLocked() {
		return Credential{}, false
	}
	m.cur.UseCount++
	return m.cur.clone(), true
}

// Invalidate drops the cached credential so the next Current call bootstraps.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()
}

func (m *CredentialManager) staleLocked() bool {
	if m.cur == nil {
		return true
	}
	return m.cur.UseCount > m.maxUses || m.now().Sub(m.cur.AcquiredAt) > m.maxAge
}

func (m *CredentialManager) acquire(ctx context.Context) (Credential, error) {
	ua := m.userAgent()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/", nil)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header = requestHeaders(ua)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("%w: bootstrap status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	tokens := make(map[string]string)
	for _, ck := range resp.Cookies() {
		if sessionCookies[ck.Name] {
			tokens[ck.Name] = ck.Value
		}
	}
	if len(tokens) == 0 {
		return Credential{}, fmt.Errorf("%w: no session cookies in bootstrap response", ErrUpstreamUnavailable)
	}

	return Credential{
		Tokens:     tokens,
		UserAgent:  ua,
		AcquiredAt: m.now(),
	}, nil
}
