package nse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeUpstream serves the session bootstrap on "/" and canned JSON for API paths.
type fakeUpstream struct {
	*httptest.Server

	bootstraps atomic.Int32
	apiCalls   atomic.Int32
	inFlight   atomic.Int32
	maxSeen    atomic.Int32

	mu        sync.Mutex
	bootCode  int
	responses map[string]func(w http.ResponseWriter, r *http.Request)
	lastReq   *http.Request
	delay     time.Duration
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		bootCode:  http.StatusOK,
		responses: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	delay := f.delay
	bootCode := f.bootCode
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	if r.URL.Path == "/" {
		f.bootstraps.Add(1)
		if bootCode != http.StatusOK {
			w.WriteHeader(bootCode)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "n1"})
		http.SetCookie(w, &http.Cookie{Name: "nseappid", Value: "app1"})
		http.SetCookie(w, &http.Cookie{Name: "bm_sv", Value: "sv1"})
		http.SetCookie(w, &http.Cookie{Name: "_ga", Value: "tracking"})
		w.WriteHeader(http.StatusOK)
		return
	}

	f.apiCalls.Add(1)
	f.mu.Lock()
	f.lastReq = r.Clone(r.Context())
	h, ok := f.responses[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeUpstream) handle(path string, h func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	f.responses[path] = h
	f.mu.Unlock()
}

func (f *fakeUpstream) handleJSON(path string, body any) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

func (f *fakeUpstream) setBootCode(code int) {
	f.mu.Lock()
	f.bootCode = code
	f.mu.Unlock()
}

func (f *fakeUpstream) setDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *fakeUpstream) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeUpstream) client(cfg Config) *Client {
	cfg.BaseURL = f.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return NewClient(cfg)
}

func equityPayload(symbol string, last, change, pChange float64) map[string]any {
	return map[string]any{
		"info": map[string]any{
			"symbol":     symbol,
			"identifier": symbol + "EQN",
		},
		"priceInfo": map[string]any{
			"lastPrice": last,
			"change":    change,
			"pChange":   pChange,
		},
	}
}
