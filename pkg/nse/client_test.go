package nse

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	nopObserver
	acquired, released, failed, rotated atomic.Int32
}

func (o *countingObserver) SlotAcquired()               { o.acquired.Add(1) }
func (o *countingObserver) SlotReleased()               { o.released.Add(1) }
func (o *countingObserver) AttemptFailed(string, error) { o.failed.Add(1) }
func (o *countingObserver) CredentialRotated()          { o.rotated.Add(1) }

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultMaxAttempts, c.maxAttempts)
	assert.Equal(t, DefaultMaxUses, c.creds.maxUses)
	assert.Equal(t, DefaultMaxAge, c.creds.maxAge)
	assert.NotNil(t, c.slots)
}

func TestFetchJSON_SendsSessionHeaders(t *testing.T) {
	f := newFakeUpstream(t)
	f.handleJSON("/api/quote-equity", map[string]any{"ok": true})
	c := f.client(Config{})

	out, err := c.FetchJSON(context.Background(), "/api/quote-equity?symbol=INFY")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)

	req := f.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "bm_sv=sv1; nseappid=app1; nsit=n1", req.Header.Get("Cookie"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))
	assert.Equal(t, "https://www.nseindia.com/", req.Header.Get("Referer"))
	assert.Equal(t, "INFY", req.URL.Query().Get("symbol"))
}

func TestFetchJSON_RetriesTransientFailures(t *testing.T) {
	f := newFakeUpstream(t)
	var calls atomic.Int32
	f.handle("/api/flaky", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[1,2,3]}`))
	})
	obs := &countingObserver{}
	c := f.client(Config{Observer: obs})

	out, err := c.FetchJSON(context.Background(), "/api/flaky")
	require.NoError(t, err)
	assert.Contains(t, out, "data")
	assert.EqualValues(t, 4, calls.Load())
	assert.EqualValues(t, 3, obs.failed.Load())
	assert.Equal(t, obs.acquired.Load(), obs.released.Load())
}

func TestFetchJSON_RetriesExhausted(t *testing.T) {
	f := newFakeUpstream(t)
	f.handle("/api/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	obs := &countingObserver{}
	c := f.client(Config{Observer: obs})

	_, err := c.FetchJSON(context.Background(), "/api/down")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, DefaultMaxAttempts, fe.Attempts)
	assert.Equal(t, http.StatusBadGateway, fe.Status)
	assert.EqualValues(t, DefaultMaxAttempts, f.apiCalls.Load())
	assert.EqualValues(t, DefaultMaxAttempts, obs.acquired.Load())
	assert.EqualValues(t, DefaultMaxAttempts, obs.released.Load())
}

func TestFetchJSON_BootstrapFailureCountsAsAttempt(t *testing.T) {
	f := newFakeUpstream(t)
	f.setBootCode(http.StatusForbidden)
	f.handleJSON("/api/x", map[string]any{"a": 1})
	c := f.client(Config{MaxAttempts: 3})

	_, err := c.FetchJSON(context.Background(), "/api/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.EqualValues(t, 3, f.bootstraps.Load())
	assert.EqualValues(t, 0, f.apiCalls.Load())
}

func TestFetchJSON_UndecodableBodyIsRetried(t *testing.T) {
	f := newFakeUpstream(t)
	f.handle("/api/html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>Access Denied</html>"))
	})
	c := f.client(Config{MaxAttempts: 2})

	_, err := c.FetchJSON(context.Background(), "/api/html")
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.Status)
	assert.EqualValues(t, 2, f.apiCalls.Load())
}

func TestFetchJSON_RejectedCookiesForceBootstrap(t *testing.T) {
	f := newFakeUpstream(t)
	var calls atomic.Int32
	f.handle("/api/secure", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	})
	c := f.client(Config{})

	_, err := c.FetchJSON(context.Background(), "/api/secure")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.bootstraps.Load())
}

func TestFetchJSON_NeverExceedsSlotCapacity(t *testing.T) {
	f := newFakeUpstream(t)
	f.setDelay(15 * time.Millisecond)
	f.handleJSON("/api/quote-equity", equityPayload("INFY", 1500, 10, 0.67))
	c := f.client(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchJSON(context.Background(), "/api/quote-equity?symbol=INFY")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.maxSeen.Load(), int32(DefaultMaxConnections))
	assert.Positive(t, f.maxSeen.Load())
}

func TestFetchJSON_FailedAttemptsReleaseSlots(t *testing.T) {
	f := newFakeUpstream(t)
	f.handle("/api/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f.handleJSON("/api/up", map[string]any{"ok": true})
	c := f.client(Config{MaxConnections: 1, MaxAttempts: 3})

	for i := 0; i < 5; i++ {
		_, err := c.FetchJSON(context.Background(), "/api/down")
		require.Error(t, err)
	}

	// with a leaked slot this would block until the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.FetchJSON(ctx, "/api/up")
	require.NoError(t, err)
}

func TestFetchJSON_ContextCancelledWhileWaitingForSlot(t *testing.T) {
	f := newFakeUpstream(t)
	block := make(chan struct{})
	f.handle("/api/slow", func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Write([]byte(`{}`))
	})
	defer close(block)
	c := f.client(Config{MaxConnections: 1})

	go c.FetchJSON(context.Background(), "/api/slow")
	require.Eventually(t, func() bool { return f.apiCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchJSON(ctx, "/api/slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchJSON_RetryDelayHonoursContext(t *testing.T) {
	f := newFakeUpstream(t)
	f.handle("/api/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := f.client(Config{RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.FetchJSON(ctx, "/api/down")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, f.apiCalls.Load())
}
