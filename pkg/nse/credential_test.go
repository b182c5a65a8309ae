package nse

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(f *fakeUpstream, clock *time.Time) *CredentialManager {
	m := NewCredentialManager(f.URL, f.Client(), DefaultMaxUses, DefaultMaxAge, nil)
	if clock != nil {
		m.now = func() time.Time { return *clock }
	}
	m.userAgent = func() string { return "test-agent" }
	return m
}

func TestCredentialManager_KeepsOnlySessionCookies(t *testing.T) {
	f := newFakeUpstream(t)
	m := newTestManager(f, nil)

	cred, err := m.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"nsit": "n1", "nseappid": "app1", "bm_sv": "sv1"}, cred.Tokens)
	assert.Equal(t, "bm_sv=sv1; nseappid=app1; nsit=n1", cred.CookieHeader())
	assert.Equal(t, "test-agent", cred.UserAgent)
	assert.Equal(t, 1, cred.UseCount)
}

func TestCredentialManager_ReusedUntilUseCountExceeded(t *testing.T) {
	f := newFakeUpstream(t)
	m := newTestManager(f, nil)
	ctx := context.Background()

	for i := 1; i <= DefaultMaxUses+1; i++ {
		cred, err := m.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, cred.UseCount)
	}
	assert.EqualValues(t, 1, f.bootstraps.Load())

	// use count is now 11 > 10: the next call bootstraps exactly once
	cred, err := m.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.bootstraps.Load())
	assert.Equal(t, 1, cred.UseCount)
}

func TestCredentialManager_RotatesAfterMaxAge(t *testing.T) {
	f := newFakeUpstream(t)
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := newTestManager(f, &clock)
	ctx := context.Background()

	_, err := m.Current(ctx)
	require.NoError(t, err)

	clock = clock.Add(DefaultMaxAge)
	_, err = m.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.bootstraps.Load(), "exactly max age is still valid")

	clock = clock.Add(time.Second)
	cred, err := m.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.bootstraps.Load())
	assert.Equal(t, clock, cred.AcquiredAt)
}

func TestCredentialManager_BootstrapFailure(t *testing.T) {
	f := newFakeUpstream(t)
	f.setBootCode(http.StatusServiceUnavailable)
	m := newTestManager(f, nil)

	_, err := m.Current(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	f.setBootCode(http.StatusOK)
	cred, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cred.UseCount)
}

func TestCredentialManager_CallerCannotMutateCache(t *testing.T) {
	f := newFakeUpstream(t)
	m := newTestManager(f, nil)
	ctx := context.Background()

	cred, err := m.Current(ctx)
	require.NoError(t, err)
	cred.Tokens["nsit"] = "tampered"
	delete(cred.Tokens, "bm_sv")

	again, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1", again.Tokens["nsit"])
	assert.Equal(t, "sv1", again.Tokens["bm_sv"])
}

func TestCredentialManager_ConcurrentCallersShareOneBootstrap(t *testing.T) {
	f := newFakeUpstream(t)
	f.setDelay(20 * time.Millisecond)
	m := newTestManager(f, nil)

	var wg sync.WaitGroup
	for i := 0; i < DefaultMaxUses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Current(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.bootstraps.Load())
}

func TestCredentialManager_Invalidate(t *testing.T) {
	f := newFakeUpstream(t)
	m := newTestManager(f, nil)
	ctx := context.Background()

	_, err := m.Current(ctx)
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.bootstraps.Load())
}

func TestCredentialManager_QueuedCallerHonoursContext(t *testing.T) {
	f := newFakeUpstream(t)
	f.setDelay(500 * time.Millisecond)
	m := newTestManager(f, nil)

	done := make(chan error, 1)
	go func() {
		_, err := m.Current(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return f.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := m.Current(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	require.NoError(t, <-done)
	assert.EqualValues(t, 1, f.bootstraps.Load())
}
