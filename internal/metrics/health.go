package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus tracks liveness of the feed and its optional dependencies.
// A dependency that was never configured does not degrade the status.
type HealthStatus struct {
	mu sync.RWMutex

	LastBatchTime    time.Time
	LastCredentialAt time.Time

	RedisEnabled   bool
	RedisConnected bool
	RedisLatencyMs float64

	JournalEnabled   bool
	JournalOK        bool
	JournalLatencyMs float64

	LastCheckAt time.Time
	StartedAt   time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastBatchTime(t time.Time) {
	h.mu.Lock()
	h.LastBatchTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCredentialAt(t time.Time) {
	h.mu.Lock()
	h.LastCredentialAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the trades journal database.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalEnabled = true
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the configured dependencies once immediately
// and then every interval until ctx is done. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if db != nil {
			h.CheckJournal(probeCtx, db)
		}
	}
	probe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// HealthReport is the JSON body of /healthz.
type HealthReport struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	LastBatchTime    string  `json:"last_batch_time,omitempty"`
	BatchAge         string  `json:"batch_age,omitempty"`
	LastCredentialAt string  `json:"last_credential_at,omitempty"`
	RedisEnabled     bool    `json:"redis_enabled"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	JournalEnabled   bool    `json:"journal_enabled"`
	JournalOK        bool    `json:"journal_ok"`
	JournalLatencyMs float64 `json:"journal_latency_ms"`
	LastCheckAt      string  `json:"last_check_at,omitempty"`
}

// Report builds the current health view.
func (h *HealthStatus) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.RedisEnabled && !h.RedisConnected
	journalDown := h.JournalEnabled && !h.JournalOK

	status := "healthy"
	switch {
	case redisDown && journalDown:
		status = "unhealthy"
	case redisDown || journalDown:
		status = "degraded"
	}

	r := HealthReport{
		Status:           status,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalEnabled:   h.JournalEnabled,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
	}
	if !h.LastBatchTime.IsZero() {
		r.LastBatchTime = h.LastBatchTime.Format(time.RFC3339)
		r.BatchAge = time.Since(h.LastBatchTime).Round(time.Millisecond).String()
	}
	if !h.LastCredentialAt.IsZero() {
		r.LastCredentialAt = h.LastCredentialAt.Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report()

	w.Header().Set("Content-Type", "application/json")
	if report.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

// Handler exposes the collectors gathered from g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
