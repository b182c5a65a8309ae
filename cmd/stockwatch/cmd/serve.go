package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"stockwatch/config"
	"stockwatch/internal/gateway"
	"stockwatch/internal/journal"
	"stockwatch/internal/ledger"
	"stockwatch/internal/logger"
	"stockwatch/internal/metrics"
	"stockwatch/internal/store/redis"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket feed and REST API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
}

// feedObserver forwards upstream events to Prometheus and records
// credential rotations in the health report.
type feedObserver struct {
	*metrics.Metrics
	health *metrics.HealthStatus
}

func (o feedObserver) CredentialRotated() {
	o.Metrics.CredentialRotated()
	o.health.SetLastCredentialAt(time.Now())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	logger.Init("stockwatch", cfg.LogLevel)
	log.Println("[stockwatch] starting...")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	// ---- Upstream + shared state ----
	client := newNSEClient(cfg, feedObserver{Metrics: m, health: health})
	deps := gateway.Deps{
		Source:       client,
		Ledger:       ledger.New(),
		Metrics:      m,
		Health:       health,
		PollInterval: cfg.PollInterval,
	}
	routes := gateway.Routes{Gatherer: reg}

	// ---- Optional quote cache ----
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		cache, err := redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[stockwatch] WARNING: quote cache disabled: %v", err)
		} else {
			defer cache.Close()
			wireCacheMetrics(cache, m)
			deps.Source = gateway.NewCachedSource(client, cache, cfg.QuoteCacheMaxAge)
			routes.Latest = cache
			rdb = cache.Client()
		}
	}

	// ---- Optional trade journal ----
	var db *sql.DB
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		deps.Journal = j
		routes.History = j
		db = j.DB()
	}

	health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)

	// ---- HTTP ----
	hub := gateway.NewHub(ctx, deps)
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, routes)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[stockwatch] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ---- Wait for shutdown signal ----
	select {
	case <-ctx.Done():
		log.Println("[stockwatch] shutdown signal received, cleaning up...")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[stockwatch] http shutdown: %v", err)
	}
	log.Println("[stockwatch] stopped")
	return nil
}

func wireCacheMetrics(cache *redis.QuoteCache, m *metrics.Metrics) {
	cache.OnLookup = func(result string) {
		m.QuoteCacheLookups.WithLabelValues(result).Inc()
	}
	cb := cache.Breaker()
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to redis.State) {
		if prev != nil {
			prev(from, to)
		}
		m.CircuitBreakerState.Set(float64(to))
		if to == redis.StateOpen {
			m.CircuitBreakerTrips.Inc()
		}
	}
}
