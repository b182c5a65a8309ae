package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stockwatch/config"
	"stockwatch/internal/logger"
	"stockwatch/internal/store/redis"
	"stockwatch/pkg/nse"
)

var watchCount int

var watchCmd = &cobra.Command{
	Use:   "watch <SYMBOL>...",
	Short: "Stream quotes a running server publishes to Redis",
	Long: `Print one JSON line per quote that a running "stockwatch serve" publishes
for the given symbols. Requires REDIS_ADDR to point at the server's Redis.

Examples:
  stockwatch watch INFY TCS
  stockwatch watch SBIN --count 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "exit after this many quotes (0 = until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger.InitWriter(os.Stderr, "stockwatch", cfg.LogLevel)
	if cfg.RedisAddr == "" {
		return errors.New("watch needs REDIS_ADDR")
	}

	cache, err := redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	seen := 0
	err = cache.Watch(ctx, args, func(q nse.Quote) bool {
		if err := enc.Encode(q); err != nil {
			return false
		}
		seen++
		return watchCount <= 0 || seen < watchCount
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
