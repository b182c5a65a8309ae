package cmd

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/config"
	"stockwatch/internal/logger"
	"stockwatch/pkg/nse"
)

var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "Live NSE watchlist with simulated trading",
	Long: `Stockwatch polls NSE India equity quotes for each connected WebSocket
client, merges them with simulated holdings and pushes a batch every tick.

Commands:
  serve    - run the WebSocket + REST server
  quote    - print quotes (or raw payloads) for one or more symbols
  chain    - print an option chain
  index    - print intraday or pre-open data for an index
  symbols  - list every symbol in the pre-open market data
  watch    - stream quotes a running server publishes to Redis

Configuration comes from the environment (and a .env file when present).`,
	SilenceUsage: true,
}

var queryTimeout time.Duration

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&queryTimeout, "timeout", 60*time.Second, "deadline for one-shot queries")

	rootCmd.AddCommand(serveCmd, quoteCmd, chainCmd, indexCmd, symbolsCmd, watchCmd)
}

// newNSEClient builds the process-wide upstream client from cfg.
func newNSEClient(cfg *config.Config, obs nse.Observer) *nse.Client {
	return nse.NewClient(nse.Config{
		BaseURL:           cfg.NSEBaseURL,
		MaxConnections:    cfg.NSEMaxConnections,
		MaxAttempts:       cfg.NSEMaxAttempts,
		RetryDelay:        cfg.NSERetryDelay,
		Timeout:           cfg.NSETimeout,
		CredentialMaxUses: cfg.CredentialMaxUses,
		CredentialMaxAge:  cfg.CredentialMaxAge,
		Observer:          obs,
	})
}

// oneShot loads config, sets up logging and returns a client plus a
// deadline-bound context for a CLI query.
func oneShot(cmd *cobra.Command) (*nse.Client, context.Context, context.CancelFunc) {
	cfg := config.Load()
	logger.InitWriter(os.Stderr, "stockwatch", cfg.LogLevel)
	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	return newNSEClient(cfg, nil), ctx, cancel
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
