package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	quoteRaw       bool
	quoteTradeInfo bool
	quoteCorpInfo  bool
	quoteIntraday  bool
	chainIndex     bool
	indexPreOpen   bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <SYMBOL>...",
	Short: "Print the normalized quote of each symbol",
	Long: `Print the normalized quote (lastPrice, change, pChange) of each symbol.
One of --raw, --trade-info, --corp-info or --intraday prints the raw upstream
payload instead.

Examples:
  stockwatch quote INFY TCS
  stockwatch quote SBIN --trade-info`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

var chainCmd = &cobra.Command{
	Use:   "chain <SYMBOL>",
	Short: "Print the option chain of a stock or, with --index, an index",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

var indexCmd = &cobra.Command{
	Use:   "index <INDEX>",
	Short: "Print intraday chart data for an index (or pre-open data with --pre-open)",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List every equity symbol, sorted",
	Args:  cobra.NoArgs,
	RunE:  runSymbols,
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteRaw, "raw", false, "print the raw quote-equity payload")
	quoteCmd.Flags().BoolVar(&quoteTradeInfo, "trade-info", false, "print the trade_info section")
	quoteCmd.Flags().BoolVar(&quoteCorpInfo, "corp-info", false, "print corporate announcements and actions")
	quoteCmd.Flags().BoolVar(&quoteIntraday, "intraday", false, "print intraday chart data")
	quoteCmd.MarkFlagsMutuallyExclusive("raw", "trade-info", "corp-info", "intraday")

	chainCmd.Flags().BoolVar(&chainIndex, "index", false, "treat the argument as an index (NIFTY, BANKNIFTY...)")
	indexCmd.Flags().BoolVar(&indexPreOpen, "pre-open", false, "fetch pre-open market data instead of the chart")
}

func runQuote(cmd *cobra.Command, args []string) error {
	client, ctx, cancel := oneShot(cmd)
	defer cancel()

	for _, symbol := range args {
		var (
			v   any
			err error
		)
		switch {
		case quoteRaw:
			v, err = client.EquityDetails(ctx, symbol)
		case quoteTradeInfo:
			v, err = client.EquityTradeInfo(ctx, symbol)
		case quoteCorpInfo:
			v, err = client.EquityCorporateInfo(ctx, symbol)
		case quoteIntraday:
			v, err = client.EquityIntraday(ctx, symbol)
		default:
			v, err = client.EquityQuote(ctx, symbol)
		}
		if err != nil {
			return fmt.Errorf("quote %s: %w", symbol, err)
		}
		if err := printJSON(cmd, v); err != nil {
			return err
		}
	}
	return nil
}

func runChain(cmd *cobra.Command, args []string) error {
	client, ctx, cancel := oneShot(cmd)
	defer cancel()

	var (
		v   map[string]any
		err error
	)
	if chainIndex {
		v, err = client.IndexOptionChain(ctx, args[0])
	} else {
		v, err = client.EquityOptionChain(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("option chain %s: %w", args[0], err)
	}
	return printJSON(cmd, v)
}

func runIndex(cmd *cobra.Command, args []string) error {
	client, ctx, cancel := oneShot(cmd)
	defer cancel()

	v, err := client.IndexIntraday(ctx, args[0], indexPreOpen)
	if err != nil {
		return fmt.Errorf("index %s: %w", args[0], err)
	}
	return printJSON(cmd, v)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	client, ctx, cancel := oneShot(cmd)
	defer cancel()

	symbols, err := client.AllStockSymbols(ctx)
	if err != nil {
		return fmt.Errorf("symbols: %w", err)
	}
	for _, s := range symbols {
		fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}
