package nse

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Quote is a normalized point-in-time equity price.
type Quote struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	Change        decimal.Decimal `json:"change"`
	PercentChange decimal.Decimal `json:"pChange"`
	FetchedAt     time.Time       `json:"fetchedAt"`
}

// ---- Equity ----

// EquityDetails returns the raw quote-equity payload (info, metadata, priceInfo...).
func (c *Client) EquityDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return c.object(ctx, c.route("api.quote.equity")+"?symbol="+escape(symbol), "equity", symbol)
}

// EquityTradeInfo returns the trade_info section (order book, traded volume, VaR).
func (c *Client) EquityTradeInfo(ctx context.Context, symbol string) (map[string]any, error) {
	return c.object(ctx, c.route("api.quote.equity")+"?symbol="+escape(symbol)+"&section=trade_info", "trade info", symbol)
}

// EquityCorporateInfo returns announcements, corporate actions and financial results.
func (c *Client) EquityCorporateInfo(ctx context.Context, symbol string) (map[string]any, error) {
	return c.object(ctx, c.route("api.corp.info")+"?symbol="+escape(symbol)+"&market=equities", "corporate info", symbol)
}

// EquityIntraday resolves the symbol's chart identifier from its details and
// then fetches the intraday series for it.
func (c *Client) EquityIntraday(ctx context.Context, symbol string) (map[string]any, error) {
	details, err := c.EquityDetails(ctx, symbol)
	if err != nil {
		return nil, err
	}
	id, ok := lookupString(details, "$.info.identifier")
	if !ok || id == "" {
		return nil, notFound("intraday identifier", symbol)
	}
	return c.object(ctx, c.route("api.chart.index")+"?index="+url.QueryEscape(id), "intraday", symbol)
}

// EquityOptionChain returns the option chain of a stock.
func (c *Client) EquityOptionChain(ctx context.Context, symbol string) (map[string]any, error) {
	return c.object(ctx, c.route("api.chain.equities")+"?symbol="+escape(symbol), "option chain", symbol)
}

// EquityQuote fetches the equity details and normalizes the price block.
// A payload without priceInfo.lastPrice is reported as ErrNotFound.
func (c *Client) EquityQuote(ctx context.Context, symbol string) (Quote, error) {
	details, err := c.EquityDetails(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	return ParseQuote(symbol, details, time.Now())
}

// ParseQuote extracts a Quote from a quote-equity payload.
func ParseQuote(symbol string, details any, at time.Time) (Quote, error) {
	last, ok := lookupDecimal(details, "$.priceInfo.lastPrice")
	if !ok {
		return Quote{}, notFound("price", symbol)
	}
	change, _ := lookupDecimal(details, "$.priceInfo.change")
	pChange, _ := lookupDecimal(details, "$.priceInfo.pChange")
	return Quote{
		Symbol:        strings.ToUpper(symbol),
		LastPrice:     last,
		Change:        change,
		PercentChange: pChange,
		FetchedAt:     at,
	}, nil
}

// ---- Index ----

// IndexIntraday returns the intraday series of an index, or its pre-open
// snapshot when preOpen is set.
func (c *Client) IndexIntraday(ctx context.Context, index string, preOpen bool) (map[string]any, error) {
	path := c.route("api.chart.index") + "?index=" + url.QueryEscape(index)
	if preOpen {
		path = c.route("api.preopen") + "?key=" + url.QueryEscape(index)
	}
	return c.object(ctx, path, "index intraday", index)
}

// IndexOptionChain returns the option chain of an index such as NIFTY.
func (c *Client) IndexOptionChain(ctx context.Context, index string) (map[string]any, error) {
	return c.object(ctx, c.route("api.chain.indices")+"?symbol="+escape(index), "index option chain", index)
}

// AllStockSymbols lists every symbol in the pre-open market, sorted.
func (c *Client) AllStockSymbols(ctx context.Context) ([]string, error) {
	doc, err := c.object(ctx, c.route("api.preopen")+"?key=ALL", "symbols", "ALL")
	if err != nil {
		return nil, err
	}
	v, err := jsonpath.Get("$.data[*].metadata.symbol", doc)
	if err != nil {
		return nil, notFound("symbols", "ALL")
	}
	list, _ := v.([]any)
	symbols := make([]string, 0, len(list))
	for _, s := range list {
		if str, ok := s.(string); ok && str != "" {
			symbols = append(symbols, str)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---- Utils ----

func (c *Client) object(ctx context.Context, path, what, symbol string) (map[string]any, error) {
	doc, err := c.FetchJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, notFound(what, symbol)
	}
	return obj, nil
}

func escape(symbol string) string {
	return url.QueryEscape(strings.ToUpper(strings.TrimSpace(symbol)))
}

// first unwraps single-element results; jsonpath returns a list for wildcard
// and slice expressions and a plain value otherwise.
func first(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

func lookupString(doc any, path string) (string, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", false
	}
	s, ok := first(v).(string)
	return s, ok
}

func lookupDecimal(doc any, path string) (decimal.Decimal, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Zero, false
	}
	switch n := first(v).(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		// some sections render numbers as "1,234.50"
		d, err := decimal.NewFromString(strings.ReplaceAll(n, ",", ""))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
