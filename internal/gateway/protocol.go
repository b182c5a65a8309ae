package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound message types.
const (
	TypeSubscribe = "subscribe"
	TypeTrade     = "trade"
)

// Outbound message types.
const (
	TypeQuoteBatch     = "quoteBatch"
	TypePositionUpdate = "positionUpdate"
	TypeError          = "error"
)

// Client-facing error texts.
const (
	MsgNoSymbols         = "No symbols provided for subscription."
	MsgInvalidTrade      = "Invalid buy/sell request."
	MsgNotEnoughQuantity = "Not enough quantity to sell."
	MsgInvalidMessage    = "Invalid message."
	MsgUnknownType       = "Unknown message type."
	MsgTradeFailed       = "Trade could not be processed."
)

// envelope is decoded first to route a frame by its type.
type envelope struct {
	Type string `json:"type"`
}

// SubscribeMsg replaces the session's watchlist.
type SubscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// TradeMsg is a simulated buy or sell. Pointers distinguish a missing field
// from a zero value.
type TradeMsg struct {
	Type     string           `json:"type"`
	Symbol   string           `json:"symbol"`
	Action   string           `json:"action"`
	Quantity *int64           `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

// QuoteBatchMsg is pushed once per poll tick.
type QuoteBatchMsg struct {
	Type         string        `json:"type"`
	Records      []QuoteRecord `json:"records"`
	MarketOpen   bool          `json:"marketOpen"`
	MarketStatus string        `json:"marketStatus"`
	TS           string        `json:"ts"`
}

// PositionUpdateMsg is pushed after an accepted trade.
type PositionUpdateMsg struct {
	Type   string      `json:"type"`
	Record QuoteRecord `json:"record"`
}

// ErrorMsg reports a rejected command.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newQuoteBatch(records []QuoteRecord, open bool, status string, at time.Time) QuoteBatchMsg {
	if records == nil {
		records = []QuoteRecord{}
	}
	return QuoteBatchMsg{
		Type:         TypeQuoteBatch,
		Records:      records,
		MarketOpen:   open,
		MarketStatus: status,
		TS:           at.UTC().Format(time.RFC3339Nano),
	}
}
