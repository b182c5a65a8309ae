// Package journal appends accepted simulated trades to SQLite for audit.
// The journal is write-mostly; positions are never rebuilt from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Trade is one accepted buy or sell.
type Trade struct {
	ID          string          `json:"id"`
	Session     string          `json:"session"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	PositionQty int64           `json:"positionQuantity"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

// Journal persists trades to SQLite.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) a journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		id            TEXT NOT NULL UNIQUE,
		session       TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		action        TEXT NOT NULL,
		qty           INTEGER NOT NULL,
		price         TEXT NOT NULL,
		position_qty  INTEGER NOT NULL,
		cost_basis    TEXT NOT NULL,
		executed_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", path)
	return &Journal{db: db}, nil
}

// DB returns the underlying database for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Record appends t, assigning an ID and timestamp when they are unset.
func (j *Journal) Record(ctx context.Context, t Trade) (Trade, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (id, session, symbol, action, qty, price, position_qty, cost_basis, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Session, t.Symbol, t.Action, t.Quantity,
		t.Price.String(), t.PositionQty, t.CostBasis.String(),
		t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Trade{}, fmt.Errorf("record trade %s: %w", t.Symbol, err)
	}
	return t, nil
}

// Recent returns the last limit trades, newest first. A non-positive limit
// uses the default; limits above 1000 are capped.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Trade, error) {
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session, symbol, action, qty, price, position_qty, cost_basis, executed_at
		 FROM trades ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]Trade, 0, limit)
	for rows.Next() {
		var (
			t        Trade
			price    string
			cost     string
			executed string
		)
		if err := rows.Scan(&t.ID, &t.Session, &t.Symbol, &t.Action, &t.Quantity,
			&price, &t.PositionQty, &cost, &executed); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.CostBasis, _ = decimal.NewFromString(cost)
		t.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executed)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
