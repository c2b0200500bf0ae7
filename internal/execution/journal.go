package execution

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// Journal persists every order attempt to SQLite for audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id        INTEGER NOT NULL DEFAULT 0,
		client_order_id TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		side            TEXT NOT NULL,
		qty             REAL NOT NULL,
		executed_qty    REAL NOT NULL DEFAULT 0,
		avg_price       REAL NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		paper           INTEGER NOT NULL DEFAULT 0,
		error           TEXT,
		placed_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_placed_at ON orders(placed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("opened order journal")
	return &Journal{db: db}, nil
}

// Record persists one order attempt, accepted or rejected.
func (j *Journal) Record(res model.OrderResult, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO orders (order_id, client_order_id, symbol, side, qty, executed_qty, avg_price, status, paper, error, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID,
		res.ClientOrderID,
		res.Symbol,
		string(res.Side),
		res.Quantity,
		res.ExecutedQty,
		res.AvgPrice,
		res.Status,
		res.Paper,
		res.Error,
		at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// OrderRecord represents a row from the orders table.
type OrderRecord struct {
	ID int64 `json:"id"`
	model.OrderResult
	PlacedAt string `json:"placed_at"`
}

// Recent returns the last N order attempts, newest first.
func (j *Journal) Recent(limit int) ([]OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, client_order_id, symbol, side, qty, executed_qty, avg_price, status, paper, COALESCE(error, ''), placed_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var side string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ClientOrderID, &r.Symbol, &side, &r.Quantity,
			&r.ExecutedQty, &r.AvgPrice, &r.Status, &r.Paper, &r.Error, &r.PlacedAt); err != nil {
			return nil, err
		}
		r.Side = model.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB exposes the handle for liveness checks.
func (j *Journal) DB() *sql.DB { return j.db }
