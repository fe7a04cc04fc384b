package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"tradesim/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists executed trades to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite trade journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		pnl         REAL DEFAULT 0,
		note        TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordTrade persists one executed trade leg.
func (j *Journal) RecordTrade(orderID string, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, symbol, side, qty, price, pnl, note, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		orderID,
		t.Symbol,
		t.Side.String(),
		t.Qty,
		t.Price,
		t.PnL,
		t.Note,
		t.TS.Format(time.RFC3339),
	)
	return err
}

// TradeRecord is one row from the trades table.
type TradeRecord struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      int64   `json:"qty"`
	Price    float64 `json:"price"`
	PnL      float64 `json:"pnl"`
	Note     string  `json:"note"`
	FilledAt string  `json:"filled_at"`
}

// Trades returns the last N trades, newest first.
func (j *Journal) Trades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, symbol, side, qty, price, pnl, note, filled_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Qty,
			&t.Price, &t.PnL, &t.Note, &t.FilledAt); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
