package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"tradesim/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored bars.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns the stored bars for one symbol in [from, to], ordered by
// timestamp ascending. A zero `to` means no upper bound.
func (r *Reader) ReadBars(symbol string, from, to time.Time) ([]model.MarketBar, error) {
	toUnix := int64(1<<62 - 1)
	if !to.IsZero() {
		toUnix = to.Unix()
	}
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume, synthetic
		FROM bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.Unix(), toUnix)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.MarketBar
	for rows.Next() {
		var b model.MarketBar
		var tsUnix int64
		var synthetic int
		if err := rows.Scan(&b.Symbol, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Synthetic = synthetic != 0
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols returns every symbol with at least one stored bar.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error { return r.db.Close() }
