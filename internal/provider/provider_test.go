package provider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradesim/internal/model"
	sqlitestore "tradesim/internal/store/sqlite"
)

var t0 = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func seedStore(t *testing.T) *sqlitestore.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	var bars []model.MarketBar
	for i := 0; i < 5; i++ {
		c := 100 + float64(i)
		bars = append(bars, model.MarketBar{
			Symbol: "AAPL",
			TS:     t0.Add(time.Duration(i) * time.Minute),
			Open:   c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10,
		})
	}
	if err := w.WriteBars(bars); err != nil {
		t.Fatalf("seed bars: %v", err)
	}

	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFetchBarsWindow(t *testing.T) {
	p := NewSQLite(seedStore(t))
	bars, err := p.FetchBars(context.Background(), "AAPL", t0.Add(time.Minute), t0.Add(3*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars: got %d, want 3", len(bars))
	}
	if bars[0].Close != 101 || bars[2].Close != 103 {
		t.Errorf("window edges: got %v, %v", bars[0].Close, bars[2].Close)
	}
}

func TestFetchMultipleEmptySeries(t *testing.T) {
	p := NewSQLite(seedStore(t))
	series, err := p.FetchMultiple(context.Background(), []string{"AAPL", "MSFT"}, t0, t0.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("FetchMultiple: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("series: got %d, want 2", len(series))
	}
	if len(series[0].Bars) != 5 {
		t.Errorf("AAPL bars: got %d, want 5", len(series[0].Bars))
	}
	// An unknown symbol yields an empty series, not an error.
	if len(series[1].Bars) != 0 {
		t.Errorf("MSFT bars: got %d, want 0", len(series[1].Bars))
	}
	if series[0].Start != t0 {
		t.Errorf("series start: got %v, want %v", series[0].Start, t0)
	}
}

func TestSafeEnd(t *testing.T) {
	end := t0.Add(time.Hour)
	if got := SafeEnd(end, 15*time.Minute); got != end.Add(-15*time.Minute) {
		t.Errorf("SafeEnd: got %v", got)
	}
	if got := SafeEnd(end, 0); got != end {
		t.Errorf("SafeEnd zero embargo: got %v", got)
	}
}
