package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradesim/internal/model"
)

var t0 = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func mkBar(i int, close float64) model.MarketBar {
	return model.MarketBar{
		Symbol: "AAPL",
		TS:     t0.Add(time.Duration(i) * time.Minute),
		Open:   close, High: close + 1, Low: close - 1, Close: close,
		Volume: 100,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	bars := []model.MarketBar{mkBar(0, 100), mkBar(1, 101), mkBar(2, 102)}
	bars[2].Synthetic = true
	if err := w.WriteBars(bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadBars("AAPL", t0, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("bars: got %d, want 3", len(got))
	}
	if got[0].Close != 100 || got[2].Close != 102 {
		t.Errorf("closes: got %v, %v", got[0].Close, got[2].Close)
	}
	if !got[2].Synthetic || got[0].Synthetic {
		t.Error("synthetic flag lost in round trip")
	}

	// Range query excludes bars outside the window.
	got, err = r.ReadBars("AAPL", t0.Add(time.Minute), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadBars range: %v", err)
	}
	if len(got) != 1 || got[0].Close != 101 {
		t.Errorf("range query: got %+v, want the middle bar", got)
	}
}

// Re-inserting the same (symbol, ts) replaces the stored bar.
func TestWriteReplacesDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.WriteBars([]model.MarketBar{mkBar(0, 100)}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.WriteBars([]model.MarketBar{mkBar(0, 105)}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	got, err := r.ReadBars("AAPL", t0, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 105 {
		t.Errorf("after replace: got %+v, want one bar at 105", got)
	}
}

func TestRunDrainsChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	var commits int
	w.OnCommit = func(d time.Duration) {
		commits++
		if d < 0 {
			t.Errorf("commit latency %v is negative", d)
		}
	}

	ch := make(chan model.MarketBar, 8)
	for i := 0; i < 5; i++ {
		ch <- mkBar(i, 100+float64(i))
	}
	close(ch)
	w.Run(context.Background(), ch)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	got, err := r.ReadBars("AAPL", t0, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("stored bars: got %d, want 5", len(got))
	}

	syms, err := r.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("symbols: got %v", syms)
	}
	if commits < 1 {
		t.Error("OnCommit never observed a batch commit")
	}
}
