package buffer

import (
	"testing"
	"time"

	"tradesim/internal/model"
)

var base = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func tick(symbol string, price float64, ts time.Time) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, Size: 10, TS: ts}
}

func TestBuffer_TickBoundInvariant(t *testing.T) {
	b := New(Config{MaxTicks: 5, MaxBars: 5})
	evictions := 0
	b.OnEvict = func() { evictions++ }

	for i := 0; i < 12; i++ {
		b.AddTick(tick("AAPL", 100+float64(i), base.Add(time.Duration(i)*time.Second)))
	}
	got := b.Ticks("AAPL")
	if len(got) != 5 {
		t.Fatalf("buffer length %d, want exactly 5", len(got))
	}
	// Retained entries are the most recently added (prices 107..111).
	for i, tk := range got {
		want := 100 + float64(7+i)
		if tk.Price != want {
			t.Errorf("tick %d price %v, want %v", i, tk.Price, want)
		}
	}
	if evictions != 7 {
		t.Errorf("evictions = %d, want 7", evictions)
	}
}

func TestBuffer_BarBoundInvariant(t *testing.T) {
	b := New(Config{MaxTicks: 5, MaxBars: 3})
	for i := 0; i < 6; i++ {
		b.AddBar(model.MarketBar{
			Symbol: "AAPL", TS: base.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 10,
		})
	}
	bars := b.Bars("AAPL")
	if len(bars) != 3 {
		t.Fatalf("bar buffer length %d, want 3", len(bars))
	}
	if bars[0].Close != 103 || bars[2].Close != 105 {
		t.Errorf("retained bars %v..%v, want newest three (103..105)", bars[0].Close, bars[2].Close)
	}
}

func TestAggregateTicks(t *testing.T) {
	ticks := []model.Tick{
		tick("AAPL", 101, base.Add(10*time.Second)),
		tick("AAPL", 100, base.Add(2*time.Second)), // earliest: open
		tick("AAPL", 105, base.Add(30*time.Second)),
		tick("AAPL", 99, base.Add(20*time.Second)),
		tick("AAPL", 102, base.Add(50*time.Second)), // latest: close
	}
	bar, ok := AggregateTicks(ticks, time.Minute)
	if !ok {
		t.Fatal("AggregateTicks returned no bar")
	}
	if bar.Open != 100 || bar.Close != 102 {
		t.Errorf("open/close = %v/%v, want 100/102", bar.Open, bar.Close)
	}
	if bar.High != 105 || bar.Low != 99 {
		t.Errorf("high/low = %v/%v, want 105/99", bar.High, bar.Low)
	}
	if bar.Volume != 50 {
		t.Errorf("volume = %v, want 50", bar.Volume)
	}
	if !bar.TS.Equal(base) {
		t.Errorf("bar TS = %v, want window start %v", bar.TS, base)
	}
}

func TestAggregateTicks_Empty(t *testing.T) {
	if _, ok := AggregateTicks(nil, time.Minute); ok {
		t.Error("AggregateTicks produced a bar from an empty tick set")
	}
}

func TestDetectGaps_Scenario(t *testing.T) {
	// Bars at T, T+1min, T+6min with expected interval 1min:
	// one gap between the second and third bar, 5 minutes long.
	bars := []model.MarketBar{
		{Symbol: "AAPL", TS: base, Open: 100, High: 101, Low: 99, Close: 100},
		{Symbol: "AAPL", TS: base.Add(time.Minute), Open: 100, High: 101, Low: 99, Close: 100},
		{Symbol: "AAPL", TS: base.Add(6 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100},
	}
	gaps := DetectGaps(bars, time.Minute)
	if len(gaps) != 1 {
		t.Fatalf("detected %d gaps, want 1", len(gaps))
	}
	g := gaps[0]
	if !g.Start.Equal(bars[1].TS) || !g.End.Equal(bars[2].TS) {
		t.Errorf("gap %v→%v, want between second and third bar", g.Start, g.End)
	}
	if g.Duration != 5*time.Minute {
		t.Errorf("gap duration %v, want the raw 5m timestamp delta", g.Duration)
	}
}

func TestQuality_ScorePriority(t *testing.T) {
	now := base.Add(10 * time.Minute)
	clock := func() time.Time { return now }

	// Healthy stream: 20 fresh ticks, no gaps → 1.0
	b := New(Config{MaxTicks: 100, MaxBars: 100})
	b.SetClock(clock)
	for i := 0; i < 20; i++ {
		b.AddTick(tick("AAPL", 100, now.Add(-time.Duration(i)*time.Second)))
	}
	if q := b.Quality("AAPL", time.Minute); q.Score != 1.0 {
		t.Errorf("healthy score = %v, want 1.0", q.Score)
	}

	// Sparse stream: under 10 recent ticks → 0.9
	b2 := New(Config{MaxTicks: 100, MaxBars: 100})
	b2.SetClock(clock)
	for i := 0; i < 5; i++ {
		b2.AddTick(tick("AAPL", 100, now.Add(-time.Duration(i)*time.Second)))
	}
	if q := b2.Quality("AAPL", time.Minute); q.Score != 0.9 {
		t.Errorf("sparse score = %v, want 0.9", q.Score)
	}

	// Laggy stream: ticks 10s old at arrival → 0.8
	b3 := New(Config{MaxTicks: 100, MaxBars: 100})
	b3.SetClock(clock)
	for i := 0; i < 20; i++ {
		b3.AddTick(tick("AAPL", 100, now.Add(-10*time.Second)))
	}
	if q := b3.Quality("AAPL", time.Minute); q.Score != 0.8 {
		t.Errorf("laggy score = %v, want 0.8", q.Score)
	}

	// Gapped bars dominate everything → 0.7
	b3.AddBar(model.MarketBar{Symbol: "AAPL", TS: base, Open: 100, High: 101, Low: 99, Close: 100})
	b3.AddBar(model.MarketBar{Symbol: "AAPL", TS: base.Add(6 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100})
	q := b3.Quality("AAPL", time.Minute)
	if q.Score != 0.7 {
		t.Errorf("gapped score = %v, want 0.7 (gap outranks latency)", q.Score)
	}
	if !q.HasGap {
		t.Error("gap flag not set")
	}
}

func TestQuality_UnknownSymbol(t *testing.T) {
	b := New(DefaultConfig())
	q := b.Quality("MISSING", time.Minute)
	if q.TickCount != 0 || q.Score != 0.9 {
		t.Errorf("unknown symbol quality = %+v, want zero ticks score 0.9", q)
	}
}
