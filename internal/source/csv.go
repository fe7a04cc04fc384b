package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"tradesim/internal/model"
)

// csvColumns is the required header of a bar file.
var csvColumns = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// LoadCSV reads a bar file into per-symbol slices sorted by timestamp.
// Timestamps are RFC 3339 or epoch seconds. Malformed rows are skipped and
// counted; only a missing or wrong header is fatal.
func LoadCSV(path string) (map[string][]model.MarketBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvColumns)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, want := range csvColumns {
		if header[i] != want {
			return nil, fmt.Errorf("bad header: column %d is %q, want %q", i, header[i], want)
		}
	}

	out := make(map[string][]model.MarketBar)
	var loaded, skipped int
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		bar, err := parseRow(rec)
		if err != nil {
			log.Printf("[csv] line %d skipped: %v", line, err)
			skipped++
			continue
		}
		out[bar.Symbol] = append(out[bar.Symbol], bar)
		loaded++
	}

	for sym := range out {
		bars := out[sym]
		sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	}

	log.Printf("[csv] %s: %d bars loaded, %d rows skipped, %d symbols", path, loaded, skipped, len(out))
	if loaded == 0 {
		return nil, fmt.Errorf("%s contains no usable bars", path)
	}
	return out, nil
}

func parseRow(rec []string) (model.MarketBar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return model.MarketBar{}, err
	}
	if rec[1] == "" {
		return model.MarketBar{}, fmt.Errorf("empty symbol")
	}

	vals := make([]float64, 5)
	names := []string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(rec[i+2], 64)
		if err != nil {
			return model.MarketBar{}, fmt.Errorf("bad %s %q", names[i], rec[i+2])
		}
		vals[i] = v
	}

	bar := model.MarketBar{
		Symbol: rec[1],
		TS:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	if !bar.OHLCOk() {
		return model.MarketBar{}, fmt.Errorf("inconsistent OHLC %v/%v/%v/%v", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.Volume < 0 {
		return model.MarketBar{}, fmt.Errorf("negative volume %v", bar.Volume)
	}
	return bar, nil
}

func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil && epoch > 0 {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}
