// cmd/backtest runs the event-driven simulation over a historical bar CSV,
// applies the risk overlay, and prints a summary report.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/bars.csv --cash=100000 --stop=trailing
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"tradesim/config"
	"tradesim/internal/backtest"
	"tradesim/internal/model"
	"tradesim/internal/provider"
	"tradesim/internal/risk"
	"tradesim/internal/series"
	"tradesim/internal/source"
	sqlitestore "tradesim/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	csvPath := flag.String("csv", "data/bars.csv", "Path to historical bar CSV")
	dbPath := flag.String("db", "", "Load bars from this SQLite store instead of the CSV")
	cash := flag.Float64("cash", 100000, "Starting cash")
	slippage := flag.Float64("slippage", 0.001, "Slippage as a fraction of price")
	commission := flag.Float64("commission", 1.0, "Fixed commission per order")
	commissionPct := flag.Float64("commission-pct", 0.0005, "Commission as a fraction of notional")
	sellFraction := flag.Float64("sell-fraction", 0.5, "Fraction of a position sold per exit signal")
	stride := flag.Int("stride", 1, "Risk overlay sampling stride in steps")
	stopMode := flag.String("stop", "trailing", "Stop mode: fixed, trailing, or atr")
	cfgPath := flag.String("config", "", "Optional YAML config supplying the risk limits")
	jsonOut := flag.String("json", "", "Write the full result as JSON to this path")
	flag.Parse()

	var data map[string][]model.MarketBar
	var err error
	if *dbPath != "" {
		data, err = loadStore(*dbPath)
	} else {
		data, err = source.LoadCSV(*csvPath)
	}
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	for sym, bars := range data {
		data[sym] = series.Clean(bars)
	}

	btCfg := backtest.DefaultConfig()
	btCfg.StartingCash = *cash
	btCfg.SlippagePct = *slippage
	btCfg.CommissionFixed = *commission
	btCfg.CommissionPct = *commissionPct
	btCfg.SellFraction = *sellFraction

	engine, err := backtest.New(data, btCfg)
	if err != nil {
		log.Fatalf("[backtest] engine init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	res, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("[backtest] run: %v", err)
	}

	riskCfg := risk.DefaultConfig()
	if *cfgPath != "" {
		appCfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("[backtest] load config: %v", err)
		}
		riskCfg.Limits = riskLimits(appCfg)
	}
	riskCfg.SampleStride = *stride
	riskCfg.StopMode, err = parseStopMode(*stopMode)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	overlay, err := risk.New(riskCfg)
	if err != nil {
		log.Fatalf("[backtest] overlay init: %v", err)
	}
	managed := overlay.Apply(res, data)

	printReport(res, managed)

	if *jsonOut != "" {
		raw, err := json.MarshalIndent(managed, "", "  ")
		if err != nil {
			log.Fatalf("[backtest] marshal result: %v", err)
		}
		if err := os.WriteFile(*jsonOut, raw, 0o644); err != nil {
			log.Fatalf("[backtest] write %s: %v", *jsonOut, err)
		}
		fmt.Printf("full result written to %s\n", *jsonOut)
	}
}

// loadStore pulls every stored symbol's full history out of the SQLite
// bar store.
func loadStore(path string) (map[string][]model.MarketBar, error) {
	reader, err := sqlitestore.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	symbols, err := reader.Symbols()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s contains no bars", path)
	}

	p := provider.NewSQLite(reader)
	ctx := context.Background()
	data := make(map[string][]model.MarketBar, len(symbols))
	for _, sym := range symbols {
		bars, err := p.FetchBars(ctx, sym, time.Time{}, time.Time{}, 0)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sym, err)
		}
		data[sym] = bars
	}
	return data, nil
}

// riskLimits maps the loaded limit percentages onto the overlay's thresholds.
func riskLimits(c *config.Config) risk.Limits {
	return risk.Limits{
		MaxDailyLossPct:     c.DailyLossLimitPct,
		MaxDrawdownPct:      c.DrawdownLimitPct,
		MaxConcentrationPct: c.ConcentrationPct,
		VaRLimitPct:         c.VaRLimitPct,
	}
}

func parseStopMode(s string) (risk.StopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return risk.StopFixed, nil
	case "trailing":
		return risk.StopTrailing, nil
	case "atr":
		return risk.StopATR, nil
	}
	return 0, fmt.Errorf("unknown stop mode %q (want fixed, trailing, or atr)", s)
}

func printReport(res backtest.Result, managed risk.ManagedResult) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          BACKTEST COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Starting cash:     %-20.2f ║\n", res.StartingCash)
	fmt.Printf("║  Final value:       %-20.2f ║\n", res.FinalValue)
	fmt.Printf("║  Total return:      %-19.2f%% ║\n", res.TotalReturnPct)
	fmt.Printf("║  Annualized:        %-19.2f%% ║\n", res.AnnualizedReturnPct)
	fmt.Printf("║  Max drawdown:      %-19.2f%% ║\n", res.MaxDrawdownPct)
	fmt.Printf("║  Commission paid:   %-20.2f ║\n", res.CommissionPaid)
	fmt.Printf("║  Orders:            %-20d ║\n", len(res.Orders))
	fmt.Printf("║  Closed trades:     %-20d ║\n", res.Stats.TotalTrades)
	fmt.Printf("║  Win rate:          %-19.1f%% ║\n", res.Stats.WinRate*100)
	fmt.Printf("║  Risk alerts:       %-20d ║\n", len(managed.Alerts))
	fmt.Printf("║  Stop orders:       %-20d ║\n", len(managed.StopOrders))
	fmt.Println("╚══════════════════════════════════════════╝")

	if len(managed.Alerts) > 0 {
		fmt.Println("\nRisk alerts:")
		byType := map[model.AlertType]int{}
		for _, a := range managed.Alerts {
			byType[a.Type]++
		}
		types := make([]model.AlertType, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, t := range types {
			fmt.Printf("  %-20s %d\n", t, byType[t])
		}
	}
}
