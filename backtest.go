// FILE: backtest.go
// Package main – Walk-forward backtest over the live pipeline.
//
// The replay wires a CSVFeed, a PaperBroker, and the in-memory store into
// the same Trader the live loop uses, then steps the feed one bar per cycle.
// The clock everywhere (events, receipts) is the feed's simulated bar time,
// so two runs over the same fixtures produce identical output.
//
// CSV fixtures live at <historical_data_dir>/<SYMBOL>.csv with a header row.
// Accepted columns: time|timestamp|date, open, high, low, close, and an
// optional volume. Times are RFC3339 or unix seconds.

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BacktestResult is the replay summary returned to main.
type BacktestResult struct {
	Steps       int
	StartEquity float64
	FinalEquity float64
	PnL         float64
	ReturnPct   float64
	Orders      int
	EquityCurve []float64
}

// runBacktest replays the configured symbols' histories through the trading
// pipeline and returns the summary.
func runBacktest(ctx context.Context, cfg Config, runID string, log zerolog.Logger) (BacktestResult, error) {
	strategy, err := newStrategy(cfg)
	if err != nil {
		return BacktestResult{}, err
	}

	history := make(map[string][]Bar, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		bars, err := loadBarsCSV(filepath.Join(cfg.HistoricalDataDir, symbol+".csv"), symbol)
		if err != nil {
			return BacktestResult{}, err
		}
		history[symbol] = bars
	}

	feed, err := newCSVFeed(history, strategy.WarmupBars())
	if err != nil {
		return BacktestResult{}, err
	}

	sink, err := newEventSink(cfg.EventsDir, runID, cfg.Mode, strategy.ID(), feed.Now)
	if err != nil {
		return BacktestResult{}, err
	}
	defer sink.Close()

	broker := newPaperBroker(cfg.BacktestStartingCash, feed.Now)
	store := newMemoryStore()
	trader := newTrader(cfg, runID, strategy, feed, broker, store, sink, log, feed.Now)

	maxSteps := feed.TotalSteps()
	if cfg.BacktestMaxSteps > 0 && cfg.BacktestMaxSteps < maxSteps {
		maxSteps = cfg.BacktestMaxSteps
	}
	sink.Emit(evRunStarted, map[string]any{
		"symbols":       cfg.Symbols,
		"total_steps":   maxSteps,
		"starting_cash": cfg.BacktestStartingCash,
	})
	log.Info().Int("steps", maxSteps).Strs("symbols", cfg.Symbols).Msg("backtest starting")

	progressEvery := maxSteps / 10
	if progressEvery < 1 {
		progressEvery = 1
	}

	curve := make([]float64, 0, maxSteps)
	steps := 0
	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("step", step).Msg("backtest interrupted")
			break
		}
		if err := trader.RunCycle(ctx); err != nil {
			return BacktestResult{}, fmt.Errorf("cycle %d: %w", step, err)
		}
		curve = append(curve, trader.Portfolio().Equity)
		steps = step
		if step%progressEvery == 0 {
			log.Info().
				Int("step", step).
				Int("total", maxSteps).
				Float64("equity", trader.Portfolio().Equity).
				Msg("backtest progress")
		}
		if feed.AllExhausted() {
			break
		}
		feed.Advance()
	}

	final := trader.Portfolio().Equity
	result := BacktestResult{
		Steps:       steps,
		StartEquity: cfg.BacktestStartingCash,
		FinalEquity: final,
		PnL:         final - cfg.BacktestStartingCash,
		Orders:      trader.OrdersSubmitted(),
		EquityCurve: curve,
	}
	if cfg.BacktestStartingCash > 0 {
		result.ReturnPct = result.PnL / cfg.BacktestStartingCash * 100
	}
	sink.Emit(evRunFinished, map[string]any{
		"steps":        result.Steps,
		"final_equity": result.FinalEquity,
		"pnl":          result.PnL,
		"return_pct":   result.ReturnPct,
		"orders":       result.Orders,
	})
	log.Info().
		Int("steps", result.Steps).
		Int("orders", result.Orders).
		Float64("final_equity", result.FinalEquity).
		Float64("pnl", result.PnL).
		Msg("backtest finished")
	return result, nil
}

// loadBarsCSV reads one symbol's fixture file, oldest bar first.
func loadBarsCSV(path, symbol string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FeedError{Symbol: symbol, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("read header: %w", err)}
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	timeIdx, ok := findColumn(col, "time", "timestamp", "date")
	if !ok {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("no time column in %s", path)}
	}
	closeIdx, ok := findColumn(col, "close")
	if !ok {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("no close column in %s", path)}
	}
	openIdx, _ := findColumn(col, "open")
	highIdx, _ := findColumn(col, "high")
	lowIdx, _ := findColumn(col, "low")
	volIdx, hasVol := findColumn(col, "volume", "vol")

	var bars []Bar
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		ts, err := parseBarTime(rec[timeIdx])
		if err != nil {
			return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		bar := Bar{Symbol: symbol, Time: ts, Close: field(rec, closeIdx)}
		bar.Open = field(rec, openIdx)
		bar.High = field(rec, highIdx)
		bar.Low = field(rec, lowIdx)
		if hasVol {
			bar.Volume = field(rec, volIdx)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("no rows in %s", path)}
	}
	return bars, nil
}

func findColumn(col map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if i, ok := col[name]; ok {
			return i, true
		}
	}
	return -1, false
}

func field(rec []string, idx int) float64 {
	if idx < 0 || idx >= len(rec) {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
	return v
}

// parseBarTime accepts RFC3339 or unix seconds.
func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
