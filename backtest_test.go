// FILE: backtest_test.go

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture writes a <symbol>.csv with an oscillating close so SMA
// crossovers actually fire.
func writeFixture(t *testing.T, dir, symbol string, n int) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("time,open,high,low,close,volume\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		// rises for 6 bars, falls for 6, repeat
		phase := i % 12
		c := 100.0 + float64(phase)
		if phase > 6 {
			c = 100.0 + float64(12-phase)
		}
		ts := start.Add(time.Duration(i) * time.Minute)
		sb.WriteString(fmt.Sprintf("%s,%.2f,%.2f,%.2f,%.2f,1000\n",
			ts.Format(time.RFC3339), c, c+0.5, c-0.5, c))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(sb.String()), 0o644))
}

func backtestConfig(t *testing.T, symbols ...string) Config {
	cfg := defaultConfig()
	cfg.Mode = "backtest"
	cfg.Strategy = "sma_crossover"
	cfg.SMAShortWindow = 2
	cfg.SMALongWindow = 4
	cfg.TargetQty = 1
	cfg.Symbols = symbols
	cfg.SizingMode = "units"
	cfg.MinTradeQty = 0.5
	cfg.BacktestStartingCash = 10000
	cfg.HistoricalDataDir = t.TempDir()
	cfg.EventsDir = t.TempDir()
	return cfg
}

func TestBacktestDeterminism(t *testing.T) {
	cfg := backtestConfig(t, "AAPL")
	writeFixture(t, cfg.HistoricalDataDir, "AAPL", 30)

	run := func(eventsDir string) (BacktestResult, []byte) {
		cfg := cfg
		cfg.EventsDir = eventsDir
		result, err := runBacktest(context.Background(), cfg, "run-fixed", zerolog.Nop())
		require.NoError(t, err)
		events, err := os.ReadFile(filepath.Join(eventsDir, "run-fixed", "events.jsonl"))
		require.NoError(t, err)
		return result, events
	}

	first, firstEvents := run(t.TempDir())
	second, secondEvents := run(t.TempDir())

	assert.Equal(t, first.FinalEquity, second.FinalEquity)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Orders, second.Orders)
	assert.Equal(t, string(firstEvents), string(secondEvents),
		"identical inputs must produce byte-identical event logs")
}

func TestBacktestTradesAndAccounts(t *testing.T) {
	cfg := backtestConfig(t, "AAPL")
	writeFixture(t, cfg.HistoricalDataDir, "AAPL", 40)

	result, err := runBacktest(context.Background(), cfg, "run-bt", zerolog.Nop())
	require.NoError(t, err)

	assert.Greater(t, result.Orders, 0, "the oscillating fixture must trigger trades")
	assert.Len(t, result.EquityCurve, result.Steps)
	assert.Equal(t, result.PnL, result.FinalEquity-result.StartEquity)
}

func TestBacktestRaggedHistories(t *testing.T) {
	cfg := backtestConfig(t, "AAPL", "MSFT")
	writeFixture(t, cfg.HistoricalDataDir, "AAPL", 30)
	writeFixture(t, cfg.HistoricalDataDir, "MSFT", 12)

	result, err := runBacktest(context.Background(), cfg, "run-ragged", zerolog.Nop())
	require.NoError(t, err)

	// warmup is long_window+1 = 5; the longer symbol drives the step count.
	assert.Equal(t, 30-5+1, result.Steps)
}

func TestBacktestMaxStepsCap(t *testing.T) {
	cfg := backtestConfig(t, "AAPL")
	cfg.BacktestMaxSteps = 3
	writeFixture(t, cfg.HistoricalDataDir, "AAPL", 30)

	result, err := runBacktest(context.Background(), cfg, "run-capped", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Steps)
	assert.Len(t, result.EquityCurve, 3)
}

func TestBacktestMissingFixtureFails(t *testing.T) {
	cfg := backtestConfig(t, "AAPL")
	_, err := runBacktest(context.Background(), cfg, "run-missing", zerolog.Nop())
	require.Error(t, err)
}

func TestLoadBarsCSVHeaderFlexibility(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "X.csv")

	// alternate header names and unix-second timestamps
	data := "timestamp,close\n1704067200,10.5\n1704067260,11.5\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	bars, err := loadBarsCSV(path, "X")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 0.0, bars[0].Open, "absent columns default to zero")
}

func TestLoadBarsCSVMissingCloseColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "X.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,open\n1704067200,1\n"), 0o644))

	_, err := loadBarsCSV(path, "X")
	require.Error(t, err)
	var ferr *FeedError
	assert.ErrorAs(t, err, &ferr)
}
