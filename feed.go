// FILE: feed.go
// Package main – Market data feeds.
//
// A Feed yields the bar history visible to the strategy for one symbol.
// CSVFeed replays fixture files with a per-symbol walk-forward cursor, so a
// backtest cycle sees exactly the prefix a live run would have seen at that
// point in time. LiveFeed polls the venue's market-data API and keeps a
// capped rolling history per symbol.

package main

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Feed is the data contract the cycle pipeline reads from.
type Feed interface {
	// Bars returns the history for symbol, oldest first. An empty or
	// failed read is a FeedError; the caller skips the symbol this cycle.
	Bars(ctx context.Context, symbol string) ([]Bar, error)
}

// ---- walk-forward CSV feed ----

// CSVFeed replays preloaded histories bar by bar. The cursor starts at the
// warmup length so the first cycle already has enough bars to decide, and
// freezes once a symbol's history is exhausted: shorter histories plateau at
// their final bar while longer symbols keep advancing.
type CSVFeed struct {
	history map[string][]Bar
	cursor  map[string]int
	initial map[string]int
}

func newCSVFeed(history map[string][]Bar, warmup int) (*CSVFeed, error) {
	if warmup < 1 {
		warmup = 1
	}
	feed := &CSVFeed{
		history: history,
		cursor:  make(map[string]int, len(history)),
		initial: make(map[string]int, len(history)),
	}
	for symbol, bars := range history {
		if len(bars) == 0 {
			return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("empty history")}
		}
		start := warmup
		if start > len(bars) {
			start = len(bars)
		}
		feed.cursor[symbol] = start
		feed.initial[symbol] = start
	}
	return feed, nil
}

func (f *CSVFeed) Bars(ctx context.Context, symbol string) ([]Bar, error) {
	bars, ok := f.history[symbol]
	if !ok {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("no history loaded")}
	}
	return bars[:f.cursor[symbol]], nil
}

// Advance moves every non-exhausted cursor forward one bar.
func (f *CSVFeed) Advance() {
	for symbol, cur := range f.cursor {
		if cur < len(f.history[symbol]) {
			f.cursor[symbol] = cur + 1
		}
	}
}

func (f *CSVFeed) Exhausted(symbol string) bool {
	return f.cursor[symbol] >= len(f.history[symbol])
}

func (f *CSVFeed) AllExhausted() bool {
	for symbol := range f.history {
		if !f.Exhausted(symbol) {
			return false
		}
	}
	return true
}

// TotalSteps is the number of cycles a full replay takes: the longest
// symbol's bars beyond its initial cursor, plus the final frozen cycle.
func (f *CSVFeed) TotalSteps() int {
	steps := 0
	for symbol, bars := range f.history {
		if n := len(bars) - f.initial[symbol] + 1; n > steps {
			steps = n
		}
	}
	return steps
}

// Now is the simulated clock: the latest bar time currently visible across
// all symbols. Backtest events and receipts are stamped with it.
func (f *CSVFeed) Now() time.Time {
	var latest time.Time
	for symbol, cur := range f.cursor {
		if cur == 0 {
			continue
		}
		if t := f.history[symbol][cur-1].Time; t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Symbols returns the loaded symbols in sorted order.
func (f *CSVFeed) Symbols() []string {
	symbols := make([]string, 0, len(f.history))
	for symbol := range f.history {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// ---- live polling feed ----

// barSource is the slice of the live broker the feed needs.
type barSource interface {
	GetRecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}

// LiveFeed polls recent bars each cycle and merges them into a rolling
// per-symbol history capped at lookback bars.
type LiveFeed struct {
	source   barSource
	lookback int
	history  map[string][]Bar
}

func newLiveFeed(source barSource, lookback int) *LiveFeed {
	return &LiveFeed{
		source:   source,
		lookback: lookback,
		history:  make(map[string][]Bar),
	}
}

func (f *LiveFeed) Bars(ctx context.Context, symbol string) ([]Bar, error) {
	fresh, err := f.source.GetRecentBars(ctx, symbol, f.lookback)
	if err != nil {
		return nil, &FeedError{Symbol: symbol, Err: err}
	}
	merged := mergeBars(f.history[symbol], fresh, f.lookback)
	if len(merged) == 0 {
		return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("no bars returned")}
	}
	f.history[symbol] = merged
	return merged, nil
}

// mergeBars unions two bar slices by timestamp (fresh wins), sorted oldest
// first and capped to the most recent limit bars.
func mergeBars(cached, fresh []Bar, limit int) []Bar {
	byTime := make(map[time.Time]Bar, len(cached)+len(fresh))
	for _, b := range cached {
		byTime[b.Time] = b
	}
	for _, b := range fresh {
		byTime[b.Time] = b
	}
	merged := make([]Bar, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}
