// FILE: feed_test.go

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBars(symbol string, closes ...float64) []Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c, High: c, Low: c, Close: c,
		}
	}
	return bars
}

func TestCSVFeedWalkForward(t *testing.T) {
	ctx := context.Background()
	feed, err := newCSVFeed(map[string][]Bar{
		"AAPL": makeBars("AAPL", 1, 2, 3, 4, 5),
	}, 2)
	require.NoError(t, err)

	bars, err := feed.Bars(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2, "first cycle sees exactly the warmup prefix")
	assert.Equal(t, 2.0, bars[len(bars)-1].Close)

	feed.Advance()
	bars, err = feed.Bars(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	assert.Equal(t, 4, feed.TotalSteps())
}

func TestCSVFeedRaggedExhaustionFreezes(t *testing.T) {
	ctx := context.Background()
	feed, err := newCSVFeed(map[string][]Bar{
		"AAPL": makeBars("AAPL", 1, 2, 3, 4, 5),
		"MSFT": makeBars("MSFT", 10, 20, 30),
	}, 2)
	require.NoError(t, err)

	for !feed.Exhausted("MSFT") {
		feed.Advance()
	}
	assert.False(t, feed.AllExhausted(), "AAPL still has bars")

	// The exhausted symbol keeps returning its full, frozen history.
	frozen, err := feed.Bars(ctx, "MSFT")
	require.NoError(t, err)
	assert.Len(t, frozen, 3)
	assert.Equal(t, 30.0, frozen[len(frozen)-1].Close)

	feed.Advance()
	again, err := feed.Bars(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, frozen, again)

	for !feed.AllExhausted() {
		feed.Advance()
	}
	assert.True(t, feed.Exhausted("AAPL"))
}

func TestCSVFeedUnknownSymbol(t *testing.T) {
	feed, err := newCSVFeed(map[string][]Bar{"AAPL": makeBars("AAPL", 1, 2)}, 1)
	require.NoError(t, err)
	_, err = feed.Bars(context.Background(), "TSLA")
	var ferr *FeedError
	require.ErrorAs(t, err, &ferr)
}

func TestCSVFeedRejectsEmptyHistory(t *testing.T) {
	_, err := newCSVFeed(map[string][]Bar{"AAPL": nil}, 1)
	require.Error(t, err)
}

func TestCSVFeedSimClock(t *testing.T) {
	feed, err := newCSVFeed(map[string][]Bar{
		"AAPL": makeBars("AAPL", 1, 2, 3),
	}, 1)
	require.NoError(t, err)

	first := feed.Now()
	feed.Advance()
	second := feed.Now()
	assert.True(t, second.After(first), "sim clock must follow the cursor")
}

func TestMergeBars(t *testing.T) {
	cached := makeBars("AAPL", 1, 2, 3)
	fresh := makeBars("AAPL", 0, 0, 30, 40) // overlaps bar 3's slot, extends by one
	merged := mergeBars(cached, fresh, 3)

	require.Len(t, merged, 3)
	assert.Equal(t, 30.0, merged[1].Close, "fresh bars win on timestamp collision")
	assert.Equal(t, 40.0, merged[2].Close)
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i].Time.After(merged[i-1].Time))
	}
}
