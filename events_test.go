// FILE: events_test.go

package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSinkWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	sink, err := newEventSink(dir, "run-ev", "backtest", "sma_crossover", fixedClock())
	require.NoError(t, err)

	sink.Emit(evRunStarted, map[string]any{"symbols": []string{"AAPL"}})
	sink.Emit(evDecision, map[string]any{"symbol": "AAPL", "signal": 1.0})
	sink.EmitError("feed", assert.AnError)
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "run-ev", "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj), "every line must be one JSON object")
		lines = append(lines, obj)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 3)

	first := lines[0]
	assert.Equal(t, "run-ev", first["run_id"])
	assert.Equal(t, "backtest", first["mode"])
	assert.Equal(t, "sma_crossover", first["strategy_id"])
	assert.Equal(t, evRunStarted, first["event_type"])
	assert.NotEmpty(t, first["ts"])
	assert.Contains(t, first, "payload")

	assert.Equal(t, evDecision, lines[1]["event_type"])
	assert.Equal(t, evError, lines[2]["event_type"])
}

func TestEventSinkNilIsSafe(t *testing.T) {
	var sink *EventSink
	assert.NotPanics(t, func() {
		sink.Emit(evDecision, nil)
		sink.EmitError("feed", assert.AnError)
		require.NoError(t, sink.Close())
	})
}
