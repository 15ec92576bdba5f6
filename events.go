// FILE: events.go
// Package main – Structured run logging.
//
// Two surfaces share zerolog:
//   • a human console logger (level from config) for operators
//   • an append-only JSONL event sink, one JSON object per line, written to
//     <events-dir>/<run-id>/events.jsonl
//
// Every event carries ts, run_id, mode, strategy_id, event_type, plus an
// event-specific payload object. The sink's timestamp comes from an injected
// clock so backtests stamp events with simulated bar time.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Event types appearing on the event_type field.
const (
	evRunStarted   = "run_started"
	evRunFinished  = "run_finished"
	evDecision     = "decision"
	evOrderSubmit  = "order_submit"
	evOrderUpdate  = "order_update"
	evCycleSummary = "cycle_summary"
	evError        = "error"
)

// EventSink appends run events as JSONL. Single-writer by construction (the
// run loop owns it); Close syncs the file.
type EventSink struct {
	runID      string
	mode       string
	strategyID string
	file       *os.File
	logger     zerolog.Logger
	now        func() time.Time
}

// newEventSink creates <eventsDir>/<runID>/events.jsonl and returns a sink
// bound to the run. now is the clock used for the ts field.
func newEventSink(eventsDir, runID, mode, strategyID string, now func() time.Time) (*EventSink, error) {
	dir := filepath.Join(eventsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventSink{
		runID:      runID,
		mode:       mode,
		strategyID: strategyID,
		file:       f,
		logger:     zerolog.New(f),
		now:        now,
	}, nil
}

// Emit appends one event line. Payload maps are marshaled with sorted keys
// (encoding/json map behavior), which keeps backtest runs byte-comparable.
func (s *EventSink) Emit(eventType string, payload map[string]any) {
	if s == nil {
		return
	}
	s.logger.Log().
		Str("ts", s.now().UTC().Format(time.RFC3339Nano)).
		Str("run_id", s.runID).
		Str("mode", s.mode).
		Str("strategy_id", s.strategyID).
		Str("event_type", eventType).
		Interface("payload", payload).
		Send()
}

// EmitError records a recoverable fault without aborting the run.
func (s *EventSink) EmitError(scope string, err error) {
	s.Emit(evError, map[string]any{"scope": scope, "error": err.Error()})
}

func (s *EventSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// newConsoleLogger builds the operator-facing logger.
func newConsoleLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
