// FILE: live.go
// Package main – Live run controller and operator commands.
//
// runLive executes cycles on the configured interval until interrupted or
// until -max-passes cycles have run. Interruption is honored between cycles
// only; a cycle in flight finishes its reconciliation. Shutdown flushes the
// event sink and leaves all positions untouched: flattening is the explicit
// -liquidate command, never a side effect.

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func runLive(ctx context.Context, cfg Config, runID string, log zerolog.Logger) error {
	strategy, err := newStrategy(cfg)
	if err != nil {
		return err
	}
	store, err := newSqliteStore(cfg.StateDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := newAlpacaBroker(cfg)
	feed := newLiveFeed(broker, cfg.LiveFeedLookback)

	sink, err := newEventSink(cfg.EventsDir, runID, cfg.Mode, strategy.ID(), time.Now)
	if err != nil {
		return err
	}
	defer sink.Close()

	trader := newTrader(cfg, runID, strategy, feed, broker, store, sink, log, time.Now)

	if err := store.RecordRun(runID, cfg.Mode, strategy.ID()); err != nil {
		return err
	}
	// Resolve whatever a previous process left behind before trading.
	if err := trader.reconcileStartup(ctx); err != nil {
		return err
	}

	sink.Emit(evRunStarted, map[string]any{
		"symbols":    cfg.Symbols,
		"interval_s": cfg.IntervalSeconds,
		"max_passes": cfg.MaxPasses,
		"broker":     broker.Name(),
	})
	log.Info().Str("run_id", runID).Msg("live loop starting: " + cfg.describe())

	return runLoop(ctx, cfg, trader, sink, log)
}

// runLoop drives cycles until interrupted or max passes. The interrupt is
// observed between cycles only: a cycle in flight runs on a detached context
// so its broker calls and poll loop always complete their reconciliation,
// bounded by the client timeout and the poll budget.
func runLoop(ctx context.Context, cfg Config, trader *Trader, sink *EventSink, log zerolog.Logger) error {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	pass := 0
	for {
		if ctx.Err() != nil {
			log.Info().Msg("interrupted before cycle start, shutting down")
			sink.Emit(evRunFinished, map[string]any{"passes": pass, "interrupted": true})
			return nil
		}
		pass++
		if err := trader.RunCycle(context.Background()); err != nil {
			sink.EmitError("cycle", err)
			return fmt.Errorf("cycle %d: %w", pass, err)
		}
		log.Info().
			Int("pass", pass).
			Float64("equity", trader.Portfolio().Equity).
			Msg("cycle complete")

		if cfg.MaxPasses > 0 && pass >= cfg.MaxPasses {
			log.Info().Int("passes", pass).Msg("max passes reached")
			break
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted, shutting down after completed cycle")
			sink.Emit(evRunFinished, map[string]any{"passes": pass, "interrupted": true})
			return nil
		case <-time.After(interval):
		}
	}
	sink.Emit(evRunFinished, map[string]any{"passes": pass, "interrupted": false})
	return nil
}

// runLiquidate submits offsetting market orders for every open position,
// waits for each to reach a terminal status, and exits.
func runLiquidate(ctx context.Context, cfg Config, log zerolog.Logger) error {
	broker := newAlpacaBroker(cfg)
	positions, err := broker.GetPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		log.Info().Msg("no open positions to liquidate")
		return nil
	}
	for symbol, qty := range positions {
		side := SideSell
		if qty < 0 {
			side = SideBuy
		}
		req := OrderRequest{
			Symbol:    symbol,
			Side:      side,
			Qty:       absFloat(qty),
			OrderType: "market",
			ClientTag: "liq-" + uuid.NewString()[:8] + "-" + symbol,
		}
		receipt, err := broker.SubmitOrder(ctx, req)
		if err != nil {
			log.Error().Str("symbol", symbol).Err(err).Msg("liquidation order failed")
			continue
		}
		log.Info().
			Str("symbol", symbol).
			Str("side", string(side)).
			Float64("qty", req.Qty).
			Str("order_id", receipt.OrderID).
			Msg("liquidation order submitted")
	}
	return nil
}

// runPortfolio prints the account and open positions, then exits.
func runPortfolio(ctx context.Context, cfg Config) error {
	broker := newAlpacaBroker(cfg)
	account, err := broker.GetAccount(ctx)
	if err != nil {
		return err
	}
	positions, err := broker.GetPositions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("account: cash=%.2f equity=%.2f\n", account.Cash, account.Equity)
	if len(positions) == 0 {
		fmt.Println("positions: none")
		return nil
	}
	for _, symbol := range sortedKeys(positions) {
		fmt.Printf("position: %-8s %+.4f\n", symbol, positions[symbol])
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
