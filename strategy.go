// FILE: strategy.go
// Package main – Strategy contract and registry.
//
// A strategy maps per-symbol bar history (plus the current portfolio) to
// absolute target positions. Strategies are pure over their inputs: no
// clocks, no RNG, no I/O. That purity is what lets backtests replay the
// exact live pipeline deterministically.
//
// Available strategies are registered in an explicit factory map keyed by
// id; unknown ids fail config validation before the first cycle.

package main

import "sort"

// Strategy produces per-symbol target positions each cycle.
type Strategy interface {
	// ID is the registry id, echoed on every event.
	ID() string
	// WarmupBars is the minimum history length before the strategy emits
	// non-zero targets.
	WarmupBars() int
	// DecideTargets returns absolute signed target quantities keyed by
	// symbol. A missing symbol means "no opinion" (hold current position);
	// an explicit 0 means "be flat".
	DecideTargets(bars map[string][]Bar, portfolio PortfolioSnapshot) map[string]float64
}

type strategyFactory func(cfg Config) (Strategy, error)

var strategyFactories = map[string]strategyFactory{
	"sma_crossover": newSMACrossover,
	"momentum":      newMomentum,
	"scalping":      newScalping,
}

func newStrategy(cfg Config) (Strategy, error) {
	factory, ok := strategyFactories[cfg.Strategy]
	if !ok {
		return nil, configErrorf("unknown strategy %q", cfg.Strategy)
	}
	return factory(cfg)
}

func availableStrategyIDs() []string {
	ids := make([]string, 0, len(strategyFactories))
	for id := range strategyFactories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
