// FILE: strategy_scalping.go
// Package main – Fast/slow EMA scalping strategy with momentum confirmation.
//
// Enters targetQty when the fast EMA crosses above the slow EMA *and* the
// last close moved up; mirrors for shorts. Holds flat otherwise. Tighter
// windows than sma_crossover, intended for short-interval runs.

package main

type scalping struct {
	fastWindow int
	slowWindow int
	targetQty  float64
	allowShort bool
}

func newScalping(cfg Config) (Strategy, error) {
	if cfg.ScalpFastWindow <= 0 || cfg.ScalpSlowWindow <= 0 {
		return nil, configErrorf("scalp windows must be > 0")
	}
	if cfg.ScalpFastWindow >= cfg.ScalpSlowWindow {
		return nil, configErrorf("scalp_fast_window (%d) must be < scalp_slow_window (%d)",
			cfg.ScalpFastWindow, cfg.ScalpSlowWindow)
	}
	if cfg.TargetQty <= 0 {
		return nil, configErrorf("target_qty must be > 0")
	}
	return &scalping{
		fastWindow: cfg.ScalpFastWindow,
		slowWindow: cfg.ScalpSlowWindow,
		targetQty:  cfg.TargetQty,
		allowShort: cfg.AllowShort,
	}, nil
}

func (s *scalping) ID() string      { return "scalping" }
func (s *scalping) WarmupBars() int { return s.slowWindow + 1 }

func (s *scalping) DecideTargets(bars map[string][]Bar, _ PortfolioSnapshot) map[string]float64 {
	targets := make(map[string]float64, len(bars))
	for symbol, history := range bars {
		if len(history) < s.WarmupBars() {
			targets[symbol] = 0
			continue
		}
		fast := emaBars(history, s.fastWindow)
		slow := emaBars(history, s.slowWindow)
		last := history[len(history)-1].Close
		prev := history[len(history)-2].Close
		switch {
		case fast > slow && last > prev:
			targets[symbol] = s.targetQty
		case fast < slow && last < prev && s.allowShort:
			targets[symbol] = -s.targetQty
		default:
			targets[symbol] = 0
		}
	}
	return targets
}
