// FILE: strategy_sma.go
// Package main – SMA crossover strategy.
//
// Long targetQty while the short SMA is above the long SMA, short -targetQty
// while below (flat instead when shorting is off; the risk gate enforces the
// same limit, this just avoids emitting orders it would clamp every cycle).

package main

type smaCrossover struct {
	shortWindow int
	longWindow  int
	targetQty   float64
	allowShort  bool
}

func newSMACrossover(cfg Config) (Strategy, error) {
	if cfg.SMAShortWindow <= 0 || cfg.SMALongWindow <= 0 {
		return nil, configErrorf("sma windows must be > 0")
	}
	if cfg.SMAShortWindow >= cfg.SMALongWindow {
		return nil, configErrorf("sma_short_window (%d) must be < sma_long_window (%d)",
			cfg.SMAShortWindow, cfg.SMALongWindow)
	}
	if cfg.TargetQty <= 0 {
		return nil, configErrorf("target_qty must be > 0")
	}
	return &smaCrossover{
		shortWindow: cfg.SMAShortWindow,
		longWindow:  cfg.SMALongWindow,
		targetQty:   cfg.TargetQty,
		allowShort:  cfg.AllowShort,
	}, nil
}

func (s *smaCrossover) ID() string { return "sma_crossover" }

// One bar past the long window so the regime is defined, not on its seam.
func (s *smaCrossover) WarmupBars() int { return s.longWindow + 1 }

func (s *smaCrossover) DecideTargets(bars map[string][]Bar, _ PortfolioSnapshot) map[string]float64 {
	targets := make(map[string]float64, len(bars))
	for symbol, history := range bars {
		if len(history) < s.WarmupBars() {
			targets[symbol] = 0
			continue
		}
		fast := smaBars(history, s.shortWindow)
		slow := smaBars(history, s.longWindow)
		switch {
		case fast > slow:
			targets[symbol] = s.targetQty
		case fast < slow && s.allowShort:
			targets[symbol] = -s.targetQty
		default:
			targets[symbol] = 0
		}
	}
	return targets
}
