// FILE: strategy_momentum.go
// Package main – Lookback-return momentum strategy.
//
// Goes to +maxAbsQty when the return over the lookback window exceeds the
// threshold, to -maxAbsQty when it is below -threshold (shorting permitting),
// flat in between.

package main

type momentum struct {
	lookback   int
	threshold  float64
	maxAbsQty  float64
	allowShort bool
}

func newMomentum(cfg Config) (Strategy, error) {
	if cfg.MomentumLookback <= 0 {
		return nil, configErrorf("momentum_lookback must be > 0")
	}
	if cfg.MomentumThreshold < 0 {
		return nil, configErrorf("momentum_threshold must be >= 0")
	}
	return &momentum{
		lookback:   cfg.MomentumLookback,
		threshold:  cfg.MomentumThreshold,
		maxAbsQty:  cfg.MaxAbsPositionPerSymbol,
		allowShort: cfg.AllowShort,
	}, nil
}

func (m *momentum) ID() string      { return "momentum" }
func (m *momentum) WarmupBars() int { return m.lookback + 1 }

func (m *momentum) DecideTargets(bars map[string][]Bar, _ PortfolioSnapshot) map[string]float64 {
	targets := make(map[string]float64, len(bars))
	for symbol, history := range bars {
		if len(history) < m.WarmupBars() {
			targets[symbol] = 0
			continue
		}
		ret := lookbackReturn(history, m.lookback)
		switch {
		case ret > m.threshold:
			targets[symbol] = m.maxAbsQty
		case ret < -m.threshold && m.allowShort:
			targets[symbol] = -m.maxAbsQty
		default:
			targets[symbol] = 0
		}
	}
	return targets
}
