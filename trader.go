// FILE: trader.go
// Package main – The cycle pipeline.
//
// RunCycle is the one code path both modes execute:
//
//   resolve open intents → fetch bars → refresh broker truth → decide →
//   size → risk-gate → dedupe → submit-once → poll to terminal → summary
//
// Live and backtest differ only in the collaborators wired in (feed, broker,
// store, clock), never in this flow. Symbols are processed in config order
// so replays are reproducible.
//
// Error policy per cycle: FeedError skips the symbol, a retryable
// BrokerError gets one retry before the intent is marked failed, and
// StoreCorruptionError aborts the run.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Trader struct {
	cfg      Config
	runID    string
	strategy Strategy
	feed     Feed
	broker   Broker
	store    StateStore
	sink     *EventSink
	log      zerolog.Logger
	now      func() time.Time

	cycle       int
	ordersTotal int
	portfolio   PortfolioSnapshot
	startEquity float64
	prevEquity  float64
	started     bool
}

func newTrader(cfg Config, runID string, strategy Strategy, feed Feed, broker Broker,
	store StateStore, sink *EventSink, log zerolog.Logger, now func() time.Time) *Trader {
	return &Trader{
		cfg:      cfg,
		runID:    runID,
		strategy: strategy,
		feed:     feed,
		broker:   broker,
		store:    store,
		sink:     sink,
		log:      log,
		now:      now,
		portfolio: PortfolioSnapshot{
			Positions: make(map[string]float64),
		},
	}
}

// Portfolio returns the last reconciled snapshot.
func (t *Trader) Portfolio() PortfolioSnapshot { return t.portfolio.Clone() }

// Cycle returns the number of completed cycles.
func (t *Trader) Cycle() int { return t.cycle }

// OrdersSubmitted returns how many orders reached the broker this run.
func (t *Trader) OrdersSubmitted() int { return t.ordersTotal }

// intentKey is the idempotency identity of one (run, cycle, symbol) slot.
func (t *Trader) intentKey(cycle int, symbol string) string {
	return fmt.Sprintf("%s:%d:%s", t.runID, cycle, symbol)
}

// clientTag is the broker-visible handle for the same slot; short run prefix
// keeps it within venue tag length limits.
func (t *Trader) clientTag(cycle int, symbol string) string {
	return fmt.Sprintf("%.8s-%d-%s", t.runID, cycle, symbol)
}

// RunCycle executes one full trading cycle. The returned error is fatal;
// recoverable faults are logged, counted, and absorbed here.
func (t *Trader) RunCycle(ctx context.Context) error {
	t.cycle++
	metricCycle(t.cfg.Mode)

	if err := t.reconcileOpenOrders(ctx); err != nil {
		return err
	}

	bars := t.fetchBars(ctx)
	t.setMarks(bars)

	if err := t.refreshTruth(ctx); err != nil {
		return err
	}

	targets := t.strategy.DecideTargets(bars, t.portfolio.Clone())

	submitted := 0
	for _, symbol := range t.cfg.Symbols {
		history, ok := bars[symbol]
		if !ok || len(history) == 0 {
			continue
		}
		placed, err := t.tradeSymbol(ctx, symbol, history, targets)
		if err != nil {
			return err
		}
		if placed {
			submitted++
			t.ordersTotal++
		}
	}

	t.emitCycleSummary(submitted)
	return nil
}

// fetchBars pulls each symbol's history, skipping symbols whose feed failed.
func (t *Trader) fetchBars(ctx context.Context) map[string][]Bar {
	bars := make(map[string][]Bar, len(t.cfg.Symbols))
	for _, symbol := range t.cfg.Symbols {
		history, err := t.feed.Bars(ctx, symbol)
		if err != nil {
			metricCycleError("feed")
			t.sink.EmitError("feed", err)
			t.log.Warn().Str("symbol", symbol).Err(err).Msg("feed failed, skipping symbol this cycle")
			continue
		}
		bars[symbol] = history
	}
	return bars
}

// markSetter is satisfied by the paper broker; live brokers price fills
// themselves.
type markSetter interface {
	SetMarkPrice(symbol string, price float64)
}

func (t *Trader) setMarks(bars map[string][]Bar) {
	setter, ok := t.broker.(markSetter)
	if !ok {
		return
	}
	for symbol, history := range bars {
		if len(history) > 0 {
			setter.SetMarkPrice(symbol, history[len(history)-1].Close)
		}
	}
}

// refreshTruth overwrites local portfolio state with what the broker
// reports, persists the snapshot, and updates equity accounting.
func (t *Trader) refreshTruth(ctx context.Context) error {
	positions, err := t.broker.GetPositions(ctx)
	if err != nil {
		return t.absorbBrokerFault("positions", err)
	}
	account, err := t.broker.GetAccount(ctx)
	if err != nil {
		return t.absorbBrokerFault("account", err)
	}
	t.portfolio = PortfolioSnapshot{
		Cash:      account.Cash,
		Equity:    account.Equity,
		Positions: positions,
	}
	if t.portfolio.Positions == nil {
		t.portfolio.Positions = make(map[string]float64)
	}
	if !t.started {
		t.startEquity = account.Equity
		t.prevEquity = account.Equity
		t.started = true
	}
	metricEquity(account.Equity)
	return t.store.SaveSnapshot(t.runID, t.portfolio)
}

// absorbBrokerFault downgrades a broker read failure to a skipped cycle
// unless the breaker/store says otherwise.
func (t *Trader) absorbBrokerFault(scope string, err error) error {
	var serr *StoreCorruptionError
	if errors.As(err, &serr) {
		return err
	}
	metricCycleError("broker")
	t.sink.EmitError(scope, err)
	t.log.Warn().Str("scope", scope).Err(err).Msg("broker read failed, cycle degraded")
	return nil
}

// tradeSymbol runs decide→size→gate→submit→reconcile for one symbol.
// Returns whether an order reached the broker.
func (t *Trader) tradeSymbol(ctx context.Context, symbol string, history []Bar, targets map[string]float64) (bool, error) {
	signal, ok := targets[symbol]
	if !ok {
		return false, nil // no opinion: hold
	}
	price := history[len(history)-1].Close
	current := t.portfolio.PositionQty(symbol)

	targetQty, err := resolveTargetQty(t.cfg, symbol, signal, price)
	if err != nil {
		metricCycleError("feed")
		t.sink.EmitError("sizing", err)
		return false, nil
	}

	t.emitDecision(symbol, signal, targetQty, current, price)

	draft, ok := sizeOrder(t.cfg, symbol, current, targetQty)
	if !ok {
		return false, nil
	}

	limits := RiskLimits{
		MaxAbsPositionPerSymbol: t.cfg.MaxAbsPositionPerSymbol,
		AllowShort:              t.cfg.AllowShort,
	}
	decision := evaluateRisk(current, draft, limits)
	switch decision.Action {
	case RiskReject:
		metricRisk("reject", decision.Reason)
		t.emitOrderUpdate(map[string]any{
			"symbol": symbol, "status": "risk_rejected", "reason": decision.Reason,
			"side": string(draft.Side), "qty": draft.Qty,
		})
		return false, nil
	case RiskClamp:
		metricRisk("clamp", decision.Reason)
		t.emitOrderUpdate(map[string]any{
			"symbol": symbol, "status": "risk_clamped", "reason": decision.Reason,
			"side": string(decision.Order.Side), "qty": decision.Order.Qty, "requested_qty": draft.Qty,
		})
		if decision.Order.Qty == 0 || decision.Order.Qty < t.cfg.MinTradeQty {
			return false, nil
		}
		draft = decision.Order
	default:
		draft = decision.Order
	}

	fingerprint := intentFingerprint(symbol, draft.Side, draft.Qty)
	active, err := t.store.HasActiveIntent(t.runID, fingerprint)
	if err != nil {
		return false, err
	}
	if active {
		metricDuplicate()
		t.emitOrderUpdate(map[string]any{
			"symbol": symbol, "status": "duplicate_suppressed", "fingerprint": fingerprint,
		})
		return false, nil
	}

	key := t.intentKey(t.cycle, symbol)
	draft.ClientTag = t.clientTag(t.cycle, symbol)
	rec := IntentRecord{
		Key:         key,
		RunID:       t.runID,
		Cycle:       t.cycle,
		Symbol:      symbol,
		Side:        string(draft.Side),
		Qty:         draft.Qty,
		Fingerprint: fingerprint,
		ClientTag:   draft.ClientTag,
	}

	t.sink.Emit(evOrderSubmit, map[string]any{
		"symbol": symbol, "side": string(draft.Side), "qty": draft.Qty,
		"order_type": draft.OrderType, "client_tag": draft.ClientTag, "key": key,
	})

	receipt, duplicate, err := submitOnce(t.store, rec, func() (OrderReceipt, error) {
		return t.submitWithRetry(ctx, draft)
	})
	if err != nil {
		var serr *StoreCorruptionError
		if errors.As(err, &serr) {
			return false, err
		}
		metricCycleError("broker")
		t.sink.EmitError("submit", err)
		t.emitOrderUpdate(map[string]any{
			"symbol": symbol, "status": intentFailed, "key": key, "error": err.Error(),
		})
		t.log.Error().Str("symbol", symbol).Err(err).Msg("order submission failed")
		return false, nil
	}
	if duplicate {
		metricDuplicate()
		t.emitOrderUpdate(map[string]any{
			"symbol": symbol, "status": "duplicate_suppressed", "key": key,
			"order_id": receipt.OrderID,
		})
		return false, nil
	}

	metricOrder(t.cfg.Mode, draft.Side)
	if err := t.pollToTerminal(ctx, key, receipt); err != nil {
		return true, err
	}
	return true, nil
}

// submitWithRetry places the order, retrying exactly once on retryable
// broker failures.
func (t *Trader) submitWithRetry(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	receipt, err := t.broker.SubmitOrder(ctx, req)
	if err == nil {
		return receipt, nil
	}
	var berr *BrokerError
	if !errors.As(err, &berr) || !berr.Retryable {
		return OrderReceipt{}, err
	}
	t.log.Warn().Str("symbol", req.Symbol).Err(err).Msg("retrying order submission once")
	return t.broker.SubmitOrder(ctx, req)
}

func (t *Trader) emitDecision(symbol string, signal, targetQty, current, price float64) {
	direction := "hold"
	switch {
	case targetQty > current:
		direction = "buy"
	case targetQty < current:
		direction = "sell"
	}
	metricDecision(direction)
	t.sink.Emit(evDecision, map[string]any{
		"symbol":      symbol,
		"signal":      signal,
		"target_qty":  targetQty,
		"current_qty": current,
		"price":       price,
		"direction":   direction,
	})
}

func (t *Trader) emitOrderUpdate(payload map[string]any) {
	t.sink.Emit(evOrderUpdate, payload)
}

func (t *Trader) emitCycleSummary(submitted int) {
	equity := t.portfolio.Equity
	t.sink.Emit(evCycleSummary, map[string]any{
		"cycle":            t.cycle,
		"cash":             t.portfolio.Cash,
		"equity":           equity,
		"positions":        t.portfolio.Positions,
		"orders_submitted": submitted,
		"pnl_since_start":  equity - t.startEquity,
		"pnl_since_prev":   equity - t.prevEquity,
	})
	t.prevEquity = equity
}
