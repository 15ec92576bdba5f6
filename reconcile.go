// FILE: reconcile.go
// Package main – Reconciling the intent ledger against broker truth.
//
// Two moments need it:
//   • startup after a crash: a `submitting` row means the process died
//     mid-submission, so the broker is queried by client tag. Found means
//     the order went out and is adopted; not found means it never reached
//     the venue and the row is marked stale_reconciled (the slot may submit
//     fresh under a new key).
//   • every cycle start: non-terminal intents with a broker order id are
//     re-polled and rolled forward.
//
// Post-submit polling lives here too: bounded by poll_interval/poll_timeout,
// applying partial fills to the local position incrementally, and leaving
// the order open for the next cycle when the timeout lapses.

package main

import (
	"context"
	"errors"
	"time"
)

// reconcileStartup resolves every open intent left by a previous process
// before the first cycle runs.
func (t *Trader) reconcileStartup(ctx context.Context) error {
	snap, err := t.store.LoadSnapshot(t.runID)
	if err != nil {
		return err
	}
	if snap != nil {
		t.log.Info().
			Float64("equity", snap.Equity).
			Int("positions", len(snap.Positions)).
			Msg("resuming run with persisted snapshot")
	}
	// Continue cycle numbering where the previous process stopped, otherwise
	// a resumed run would regenerate intent keys the dead process already
	// consumed and every new decision would short-circuit as a duplicate.
	last, err := t.store.LastCycle(t.runID)
	if err != nil {
		return err
	}
	if last > t.cycle {
		t.cycle = last
		t.log.Info().Int("cycle", last).Msg("resuming cycle numbering")
	}
	return t.reconcileOpenOrders(ctx)
}

// reconcileOpenOrders rolls every non-terminal intent forward using broker
// truth. Broker read failures leave the intent open for the next attempt.
func (t *Trader) reconcileOpenOrders(ctx context.Context) error {
	intents, err := t.store.OpenIntents(t.runID)
	if err != nil {
		return err
	}
	for _, rec := range intents {
		if rec.State == intentSubmitting {
			if err := t.adoptOrExpire(ctx, rec); err != nil {
				return err
			}
			continue
		}
		if rec.BrokerOrderID == "" {
			continue
		}
		receipt, err := t.broker.GetOrder(ctx, rec.BrokerOrderID)
		if errors.Is(err, errOrderNotFound) {
			if err := t.resolveIntent(rec.Key, intentStaleReconciled, ""); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			metricCycleError("broker")
			t.log.Warn().Str("key", rec.Key).Err(err).Msg("intent poll failed, retrying next cycle")
			continue
		}
		if receipt.Status.Terminal() {
			if err := t.resolveIntent(rec.Key, string(receipt.Status), receipt.OrderID); err != nil {
				return err
			}
		} else if string(receipt.Status) != rec.State {
			if err := t.store.UpdateIntent(rec.Key, string(receipt.Status), receipt.OrderID); err != nil {
				return err
			}
		}
	}
	return nil
}

// adoptOrExpire resolves a `submitting` intent: query the broker by the
// client tag it would have carried.
func (t *Trader) adoptOrExpire(ctx context.Context, rec IntentRecord) error {
	receipt, err := t.broker.GetOrderByClientTag(ctx, rec.ClientTag)
	if errors.Is(err, errOrderNotFound) {
		// The submission never reached the venue.
		return t.resolveIntent(rec.Key, intentStaleReconciled, "")
	}
	if err != nil {
		metricCycleError("broker")
		t.log.Warn().Str("key", rec.Key).Err(err).Msg("client-tag lookup failed, retrying next cycle")
		return nil
	}
	// The order exists: adopt it instead of submitting again.
	state := string(receipt.Status)
	if !receipt.Status.Terminal() {
		state = intentSubmitted
	}
	t.emitOrderUpdate(map[string]any{
		"symbol": rec.Symbol, "status": state, "key": rec.Key,
		"order_id": receipt.OrderID, "adopted": true,
	})
	if receipt.Status.Terminal() {
		return t.resolveIntent(rec.Key, state, receipt.OrderID)
	}
	return t.store.UpdateIntent(rec.Key, state, receipt.OrderID)
}

// resolveIntent records a terminal outcome for an intent.
func (t *Trader) resolveIntent(key, state, brokerOrderID string) error {
	if err := t.store.UpdateIntent(key, state, brokerOrderID); err != nil {
		return err
	}
	metricReconciled(OrderStatus(state))
	t.emitOrderUpdate(map[string]any{
		"key": key, "status": state, "order_id": brokerOrderID, "reconciled": true,
	})
	return nil
}

// pollToTerminal follows a freshly submitted order until it reaches a
// terminal status or the poll budget lapses. Partial fills are applied to
// the local position as they appear so later decisions in the same run see
// them; a timeout leaves the intent open for the next cycle's reconcile.
func (t *Trader) pollToTerminal(ctx context.Context, key string, receipt OrderReceipt) error {
	applied := 0.0
	current := receipt

	finish := func() error {
		t.applyFill(current, &applied)
		if err := t.store.UpdateIntent(key, string(current.Status), current.OrderID); err != nil {
			return err
		}
		metricReconciled(current.Status)
		t.emitOrderUpdate(map[string]any{
			"symbol": current.Symbol, "status": string(current.Status), "key": key,
			"order_id": current.OrderID, "filled_qty": current.FilledQty,
			"filled_avg_price": current.FilledAvgPrice,
		})
		return nil
	}

	if current.Status.Terminal() {
		return finish()
	}

	interval := time.Duration(t.cfg.PollIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Duration(t.cfg.PollTimeoutSec) * time.Second)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.leaveOpen(key, current)
		case <-deadline.C:
			return t.leaveOpen(key, current)
		case <-ticker.C:
			refreshed, err := t.broker.GetOrder(ctx, current.OrderID)
			if err != nil {
				metricCycleError("broker")
				t.log.Warn().Str("order_id", current.OrderID).Err(err).Msg("order poll failed")
				continue
			}
			if refreshed.FilledQty > current.FilledQty {
				t.applyFill(refreshed, &applied)
				t.emitOrderUpdate(map[string]any{
					"symbol": refreshed.Symbol, "status": string(StatusPartiallyFilled),
					"key": key, "order_id": refreshed.OrderID, "filled_qty": refreshed.FilledQty,
				})
				if err := t.store.UpdateIntent(key, string(StatusPartiallyFilled), refreshed.OrderID); err != nil {
					return err
				}
			}
			current = refreshed
			if current.Status.Terminal() {
				return finish()
			}
		}
	}
}

// leaveOpen stops polling without resolving: the next cycle's reconcile
// picks the order up again.
func (t *Trader) leaveOpen(key string, current OrderReceipt) error {
	t.emitOrderUpdate(map[string]any{
		"symbol": current.Symbol, "status": string(current.Status), "key": key,
		"order_id": current.OrderID, "poll_timeout": true,
	})
	state := string(current.Status)
	if !current.Status.Terminal() && state == string(StatusPending) {
		state = intentSubmitted
	}
	return t.store.UpdateIntent(key, state, current.OrderID)
}

// applyFill adds the not-yet-applied filled quantity to the local position,
// signed by side. applied tracks how much of FilledQty is already in.
func (t *Trader) applyFill(receipt OrderReceipt, applied *float64) {
	delta := receipt.FilledQty - *applied
	if delta <= 0 {
		return
	}
	*applied = receipt.FilledQty
	if receipt.Side == SideSell {
		delta = -delta
	}
	t.portfolio.Positions[receipt.Symbol] += delta
	if receipt.FilledAvgPrice > 0 {
		t.portfolio.Cash -= delta * receipt.FilledAvgPrice
	}
}
