// FILE: sizing.go
// Package main – Position sizing.
//
// The sizer turns a strategy's unit signal into an absolute target quantity,
// then the target/current difference into an order draft:
//
//   notional mode: target = signal * order_notional_usd / price
//   units mode:    target = signal, and the delta is truncated toward zero
//                  to whole units (a 0.7-unit delta trades nothing)
//
// Quantities are rounded half-up to qty_precision decimals; drafts smaller
// than min_trade_qty are suppressed. A non-positive price is a data fault,
// not a zero-qty order.

package main

import (
	"fmt"
	"math"
)

// resolveTargetQty converts a strategy signal into a target position.
func resolveTargetQty(cfg Config, symbol string, signal, price float64) (float64, error) {
	if signal == 0 {
		return 0, nil
	}
	switch cfg.SizingMode {
	case "units":
		return signal, nil
	default: // notional
		if price <= 0 {
			return 0, &FeedError{Symbol: symbol, Err: fmt.Errorf("non-positive price %v", price)}
		}
		return signal * cfg.OrderNotionalUSD / price, nil
	}
}

// sizeOrder builds the order draft that moves currentQty to targetQty.
// ok is false when no trade is needed or the delta rounds below the minimum.
func sizeOrder(cfg Config, symbol string, currentQty, targetQty float64) (OrderRequest, bool) {
	delta := targetQty - currentQty
	if cfg.SizingMode == "units" {
		delta = math.Trunc(delta)
	}
	qty := roundHalfUp(math.Abs(delta), cfg.QtyPrecision)
	if qty == 0 || qty < cfg.MinTradeQty {
		return OrderRequest{}, false
	}
	side := SideBuy
	if delta < 0 {
		side = SideSell
	}
	return OrderRequest{
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		OrderType: cfg.OrderType,
	}, true
}

// roundHalfUp rounds a non-negative quantity to the given number of decimal
// places, ties away from zero (0.00005 at precision 4 becomes 0.0001).
func roundHalfUp(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Floor(v*p+0.5) / p
}
