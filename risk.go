// FILE: risk.go
// Package main – Risk gate.
//
// evaluateRisk is a pure function over (current position, order draft,
// limits). It never mutates shared state and never performs I/O, so the
// gate behaves identically in live and backtest runs.
//
// Rules, in order:
//   1. Shorting disabled: a draft whose resulting position would cross below
//      zero is clamped to exactly flatten. If flattening needs no trade the
//      clamp degrades to a no-op; if it would reverse the draft's side the
//      draft is rejected.
//   2. Max position: a draft pushing |position| past the per-symbol cap is
//      clamped to the largest legal delta, and rejected when no legal delta
//      in the draft's direction remains.

package main

import "math"

type RiskAction string

const (
	RiskAccept RiskAction = "accept"
	RiskClamp  RiskAction = "clamp"
	RiskReject RiskAction = "reject"
)

// Gate reasons surfaced on events and metrics.
const (
	reasonShortDisabled = "short_disabled"
	reasonMaxPosition   = "max_position_exceeded"
	reasonNoOp          = "no_op"
)

// RiskDecision is the gate's verdict. Order carries the (possibly adjusted)
// draft for accept and clamp; a clamp with Qty 0 means "do not trade".
type RiskDecision struct {
	Action RiskAction
	Reason string
	Order  OrderRequest
}

func evaluateRisk(current float64, draft OrderRequest, limits RiskLimits) RiskDecision {
	delta := draft.SignedQty()
	target := current + delta

	if !limits.AllowShort && target < 0 {
		// Clamp to flatten: the furthest a sell may go is zero.
		legalDelta := -current
		switch {
		case legalDelta == 0:
			return RiskDecision{Action: RiskClamp, Reason: reasonNoOp, Order: zeroQty(draft)}
		case sameSign(legalDelta, delta):
			adjusted := draft
			adjusted.Qty = math.Abs(legalDelta)
			return RiskDecision{Action: RiskClamp, Reason: reasonShortDisabled, Order: adjusted}
		default:
			// Flattening would need the opposite side; refuse instead of
			// inverting the caller's intent.
			return RiskDecision{Action: RiskReject, Reason: reasonShortDisabled}
		}
	}

	if limit := limits.MaxAbsPositionPerSymbol; limit > 0 && math.Abs(target) > limit {
		legalTarget := math.Copysign(limit, target)
		legalDelta := legalTarget - current
		if legalDelta == 0 || !sameSign(legalDelta, delta) {
			return RiskDecision{Action: RiskReject, Reason: reasonMaxPosition}
		}
		adjusted := draft
		adjusted.Qty = math.Abs(legalDelta)
		return RiskDecision{Action: RiskClamp, Reason: reasonMaxPosition, Order: adjusted}
	}

	return RiskDecision{Action: RiskAccept, Order: draft}
}

func zeroQty(draft OrderRequest) OrderRequest {
	draft.Qty = 0
	return draft
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
