// FILE: risk_test.go

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func draftOrder(side OrderSide, qty float64) OrderRequest {
	return OrderRequest{Symbol: "AAPL", Side: side, Qty: qty, OrderType: "market"}
}

func TestRiskAcceptWithinLimits(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 10, AllowShort: false}
	decision := evaluateRisk(2, draftOrder(SideBuy, 3), limits)
	assert.Equal(t, RiskAccept, decision.Action)
	assert.Equal(t, 3.0, decision.Order.Qty)
}

func TestRiskClampToFlattenOnShortCross(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 10, AllowShort: false}

	// current +2, sell 5 would land at -3: clamp to sell exactly 2
	decision := evaluateRisk(2, draftOrder(SideSell, 5), limits)
	assert.Equal(t, RiskClamp, decision.Action)
	assert.Equal(t, reasonShortDisabled, decision.Reason)
	assert.Equal(t, SideSell, decision.Order.Side)
	assert.Equal(t, 2.0, decision.Order.Qty)
}

func TestRiskClampNoOpWhenAlreadyFlat(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 10, AllowShort: false}

	// flat and shorting disabled: the clamp degrades to "do not trade"
	decision := evaluateRisk(0, draftOrder(SideSell, 1), limits)
	assert.Equal(t, RiskClamp, decision.Action)
	assert.Equal(t, reasonNoOp, decision.Reason)
	assert.Equal(t, 0.0, decision.Order.Qty)
}

func TestRiskShortAllowedPasses(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 10, AllowShort: true}
	decision := evaluateRisk(0, draftOrder(SideSell, 1), limits)
	assert.Equal(t, RiskAccept, decision.Action)
}

func TestRiskClosingShortIsAllowed(t *testing.T) {
	// shorting off, but buying back an inherited short position is fine
	limits := RiskLimits{MaxAbsPositionPerSymbol: 10, AllowShort: false}
	decision := evaluateRisk(-2, draftOrder(SideBuy, 2), limits)
	assert.Equal(t, RiskAccept, decision.Action)
}

func TestRiskMaxPositionClamp(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 5, AllowShort: true}

	// current 3, buy 4 would land at 7: clamp the delta to 2
	decision := evaluateRisk(3, draftOrder(SideBuy, 4), limits)
	assert.Equal(t, RiskClamp, decision.Action)
	assert.Equal(t, reasonMaxPosition, decision.Reason)
	assert.Equal(t, 2.0, decision.Order.Qty)

	// mirror on the short side
	decision = evaluateRisk(-3, draftOrder(SideSell, 4), limits)
	assert.Equal(t, RiskClamp, decision.Action)
	assert.Equal(t, 2.0, decision.Order.Qty)
}

func TestRiskMaxPositionRejectAtCap(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 5, AllowShort: true}

	// already at the cap: no legal delta in the buy direction remains
	decision := evaluateRisk(5, draftOrder(SideBuy, 1), limits)
	assert.Equal(t, RiskReject, decision.Action)
	assert.Equal(t, reasonMaxPosition, decision.Reason)
}

func TestRiskReducingTradeAtCapPasses(t *testing.T) {
	limits := RiskLimits{MaxAbsPositionPerSymbol: 5, AllowShort: true}
	decision := evaluateRisk(5, draftOrder(SideSell, 3), limits)
	assert.Equal(t, RiskAccept, decision.Action)
}
