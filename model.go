// FILE: model.go
// Package main – Core domain types shared across the engine.
//
// What’s here:
//   • Bar                – one OHLCV row, immutable once produced
//   • PortfolioSnapshot  – cash/equity plus signed positions per symbol
//   • OrderRequest       – an order draft produced by sizing + risk gating
//   • OrderReceipt       – broker-reported view of a submitted order
//   • Account            – cash/equity pair reported by a broker
//   • RiskLimits         – per-symbol position and shorting constraints
//   • Error taxonomy     – ConfigError, FeedError, BrokerError, StoreCorruptionError
//
// Only configuration and persisted-state corruption are fatal; feed and
// broker errors are recovered at the cycle boundary (see live.go/trader.go).

package main

import (
	"fmt"
	"time"
)

// Bar is the normalized OHLCV row the engine uses everywhere.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus tracks an order through its lifecycle. Terminal states are
// filled, canceled, and rejected.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusAcknowledged    OrderStatus = "acknowledged"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Account is the cash/equity pair a broker reports for the trading account.
type Account struct {
	Cash   float64
	Equity float64
}

// PortfolioSnapshot is the portfolio state handed to strategies and the risk
// gate. Recomputed each cycle from broker (or simulated) truth; never
// mutated in place.
type PortfolioSnapshot struct {
	Cash      float64
	Equity    float64
	Positions map[string]float64 // symbol -> signed quantity
}

// PositionQty returns the signed quantity held for symbol (0 when flat).
func (p PortfolioSnapshot) PositionQty(symbol string) float64 {
	return p.Positions[symbol]
}

// Clone returns a deep copy so cycle-local mutation never leaks backwards.
func (p PortfolioSnapshot) Clone() PortfolioSnapshot {
	positions := make(map[string]float64, len(p.Positions))
	for symbol, qty := range p.Positions {
		positions[symbol] = qty
	}
	return PortfolioSnapshot{Cash: p.Cash, Equity: p.Equity, Positions: positions}
}

// OrderRequest is the order draft produced by the sizer and adjusted by the
// risk gate. Qty is always positive; Side carries the direction.
type OrderRequest struct {
	Symbol    string
	Side      OrderSide
	Qty       float64
	OrderType string
	ClientTag string
}

// SignedQty returns the position delta the order represents.
func (r OrderRequest) SignedQty() float64 {
	if r.Side == SideSell {
		return -r.Qty
	}
	return r.Qty
}

// OrderReceipt is the normalized broker view of a submitted (or looked-up)
// order. FilledQty/FilledAvgPrice stay zero until the broker reports fills.
type OrderReceipt struct {
	OrderID        string
	Symbol         string
	Side           OrderSide
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         OrderStatus
	ClientTag      string
	SubmittedAt    time.Time
}

// RiskLimits are the portfolio-level constraints the risk gate enforces.
type RiskLimits struct {
	MaxAbsPositionPerSymbol float64
	AllowShort              bool
}

// ---- Error taxonomy ----

// ConfigError aborts the run before the first cycle.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// FeedError marks a per-symbol data failure; the symbol is skipped for the
// current cycle and the run continues.
type FeedError struct {
	Symbol string
	Err    error
}

func (e *FeedError) Error() string { return fmt.Sprintf("feed %s: %v", e.Symbol, e.Err) }
func (e *FeedError) Unwrap() error { return e.Err }

// BrokerError marks a failed broker call. Retryable errors get exactly one
// in-cycle retry before the order is marked failed.
type BrokerError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *BrokerError) Error() string { return fmt.Sprintf("broker %s: %v", e.Op, e.Err) }
func (e *BrokerError) Unwrap() error { return e.Err }

// StoreCorruptionError is fatal: without a trustworthy idempotency ledger
// the run cannot safely continue.
type StoreCorruptionError struct {
	Err error
}

func (e *StoreCorruptionError) Error() string { return fmt.Sprintf("state store: %v", e.Err) }
func (e *StoreCorruptionError) Unwrap() error { return e.Err }
