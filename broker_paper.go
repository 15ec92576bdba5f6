// FILE: broker_paper.go
// Package main – In-memory paper broker.
//
// Fills every market order immediately and in full at the current mark price
// for the symbol (the backtest sets marks to each bar's close before the
// cycle runs). Order ids are sequential, and the clock is injected, so two
// identical backtests produce identical receipts.

package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type PaperBroker struct {
	mu          sync.Mutex
	cash        float64
	positions   map[string]float64
	marks       map[string]float64
	ordersByID  map[string]OrderReceipt
	ordersByTag map[string]OrderReceipt
	seq         int
	now         func() time.Time
}

func newPaperBroker(startingCash float64, now func() time.Time) *PaperBroker {
	return &PaperBroker{
		cash:        startingCash,
		positions:   make(map[string]float64),
		marks:       make(map[string]float64),
		ordersByID:  make(map[string]OrderReceipt),
		ordersByTag: make(map[string]OrderReceipt),
		now:         now,
	}
}

func (b *PaperBroker) Name() string { return "paper" }

// SetMarkPrice sets the fill/valuation price for symbol. In backtests this
// is the current bar's close, the same price the sizer saw.
func (b *PaperBroker) SetMarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price
}

func (b *PaperBroker) GetAccount(ctx context.Context) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Account{Cash: b.cash, Equity: b.equityLocked()}, nil
}

// equityLocked is cash plus every position marked at its last set price.
func (b *PaperBroker) equityLocked() float64 {
	equity := b.cash
	for symbol, qty := range b.positions {
		equity += qty * b.marks[symbol]
	}
	return equity
}

func (b *PaperBroker) GetPositions(ctx context.Context) (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.positions))
	for symbol, qty := range b.positions {
		if qty != 0 {
			out[symbol] = qty
		}
	}
	return out, nil
}

func (b *PaperBroker) GetOpenOrders(ctx context.Context) ([]OrderReceipt, error) {
	// Fills are immediate; nothing is ever open between calls.
	return nil, nil
}

func (b *PaperBroker) SubmitOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.marks[req.Symbol]
	if !ok || price <= 0 {
		return OrderReceipt{}, &BrokerError{
			Op:  "submit",
			Err: fmt.Errorf("no mark price for %s", req.Symbol),
		}
	}
	b.seq++
	receipt := OrderReceipt{
		OrderID:        fmt.Sprintf("sim-%06d", b.seq),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            req.Qty,
		FilledQty:      req.Qty,
		FilledAvgPrice: price,
		Status:         StatusFilled,
		ClientTag:      req.ClientTag,
		SubmittedAt:    b.now(),
	}
	b.positions[req.Symbol] += req.SignedQty()
	b.cash -= req.SignedQty() * price
	b.ordersByID[receipt.OrderID] = receipt
	if req.ClientTag != "" {
		b.ordersByTag[req.ClientTag] = receipt
	}
	return receipt, nil
}

func (b *PaperBroker) GetOrder(ctx context.Context, orderID string) (OrderReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.ordersByID[orderID]
	if !ok {
		return OrderReceipt{}, errOrderNotFound
	}
	return receipt, nil
}

func (b *PaperBroker) GetOrderByClientTag(ctx context.Context, tag string) (OrderReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.ordersByTag[tag]
	if !ok {
		return OrderReceipt{}, errOrderNotFound
	}
	return receipt, nil
}
