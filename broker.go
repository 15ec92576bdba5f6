// FILE: broker.go
// Package main – Broker contract.
//
// Both the in-memory paper broker and the live REST adapter satisfy Broker,
// which is exactly the surface the pipeline touches. Broker state is the
// source of truth: each cycle overwrites local positions and account from
// these calls before deciding anything.

package main

import (
	"context"
	"errors"
)

// errOrderNotFound is returned by order lookups when the broker has no
// record of the id or client tag. Callers use it during restart
// reconciliation to tell "never reached the broker" from "reached and lost".
var errOrderNotFound = errors.New("order not found")

type Broker interface {
	Name() string
	GetAccount(ctx context.Context) (Account, error)
	// GetPositions returns signed quantities keyed by symbol; flat symbols
	// are absent.
	GetPositions(ctx context.Context) (map[string]float64, error)
	GetOpenOrders(ctx context.Context) ([]OrderReceipt, error)
	// SubmitOrder places req with req.ClientTag as the broker-side
	// idempotency handle.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)
	GetOrder(ctx context.Context, orderID string) (OrderReceipt, error)
	// GetOrderByClientTag resolves an order by the tag it was submitted
	// with, or errOrderNotFound.
	GetOrderByClientTag(ctx context.Context, tag string) (OrderReceipt, error)
}
