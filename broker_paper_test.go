// FILE: broker_paper_test.go

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperBrokerFillsAtMark(t *testing.T) {
	ctx := context.Background()
	broker := newPaperBroker(1000, fixedClock())
	broker.SetMarkPrice("AAPL", 50)

	receipt, err := broker.SubmitOrder(ctx, OrderRequest{
		Symbol: "AAPL", Side: SideBuy, Qty: 2, OrderType: "market", ClientTag: "tag-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sim-000001", receipt.OrderID, "order ids are sequential")
	assert.Equal(t, StatusFilled, receipt.Status)
	assert.Equal(t, 50.0, receipt.FilledAvgPrice)

	account, err := broker.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 900.0, account.Cash)
	assert.Equal(t, 1000.0, account.Equity, "buying at the mark is equity-neutral")

	positions, err := broker.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 2}, positions)
}

func TestPaperBrokerSellAndFlatten(t *testing.T) {
	ctx := context.Background()
	broker := newPaperBroker(1000, fixedClock())
	broker.SetMarkPrice("AAPL", 50)

	_, err := broker.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Side: SideBuy, Qty: 2, OrderType: "market"})
	require.NoError(t, err)

	broker.SetMarkPrice("AAPL", 60)
	_, err = broker.SubmitOrder(ctx, OrderRequest{Symbol: "AAPL", Side: SideSell, Qty: 2, OrderType: "market"})
	require.NoError(t, err)

	account, err := broker.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1020.0, account.Cash, "2 shares bought at 50, sold at 60")

	positions, err := broker.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "flat symbols are absent")
}

func TestPaperBrokerLookups(t *testing.T) {
	ctx := context.Background()
	broker := newPaperBroker(1000, fixedClock())
	broker.SetMarkPrice("AAPL", 50)

	receipt, err := broker.SubmitOrder(ctx, OrderRequest{
		Symbol: "AAPL", Side: SideBuy, Qty: 1, OrderType: "market", ClientTag: "tag-x",
	})
	require.NoError(t, err)

	byID, err := broker.GetOrder(ctx, receipt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, receipt, byID)

	byTag, err := broker.GetOrderByClientTag(ctx, "tag-x")
	require.NoError(t, err)
	assert.Equal(t, receipt, byTag)

	_, err = broker.GetOrder(ctx, "sim-999999")
	assert.ErrorIs(t, err, errOrderNotFound)
	_, err = broker.GetOrderByClientTag(ctx, "missing")
	assert.ErrorIs(t, err, errOrderNotFound)
}

func TestPaperBrokerRejectsWithoutMark(t *testing.T) {
	broker := newPaperBroker(1000, fixedClock())
	_, err := broker.SubmitOrder(context.Background(),
		OrderRequest{Symbol: "TSLA", Side: SideBuy, Qty: 1, OrderType: "market"})
	require.Error(t, err)
	var berr *BrokerError
	assert.ErrorAs(t, err, &berr)
}
