// FILE: broker_live.go
// Package main – Live broker adapter (Alpaca-style paper REST API).
//
// Every call goes through a circuit breaker; order submission additionally
// passes a rate limiter sized from orders_per_minute. HTTP timeouts are
// bounded by both the client timeout and the caller's context. Failures are
// classified on the receipt: 429 and 5xx responses (and transport errors)
// are retryable, 4xx are not, and 404 on order lookups maps to
// errOrderNotFound so reconciliation can tell a lost order from a missing one.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type AlpacaBroker struct {
	baseURL   string
	dataURL   string
	apiKey    string
	secretKey string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

func newAlpacaBroker(cfg Config) *AlpacaBroker {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "broker",
		Timeout: time.Duration(cfg.BreakerCooldownS) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		// A 404 on an order lookup is an answer, not a venue fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errOrderNotFound)
		},
	})
	perSecond := rate.Limit(float64(cfg.OrdersPerMinute) / 60.0)
	return &AlpacaBroker{
		baseURL:   cfg.BrokerBaseURL,
		dataURL:   cfg.BrokerDataURL,
		apiKey:    cfg.BrokerAPIKey,
		secretKey: cfg.BrokerSecretKey,
		client:    &http.Client{Timeout: time.Duration(cfg.BrokerTimeoutSec) * time.Second},
		breaker:   breaker,
		limiter:   rate.NewLimiter(perSecond, 1),
	}
}

func (b *AlpacaBroker) Name() string { return "alpaca" }

// ---- wire DTOs ----

type alpacaAccount struct {
	Cash   string `json:"cash"`
	Equity string `json:"equity"`
}

type alpacaPosition struct {
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"`
}

type alpacaOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Status         string `json:"status"`
	SubmittedAt    string `json:"submitted_at"`
}

type alpacaBar struct {
	Time   string  `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

func (o alpacaOrder) toReceipt() OrderReceipt {
	submitted, _ := time.Parse(time.RFC3339Nano, o.SubmittedAt)
	return OrderReceipt{
		OrderID:        o.ID,
		Symbol:         o.Symbol,
		Side:           OrderSide(o.Side),
		Qty:            parseFloat(o.Qty),
		FilledQty:      parseFloat(o.FilledQty),
		FilledAvgPrice: parseFloat(o.FilledAvgPrice),
		Status:         mapOrderStatus(o.Status),
		ClientTag:      o.ClientOrderID,
		SubmittedAt:    submitted,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// mapOrderStatus normalizes venue statuses onto the engine's lifecycle.
func mapOrderStatus(s string) OrderStatus {
	switch s {
	case "new", "accepted", "pending_new":
		return StatusAcknowledged
	case "partially_filled":
		return StatusPartiallyFilled
	case "filled":
		return StatusFilled
	case "canceled", "expired", "done_for_day":
		return StatusCanceled
	case "rejected", "stopped", "suspended":
		return StatusRejected
	default:
		return StatusSubmitted
	}
}

// ---- Broker implementation ----

func (b *AlpacaBroker) GetAccount(ctx context.Context) (Account, error) {
	var dto alpacaAccount
	if err := b.doJSON(ctx, http.MethodGet, b.baseURL+"/v2/account", nil, &dto); err != nil {
		return Account{}, err
	}
	return Account{Cash: parseFloat(dto.Cash), Equity: parseFloat(dto.Equity)}, nil
}

func (b *AlpacaBroker) GetPositions(ctx context.Context) (map[string]float64, error) {
	var dtos []alpacaPosition
	if err := b.doJSON(ctx, http.MethodGet, b.baseURL+"/v2/positions", nil, &dtos); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(dtos))
	for _, p := range dtos {
		if qty := parseFloat(p.Qty); qty != 0 {
			out[p.Symbol] = qty
		}
	}
	return out, nil
}

func (b *AlpacaBroker) GetOpenOrders(ctx context.Context) ([]OrderReceipt, error) {
	var dtos []alpacaOrder
	if err := b.doJSON(ctx, http.MethodGet, b.baseURL+"/v2/orders?status=open", nil, &dtos); err != nil {
		return nil, err
	}
	receipts := make([]OrderReceipt, 0, len(dtos))
	for _, o := range dtos {
		receipts = append(receipts, o.toReceipt())
	}
	return receipts, nil
}

func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderReceipt{}, &BrokerError{Op: "submit", Err: err}
	}
	body := map[string]string{
		"symbol":          req.Symbol,
		"qty":             strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"side":            string(req.Side),
		"type":            req.OrderType,
		"time_in_force":   "day",
		"client_order_id": req.ClientTag,
	}
	var dto alpacaOrder
	if err := b.doJSON(ctx, http.MethodPost, b.baseURL+"/v2/orders", body, &dto); err != nil {
		return OrderReceipt{}, err
	}
	return dto.toReceipt(), nil
}

func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (OrderReceipt, error) {
	var dto alpacaOrder
	err := b.doJSON(ctx, http.MethodGet, b.baseURL+"/v2/orders/"+url.PathEscape(orderID), nil, &dto)
	if err != nil {
		return OrderReceipt{}, err
	}
	return dto.toReceipt(), nil
}

func (b *AlpacaBroker) GetOrderByClientTag(ctx context.Context, tag string) (OrderReceipt, error) {
	endpoint := b.baseURL + "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(tag)
	var dto alpacaOrder
	if err := b.doJSON(ctx, http.MethodGet, endpoint, nil, &dto); err != nil {
		return OrderReceipt{}, err
	}
	return dto.toReceipt(), nil
}

// GetRecentBars fetches up to limit recent minute bars for symbol from the
// market-data host. Used by LiveFeed.
func (b *AlpacaBroker) GetRecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=1Min&limit=%d",
		b.dataURL, url.PathEscape(symbol), limit)
	var dto struct {
		Bars []alpacaBar `json:"bars"`
	}
	if err := b.doJSON(ctx, http.MethodGet, endpoint, nil, &dto); err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(dto.Bars))
	for _, raw := range dto.Bars {
		ts, err := time.Parse(time.RFC3339, raw.Time)
		if err != nil {
			return nil, &FeedError{Symbol: symbol, Err: fmt.Errorf("bad bar time %q: %w", raw.Time, err)}
		}
		bars = append(bars, Bar{
			Symbol: symbol,
			Time:   ts,
			Open:   raw.Open,
			High:   raw.High,
			Low:    raw.Low,
			Close:  raw.Close,
			Volume: raw.Volume,
		})
	}
	return bars, nil
}

// doJSON runs one HTTP exchange through the circuit breaker, decoding the
// JSON response into out when out is non-nil.
func (b *AlpacaBroker) doJSON(ctx context.Context, method, endpoint string, body any, out any) error {
	op := method + " " + endpoint
	result, err := b.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("APCA-API-KEY-ID", b.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", b.secretKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, &BrokerError{Op: op, Err: err, Retryable: true}
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, &BrokerError{Op: op, Err: err, Retryable: true}
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, errOrderNotFound
		}
		if resp.StatusCode >= 400 {
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			return nil, &BrokerError{
				Op:        op,
				Err:       fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200)),
				Retryable: retryable,
			}
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &BrokerError{Op: op, Err: err}
		}
		var berr *BrokerError
		if errors.As(err, &berr) || errors.Is(err, errOrderNotFound) {
			return err
		}
		return &BrokerError{Op: op, Err: err}
	}
	if out == nil {
		return nil
	}
	data := result.([]byte)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &BrokerError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
