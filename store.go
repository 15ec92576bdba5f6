// FILE: store.go
// Package main – Persisted run state: the order-intent ledger and portfolio
// snapshots.
//
// The ledger is the engine's sole concurrency/restart guard: order_intents.key
// is a PRIMARY KEY, so two attempts to begin the same intent race at the SQL
// layer and exactly one wins. No in-process locking backs this up.
//
// Intent lifecycle on the state column:
//
//   submitting -> submitted -> filled | canceled | rejected
//              -> failed                          (submit call errored)
//              -> stale_reconciled                (restart found no broker order)
//
// Live runs persist to sqlite via sqlx; backtests use the in-memory store,
// which enforces the same key/fingerprint semantics without touching disk.

package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Intent states beyond the terminal broker statuses.
const (
	intentSubmitting      = "submitting"
	intentSubmitted       = "submitted"
	intentFailed          = "failed"
	intentStaleReconciled = "stale_reconciled"
)

// intentActive reports whether an intent may still produce broker activity.
func intentActive(state string) bool {
	switch state {
	case intentSubmitting, intentSubmitted, string(StatusAcknowledged), string(StatusPartiallyFilled):
		return true
	}
	return false
}

// IntentRecord is one row of the order-intent ledger.
type IntentRecord struct {
	Key           string  `db:"key"`
	RunID         string  `db:"run_id"`
	Cycle         int     `db:"cycle"`
	Symbol        string  `db:"symbol"`
	Side          string  `db:"side"`
	Qty           float64 `db:"qty"`
	Fingerprint   string  `db:"fingerprint"`
	ClientTag     string  `db:"client_tag"`
	State         string  `db:"state"`
	BrokerOrderID string  `db:"broker_order_id"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
}

// intentFingerprint is the duplicate-order identity within a run.
func intentFingerprint(symbol string, side OrderSide, qty float64) string {
	return fmt.Sprintf("%s|%s|%.10f", symbol, side, qty)
}

// StateStore is the persistence contract the pipeline depends on.
type StateStore interface {
	// RecordRun registers a run before its first cycle.
	RecordRun(runID, mode, strategyID string) error
	// BeginIntent inserts rec in state submitting. If the key already
	// exists the insert is a no-op and the existing row is returned.
	BeginIntent(rec IntentRecord) (*IntentRecord, error)
	// UpdateIntent moves an intent to state, recording the broker order id
	// when one is known.
	UpdateIntent(key, state, brokerOrderID string) error
	// OpenIntents returns the run's intents that may still be live at the
	// broker (submitting, submitted, acknowledged, partially_filled).
	OpenIntents(runID string) ([]IntentRecord, error)
	// LastCycle returns the highest cycle index any of the run's intents
	// carries (0 when the run has none). A resumed process continues
	// numbering from here so intent keys never collide across restarts.
	LastCycle(runID string) (int, error)
	// HasActiveIntent reports whether an active intent with the same
	// fingerprint already exists in the run.
	HasActiveIntent(runID, fingerprint string) (bool, error)
	// SaveSnapshot persists the last reconciled portfolio for the run.
	SaveSnapshot(runID string, snap PortfolioSnapshot) error
	// LoadSnapshot returns the run's last persisted portfolio, or nil.
	LoadSnapshot(runID string) (*PortfolioSnapshot, error)
	Close() error
}

// submitOnce is the idempotent submission primitive. It claims key in the
// ledger, invokes submitFn at most once, and records the outcome. When the
// key was already claimed the cached row is returned with duplicate=true and
// submitFn is never called. A failed submitFn leaves a terminal failed
// marker: the same key will never submit again (a later cycle gets a new key).
func submitOnce(store StateStore, rec IntentRecord, submitFn func() (OrderReceipt, error)) (OrderReceipt, bool, error) {
	rec.State = intentSubmitting
	existing, err := store.BeginIntent(rec)
	if err != nil {
		return OrderReceipt{}, false, err
	}
	if existing != nil {
		return OrderReceipt{
			OrderID:   existing.BrokerOrderID,
			Symbol:    existing.Symbol,
			Side:      OrderSide(existing.Side),
			Qty:       existing.Qty,
			Status:    receiptStatus(existing.State),
			ClientTag: existing.ClientTag,
		}, true, nil
	}
	receipt, err := submitFn()
	if err != nil {
		if uerr := store.UpdateIntent(rec.Key, intentFailed, ""); uerr != nil {
			return OrderReceipt{}, false, uerr
		}
		return OrderReceipt{}, false, err
	}
	if err := store.UpdateIntent(rec.Key, intentSubmitted, receipt.OrderID); err != nil {
		return OrderReceipt{}, false, err
	}
	return receipt, false, nil
}

// receiptStatus maps a ledger state onto the order lifecycle for cached
// duplicate receipts. Ledger-only markers never leak into OrderStatus: an
// unrecorded submission reads as pending, a failed or expired one as rejected.
// Terminal broker statuses are stored verbatim and pass through.
func receiptStatus(state string) OrderStatus {
	switch state {
	case intentSubmitting:
		return StatusPending
	case intentSubmitted:
		return StatusSubmitted
	case intentFailed, intentStaleReconciled:
		return StatusRejected
	}
	return OrderStatus(state)
}

// ---- sqlite implementation ----

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	started_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS order_intents (
	key             TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	cycle           INTEGER NOT NULL DEFAULT 0,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             REAL NOT NULL,
	fingerprint     TEXT NOT NULL,
	client_tag      TEXT NOT NULL,
	state           TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_intents_run_state ON order_intents (run_id, state);
CREATE INDEX IF NOT EXISTS idx_order_intents_run_fp ON order_intents (run_id, fingerprint);
CREATE TABLE IF NOT EXISTS snapshots (
	run_id     TEXT PRIMARY KEY,
	cash       REAL NOT NULL,
	equity     REAL NOT NULL,
	positions  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SqliteStore persists run state in a single sqlite file.
type SqliteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func newSqliteStore(path string) (*SqliteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, &StoreCorruptionError{Err: fmt.Errorf("apply schema: %w", err)}
	}
	return &SqliteStore{db: db, now: time.Now}, nil
}

func (s *SqliteStore) RecordRun(runID, mode, strategyID string) error {
	// Resuming a run after a restart re-records it; the first row wins.
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, mode, strategy_id, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		runID, mode, strategyID, s.stamp())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *SqliteStore) BeginIntent(rec IntentRecord) (*IntentRecord, error) {
	rec.CreatedAt = s.stamp()
	rec.UpdatedAt = rec.CreatedAt
	_, err := s.db.NamedExec(`
		INSERT INTO order_intents
			(key, run_id, cycle, symbol, side, qty, fingerprint, client_tag, state, broker_order_id, created_at, updated_at)
		VALUES
			(:key, :run_id, :cycle, :symbol, :side, :qty, :fingerprint, :client_tag, :state, :broker_order_id, :created_at, :updated_at)`,
		rec)
	if err == nil {
		return nil, nil
	}
	if !isUniqueViolation(err) {
		return nil, &StoreCorruptionError{Err: fmt.Errorf("begin intent %s: %w", rec.Key, err)}
	}
	existing, gerr := s.getIntent(rec.Key)
	if gerr != nil {
		return nil, gerr
	}
	return existing, nil
}

func (s *SqliteStore) getIntent(key string) (*IntentRecord, error) {
	var rec IntentRecord
	err := s.db.Get(&rec, `SELECT * FROM order_intents WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreCorruptionError{Err: fmt.Errorf("get intent %s: %w", key, err)}
	}
	return &rec, nil
}

func (s *SqliteStore) UpdateIntent(key, state, brokerOrderID string) error {
	res, err := s.db.Exec(`
		UPDATE order_intents
		SET state = ?, broker_order_id = CASE WHEN ? != '' THEN ? ELSE broker_order_id END, updated_at = ?
		WHERE key = ?`,
		state, brokerOrderID, brokerOrderID, s.stamp(), key)
	if err != nil {
		return &StoreCorruptionError{Err: fmt.Errorf("update intent %s: %w", key, err)}
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return &StoreCorruptionError{Err: fmt.Errorf("update intent %s: row missing", key)}
	}
	return nil
}

func (s *SqliteStore) OpenIntents(runID string) ([]IntentRecord, error) {
	var recs []IntentRecord
	err := s.db.Select(&recs, `
		SELECT * FROM order_intents
		WHERE run_id = ? AND state IN (?, ?, ?, ?)
		ORDER BY key`,
		runID, intentSubmitting, intentSubmitted, string(StatusAcknowledged), string(StatusPartiallyFilled))
	if err != nil {
		return nil, &StoreCorruptionError{Err: fmt.Errorf("open intents: %w", err)}
	}
	return recs, nil
}

func (s *SqliteStore) LastCycle(runID string) (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COALESCE(MAX(cycle), 0) FROM order_intents WHERE run_id = ?`, runID)
	if err != nil {
		return 0, &StoreCorruptionError{Err: fmt.Errorf("last cycle lookup: %w", err)}
	}
	return n, nil
}

func (s *SqliteStore) HasActiveIntent(runID, fingerprint string) (bool, error) {
	var n int
	err := s.db.Get(&n, `
		SELECT COUNT(*) FROM order_intents
		WHERE run_id = ? AND fingerprint = ? AND state IN (?, ?, ?, ?)`,
		runID, fingerprint, intentSubmitting, intentSubmitted, string(StatusAcknowledged), string(StatusPartiallyFilled))
	if err != nil {
		return false, &StoreCorruptionError{Err: fmt.Errorf("active intent lookup: %w", err)}
	}
	return n > 0, nil
}

func (s *SqliteStore) SaveSnapshot(runID string, snap PortfolioSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (run_id, cash, equity, positions, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			cash = excluded.cash, equity = excluded.equity,
			positions = excluded.positions, updated_at = excluded.updated_at`,
		runID, snap.Cash, snap.Equity, string(positions), s.stamp())
	if err != nil {
		return &StoreCorruptionError{Err: fmt.Errorf("save snapshot: %w", err)}
	}
	return nil
}

func (s *SqliteStore) LoadSnapshot(runID string) (*PortfolioSnapshot, error) {
	var row struct {
		Cash      float64 `db:"cash"`
		Equity    float64 `db:"equity"`
		Positions string  `db:"positions"`
	}
	err := s.db.Get(&row, `SELECT cash, equity, positions FROM snapshots WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreCorruptionError{Err: fmt.Errorf("load snapshot: %w", err)}
	}
	snap := PortfolioSnapshot{Cash: row.Cash, Equity: row.Equity, Positions: map[string]float64{}}
	if err := json.Unmarshal([]byte(row.Positions), &snap.Positions); err != nil {
		return nil, &StoreCorruptionError{Err: fmt.Errorf("decode snapshot positions: %w", err)}
	}
	return &snap, nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// ---- in-memory implementation (backtests) ----

// MemoryStore enforces the same key and fingerprint semantics as SqliteStore
// without persistence. Used by backtests, where restart safety is moot but
// duplicate suppression must behave exactly like live.
type MemoryStore struct {
	mu      sync.Mutex
	intents map[string]IntentRecord
	snaps   map[string]PortfolioSnapshot
}

func newMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]IntentRecord),
		snaps:   make(map[string]PortfolioSnapshot),
	}
}

func (m *MemoryStore) RecordRun(runID, mode, strategyID string) error { return nil }

func (m *MemoryStore) BeginIntent(rec IntentRecord) (*IntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.intents[rec.Key]; ok {
		out := existing
		return &out, nil
	}
	m.intents[rec.Key] = rec
	return nil, nil
}

func (m *MemoryStore) UpdateIntent(key, state, brokerOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.intents[key]
	if !ok {
		return &StoreCorruptionError{Err: fmt.Errorf("update intent %s: row missing", key)}
	}
	rec.State = state
	if brokerOrderID != "" {
		rec.BrokerOrderID = brokerOrderID
	}
	m.intents[key] = rec
	return nil
}

func (m *MemoryStore) OpenIntents(runID string) ([]IntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []IntentRecord
	for _, rec := range m.intents {
		if rec.RunID == runID && intentActive(rec.State) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (m *MemoryStore) LastCycle(runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := 0
	for _, rec := range m.intents {
		if rec.RunID == runID && rec.Cycle > last {
			last = rec.Cycle
		}
	}
	return last, nil
}

func (m *MemoryStore) HasActiveIntent(runID, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.intents {
		if rec.RunID == runID && rec.Fingerprint == fingerprint && intentActive(rec.State) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveSnapshot(runID string, snap PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[runID] = snap.Clone()
	return nil
}

func (m *MemoryStore) LoadSnapshot(runID string) (*PortfolioSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[runID]
	if !ok {
		return nil, nil
	}
	out := snap.Clone()
	return &out, nil
}

func (m *MemoryStore) Close() error { return nil }
