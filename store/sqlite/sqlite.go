/*
Package sqlite provides a SQLite-backed implementation of purchase.TxStore.

PURPOSE:
  Persists farmers, transactions and both ledgers. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - harvest_records: INSERT only. No UPDATE, no DELETE.
  - payments:        INSERT, plus one compare-and-set UPDATE of status
                     (WHERE status = 'pending'). Amount is never updated.
  - transactions:    The only mutable table; the engine owns every column.

KEY TABLES:
  farmers:          Registry, soft-deleted through is_active
  transactions:     One row per purchase; code is UNIQUE
  harvest_records:  Graded observations
  payments:         Installments

MONEY AND WEIGHT:
  Stored as TEXT decimal strings so nothing is lost to floating point.

TIMESTAMPS:
  Fixed-width UTC strings (timeFormat) so lexical order is time order.
  Rows with equal timestamps keep insertion order through rowid.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole callback; the Store passed to fn runs every query inside the SQL
  transaction.

USAGE:
  store, err := sqlite.New("./data/betelchain.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := purchase.NewEngine(store, purchase.PerQuintal{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - purchase/store.go:        Interfaces implemented here
  - purchase/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/louvredev/BetelChain/purchase"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements purchase.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.RWMutex
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against one conn.
type queries struct {
	c conn
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: queries{c: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS farmers (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		warehouse_id TEXT NOT NULL,
		full_name TEXT NOT NULL,
		phone TEXT,
		bank_name TEXT,
		account_number TEXT,
		account_holder_name TEXT,
		address TEXT,
		village TEXT,
		district TEXT,
		city TEXT,
		province TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_farmers_warehouse
		ON farmers(warehouse_id, created_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		warehouse_id TEXT NOT NULL,
		farmer_id TEXT NOT NULL REFERENCES farmers(id),
		initial_price TEXT NOT NULL,
		total_weight_kg TEXT,
		total_price TEXT,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		recording_started_at TEXT,
		recording_completed_at TEXT,
		payment_completed_at TEXT,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_warehouse
		ON transactions(warehouse_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status);

	-- Harvest ledger (append-only)
	CREATE TABLE IF NOT EXISTS harvest_records (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		grade TEXT NOT NULL CHECK (grade IN ('A', 'B', 'C')),
		sack_color TEXT NOT NULL,
		weight_kg TEXT,
		detection_confidence REAL,
		detected_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_harvest_records_transaction
		ON harvest_records(transaction_id, created_at);

	-- Payment ledger (append-only, status CAS-updated once)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		payment_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_transaction
		ON payments(transaction_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_payments_status
		ON payments(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS (purchase.Store interface)
// =============================================================================

func (s *Store) SaveFarmer(ctx context.Context, f purchase.Farmer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveFarmer(ctx, f)
}

func (s *Store) GetFarmer(ctx context.Context, id purchase.FarmerID) (*purchase.Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetFarmer(ctx, id)
}

func (s *Store) ListFarmers(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListFarmers(ctx, warehouseID)
}

func (s *Store) InsertTransaction(ctx context.Context, t purchase.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertTransaction(ctx, t)
}

func (s *Store) UpdateTransaction(ctx context.Context, t purchase.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateTransaction(ctx, t)
}

func (s *Store) GetTransaction(ctx context.Context, id purchase.TransactionID) (*purchase.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListTransactions(ctx, warehouseID)
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, statuses ...purchase.TransactionStatus) ([]purchase.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListTransactionsByStatus(ctx, statuses...)
}

func (s *Store) CountTransactionCodes(ctx context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.CountTransactionCodes(ctx, prefix)
}

// AppendHarvestRecords inserts records atomically.
func (s *Store) AppendHarvestRecords(ctx context.Context, records []purchase.HarvestRecord) error {
	return s.WithTx(ctx, func(tx purchase.Store) error {
		return tx.AppendHarvestRecords(ctx, records)
	})
}

func (s *Store) HarvestRecords(ctx context.Context, id purchase.TransactionID) ([]purchase.HarvestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.HarvestRecords(ctx, id)
}

func (s *Store) AppendPayment(ctx context.Context, p purchase.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendPayment(ctx, p)
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id purchase.PaymentID, from, to purchase.PaymentState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdatePaymentStatus(ctx, id, from, to, at)
}

func (s *Store) GetPayment(ctx context.Context, id purchase.PaymentID) (*purchase.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetPayment(ctx, id)
}

func (s *Store) Payments(ctx context.Context, id purchase.TransactionID) ([]purchase.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.Payments(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (purchase.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store purchase.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{c: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// FARMERS
// =============================================================================

const farmerColumns = `id, code, warehouse_id, full_name, phone, bank_name, account_number,
	account_holder_name, address, village, district, city, province, is_active, created_at, updated_at`

func (q *queries) SaveFarmer(ctx context.Context, f purchase.Farmer) error {
	query := `
		INSERT INTO farmers (` + farmerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			phone = excluded.phone,
			bank_name = excluded.bank_name,
			account_number = excluded.account_number,
			account_holder_name = excluded.account_holder_name,
			address = excluded.address,
			village = excluded.village,
			district = excluded.district,
			city = excluded.city,
			province = excluded.province,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := q.c.ExecContext(ctx, query,
		f.ID, f.Code, f.WarehouseID, f.FullName,
		nullString(f.Phone), nullString(f.BankName), nullString(f.AccountNumber),
		nullString(f.AccountHolderName), nullString(f.Address), nullString(f.Village),
		nullString(f.District), nullString(f.City), nullString(f.Province),
		f.IsActive, formatTime(f.CreatedAt), formatTimePtr(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save farmer: %w", err)
	}
	return nil
}

func (q *queries) GetFarmer(ctx context.Context, id purchase.FarmerID) (*purchase.Farmer, error) {
	rows, err := q.c.QueryContext(ctx, `SELECT `+farmerColumns+` FROM farmers WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query farmer: %w", err)
	}
	farmers, err := scanAll(rows, scanFarmer)
	if err != nil {
		return nil, err
	}
	if len(farmers) == 0 {
		return nil, purchase.ErrNotFound
	}
	return &farmers[0], nil
}

func (q *queries) ListFarmers(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Farmer, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+farmerColumns+` FROM farmers WHERE warehouse_id = ? ORDER BY created_at ASC, rowid ASC`,
		warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query farmers: %w", err)
	}
	return scanAll(rows, scanFarmer)
}

func scanFarmer(rows *sql.Rows) (purchase.Farmer, error) {
	var (
		f                                             purchase.Farmer
		phone, bank, account, holder, address         sql.NullString
		village, district, city, province, updatedAt sql.NullString
		createdAt                                     string
	)
	err := rows.Scan(
		&f.ID, &f.Code, &f.WarehouseID, &f.FullName,
		&phone, &bank, &account, &holder, &address, &village, &district, &city, &province,
		&f.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return f, fmt.Errorf("failed to scan farmer: %w", err)
	}
	f.Phone = phone.String
	f.BankName = bank.String
	f.AccountNumber = account.String
	f.AccountHolderName = holder.String
	f.Address = address.String
	f.Village = village.String
	f.District = district.String
	f.City = city.String
	f.Province = province.String
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTimePtr(updatedAt)
	return f, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, code, warehouse_id, farmer_id, initial_price, total_weight_kg, total_price,
	status, payment_status, created_at, recording_started_at, recording_completed_at,
	payment_completed_at, updated_at`

func (q *queries) InsertTransaction(ctx context.Context, t purchase.Transaction) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Code, t.WarehouseID, t.FarmerID, t.InitialPrice.String(),
		nullDecimal(t.TotalWeightKg), nullDecimal(t.TotalPrice),
		t.Status, t.PaymentStatus, formatTime(t.CreatedAt),
		formatTimePtr(t.RecordingStartedAt), formatTimePtr(t.RecordingCompletedAt),
		formatTimePtr(t.PaymentCompletedAt), formatTimePtr(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s already exists: %w", t.Code, purchase.ErrInvalidState)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction writes the mutable columns. Identity, owner and
// initial_price are never updated.
func (q *queries) UpdateTransaction(ctx context.Context, t purchase.Transaction) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE transactions SET
			total_weight_kg = ?, total_price = ?, status = ?, payment_status = ?,
			recording_started_at = ?, recording_completed_at = ?, payment_completed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		nullDecimal(t.TotalWeightKg), nullDecimal(t.TotalPrice), t.Status, t.PaymentStatus,
		formatTimePtr(t.RecordingStartedAt), formatTimePtr(t.RecordingCompletedAt),
		formatTimePtr(t.PaymentCompletedAt), formatTimePtr(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return purchase.ErrNotFound
	}
	return nil
}

func (q *queries) GetTransaction(ctx context.Context, id purchase.TransactionID) (*purchase.Transaction, error) {
	txns, err := q.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, purchase.ErrNotFound
	}
	return &txns[0], nil
}

func (q *queries) ListTransactions(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE warehouse_id = ?
		ORDER BY created_at DESC, code DESC`,
		warehouseID)
}

func (q *queries) ListTransactionsByStatus(ctx context.Context, statuses ...purchase.TransactionStatus) ([]purchase.Transaction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	return q.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status IN (`+placeholders+`)
		ORDER BY created_at ASC, code ASC`,
		args...)
}

func (q *queries) CountTransactionCodes(ctx context.Context, prefix string) (int, error) {
	var count int
	err := q.c.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE substr(code, 1, ?) = ?`,
		len(prefix), prefix,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transaction codes: %w", err)
	}
	return count, nil
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]purchase.Transaction, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanAll(rows, scanTransaction)
}

func scanTransaction(rows *sql.Rows) (purchase.Transaction, error) {
	var (
		t                                      purchase.Transaction
		initialPrice, createdAt                string
		totalWeight, totalPrice                sql.NullString
		startedAt, completedAt, paidAt, updAt sql.NullString
	)
	err := rows.Scan(
		&t.ID, &t.Code, &t.WarehouseID, &t.FarmerID, &initialPrice, &totalWeight, &totalPrice,
		&t.Status, &t.PaymentStatus, &createdAt, &startedAt, &completedAt, &paidAt, &updAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.InitialPrice, err = decimal.NewFromString(initialPrice); err != nil {
		return t, fmt.Errorf("transaction %s: bad initial_price %q: %w", t.ID, initialPrice, err)
	}
	if t.TotalWeightKg, err = parseDecimalPtr(totalWeight); err != nil {
		return t, fmt.Errorf("transaction %s: bad total_weight_kg: %w", t.ID, err)
	}
	if t.TotalPrice, err = parseDecimalPtr(totalPrice); err != nil {
		return t, fmt.Errorf("transaction %s: bad total_price: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.RecordingStartedAt = parseTimePtr(startedAt)
	t.RecordingCompletedAt = parseTimePtr(completedAt)
	t.PaymentCompletedAt = parseTimePtr(paidAt)
	t.UpdatedAt = parseTimePtr(updAt)
	return t, nil
}

// =============================================================================
// HARVEST LEDGER
// =============================================================================

func (q *queries) AppendHarvestRecords(ctx context.Context, records []purchase.HarvestRecord) error {
	for _, r := range records {
		var conf sql.NullFloat64
		if r.DetectionConfidence != nil {
			conf = sql.NullFloat64{Float64: *r.DetectionConfidence, Valid: true}
		}
		_, err := q.c.ExecContext(ctx, `
			INSERT INTO harvest_records
			(id, transaction_id, grade, sack_color, weight_kg, detection_confidence, detected_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TransactionID, r.Grade, r.SackColor, nullDecimal(r.WeightKg), conf,
			r.DetectedBy, formatTime(r.CreatedAt),
		)
		if err != nil {
			if isForeignKeyError(err) {
				return purchase.ErrNotFound
			}
			return fmt.Errorf("failed to append harvest record: %w", err)
		}
	}
	return nil
}

func (q *queries) HarvestRecords(ctx context.Context, id purchase.TransactionID) ([]purchase.HarvestRecord, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, transaction_id, grade, sack_color, weight_kg, detection_confidence, detected_by, created_at
		FROM harvest_records
		WHERE transaction_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		id)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest records: %w", err)
	}
	return scanAll(rows, scanHarvestRecord)
}

func scanHarvestRecord(rows *sql.Rows) (purchase.HarvestRecord, error) {
	var (
		r         purchase.HarvestRecord
		weight    sql.NullString
		conf      sql.NullFloat64
		createdAt string
	)
	err := rows.Scan(&r.ID, &r.TransactionID, &r.Grade, &r.SackColor, &weight, &conf, &r.DetectedBy, &createdAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan harvest record: %w", err)
	}
	if r.WeightKg, err = parseDecimalPtr(weight); err != nil {
		return r, fmt.Errorf("harvest record %s: bad weight_kg: %w", r.ID, err)
	}
	if conf.Valid {
		c := conf.Float64
		r.DetectionConfidence = &c
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

const paymentColumns = `id, transaction_id, payment_type, amount, payment_method, note, status, created_at, decided_at`

func (q *queries) AppendPayment(ctx context.Context, p purchase.Payment) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TransactionID, p.Type, p.Amount.String(), p.Method, nullString(p.Note),
		p.Status, formatTime(p.CreatedAt), formatTimePtr(p.DecidedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return purchase.ErrNotFound
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

// UpdatePaymentStatus is a compare-and-set on status.
func (q *queries) UpdatePaymentStatus(ctx context.Context, id purchase.PaymentID, from, to purchase.PaymentState, at time.Time) error {
	res, err := q.c.ExecContext(ctx,
		`UPDATE payments SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(at), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := q.GetPayment(ctx, id); err != nil {
		return err
	}
	return purchase.ErrInvalidTransition
}

func (q *queries) GetPayment(ctx context.Context, id purchase.PaymentID) (*purchase.Payment, error) {
	payments, err := q.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, purchase.ErrNotFound
	}
	return &payments[0], nil
}

func (q *queries) Payments(ctx context.Context, id purchase.TransactionID) ([]purchase.Payment, error) {
	return q.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE transaction_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		id)
}

func (q *queries) queryPayments(ctx context.Context, query string, args ...any) ([]purchase.Payment, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanAll(rows, scanPayment)
}

func scanPayment(rows *sql.Rows) (purchase.Payment, error) {
	var (
		p                 purchase.Payment
		amount, createdAt string
		note, decidedAt   sql.NullString
	)
	err := rows.Scan(&p.ID, &p.TransactionID, &p.Type, &amount, &p.Method, &note, &p.Status, &createdAt, &decidedAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
	}
	p.Note = note.String
	p.CreatedAt = parseTime(createdAt)
	p.DecidedAt = parseTimePtr(decidedAt)
	return p, nil
}

// Helper functions

func scanAll[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ purchase.TxStore = (*Store)(nil)
