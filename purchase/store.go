/*
store.go - Persistence interfaces for farmers, transactions and both ledgers

PURPOSE:
  Defines the boundary between the engine and the database. The engine owns
  every rule; a Store only persists and loads.

KEY INTERFACES:
  FarmerStore:      Farmer registry (soft delete via IsActive)
  TransactionStore: Transaction rows (the only mutable aggregate)
  HarvestStore:     Harvest ledger, APPEND-ONLY
  PaymentStore:     Payment ledger; amount immutable, status CAS-updated once
  TxStore:          Atomic multi-entity writes

APPEND-ONLY CONTRACT:
  HarvestStore has no Update or Delete. PaymentStore's only mutation is
  UpdatePaymentStatus, which is a compare-and-set from a given state: a
  payment that is no longer in `from` is left untouched and
  ErrInvalidTransition is returned.

NOT FOUND:
  Get* methods return ErrNotFound (bare sentinel) for unknown ids. The
  engine decorates it with context.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:    SQLite (production)
  - purchase/store/memory.go:  In-memory (tests, dev)

SEE ALSO:
  - engine.go: The only writer
*/
package purchase

import (
	"context"
	"time"
)

type FarmerStore interface {
	// SaveFarmer inserts or replaces a farmer.
	SaveFarmer(ctx context.Context, f Farmer) error
	GetFarmer(ctx context.Context, id FarmerID) (*Farmer, error)
	// ListFarmers returns farmers registered by a warehouse, oldest first.
	ListFarmers(ctx context.Context, warehouseID WarehouseID) ([]Farmer, error)
}

type TransactionStore interface {
	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateTransaction(ctx context.Context, t Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// ListTransactions returns a warehouse's transactions, newest first.
	ListTransactions(ctx context.Context, warehouseID WarehouseID) ([]Transaction, error)

	// ListTransactionsByStatus returns transactions of any warehouse in the
	// given statuses, oldest first.
	ListTransactionsByStatus(ctx context.Context, statuses ...TransactionStatus) ([]Transaction, error)

	// CountTransactionCodes counts transactions whose code starts with prefix.
	CountTransactionCodes(ctx context.Context, prefix string) (int, error)
}

type HarvestStore interface {
	// AppendHarvestRecords persists records atomically. Append-only.
	AppendHarvestRecords(ctx context.Context, records []HarvestRecord) error

	// HarvestRecords returns a transaction's records, oldest first.
	HarvestRecords(ctx context.Context, transactionID TransactionID) ([]HarvestRecord, error)
}

type PaymentStore interface {
	AppendPayment(ctx context.Context, p Payment) error

	// UpdatePaymentStatus moves a payment from `from` to `to`, stamping at.
	// Returns ErrInvalidTransition if the payment is not in `from`.
	UpdatePaymentStatus(ctx context.Context, id PaymentID, from, to PaymentState, at time.Time) error

	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// Payments returns a transaction's payments, oldest first.
	Payments(ctx context.Context, transactionID TransactionID) ([]Payment, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	FarmerStore
	TransactionStore
	HarvestStore
	PaymentStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn is
	// rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
