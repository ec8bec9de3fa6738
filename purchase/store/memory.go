// Package store provides in-memory purchase.Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louvredev/BetelChain/purchase"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

// state is everything the store holds. Slices are append-only, maps hold
// values (never pointers) so copies handed out cannot alias stored rows.
type state struct {
	farmers      map[purchase.FarmerID]purchase.Farmer
	transactions map[purchase.TransactionID]purchase.Transaction
	harvest      map[purchase.TransactionID][]purchase.HarvestRecord
	payments     map[purchase.PaymentID]purchase.Payment
	paymentOrder map[purchase.TransactionID][]purchase.PaymentID
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() state {
	return state{
		farmers:      make(map[purchase.FarmerID]purchase.Farmer),
		transactions: make(map[purchase.TransactionID]purchase.Transaction),
		harvest:      make(map[purchase.TransactionID][]purchase.HarvestRecord),
		payments:     make(map[purchase.PaymentID]purchase.Payment),
		paymentOrder: make(map[purchase.TransactionID][]purchase.PaymentID),
	}
}

// FARMERS

func (m *Memory) SaveFarmer(ctx context.Context, f purchase.Farmer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveFarmer(ctx, f)
}

func (m *Memory) GetFarmer(ctx context.Context, id purchase.FarmerID) (*purchase.Farmer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFarmer(ctx, id)
}

func (m *Memory) ListFarmers(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Farmer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFarmers(ctx, warehouseID)
}

// TRANSACTIONS

func (m *Memory) InsertTransaction(ctx context.Context, t purchase.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransaction(ctx, t)
}

func (m *Memory) UpdateTransaction(ctx context.Context, t purchase.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransaction(ctx, t)
}

func (m *Memory) GetTransaction(ctx context.Context, id purchase.TransactionID) (*purchase.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactions(ctx, warehouseID)
}

func (m *Memory) ListTransactionsByStatus(ctx context.Context, statuses ...purchase.TransactionStatus) ([]purchase.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsByStatus(ctx, statuses...)
}

func (m *Memory) CountTransactionCodes(ctx context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countTransactionCodes(ctx, prefix)
}

// HARVEST LEDGER

func (m *Memory) AppendHarvestRecords(ctx context.Context, records []purchase.HarvestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendHarvestRecords(ctx, records)
}

func (m *Memory) HarvestRecords(ctx context.Context, id purchase.TransactionID) ([]purchase.HarvestRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.harvestRecords(ctx, id)
}

// PAYMENT LEDGER

func (m *Memory) AppendPayment(ctx context.Context, p purchase.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPayment(ctx, p)
}

func (m *Memory) UpdatePaymentStatus(ctx context.Context, id purchase.PaymentID, from, to purchase.PaymentState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePaymentStatus(ctx, id, from, to, at)
}

func (m *Memory) GetPayment(ctx context.Context, id purchase.PaymentID) (*purchase.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayment(ctx, id)
}

func (m *Memory) Payments(ctx context.Context, id purchase.TransactionID) ([]purchase.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayments(ctx, id)
}

// =============================================================================
// UNLOCKED STATE OPERATIONS - callers hold the lock
// =============================================================================

func (s *state) saveFarmer(_ context.Context, f purchase.Farmer) error {
	s.farmers[f.ID] = f
	return nil
}

func (s *state) getFarmer(_ context.Context, id purchase.FarmerID) (*purchase.Farmer, error) {
	f, ok := s.farmers[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return &f, nil
}

func (s *state) listFarmers(_ context.Context, warehouseID purchase.WarehouseID) ([]purchase.Farmer, error) {
	var out []purchase.Farmer
	for _, f := range s.farmers {
		if f.WarehouseID == warehouseID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *state) insertTransaction(_ context.Context, t purchase.Transaction) error {
	if _, ok := s.transactions[t.ID]; ok {
		return purchase.ErrInvalidState
	}
	for _, existing := range s.transactions {
		if existing.Code == t.Code {
			return purchase.ErrInvalidState
		}
	}
	s.transactions[t.ID] = t
	return nil
}

func (s *state) updateTransaction(_ context.Context, t purchase.Transaction) error {
	if _, ok := s.transactions[t.ID]; !ok {
		return purchase.ErrNotFound
	}
	s.transactions[t.ID] = t
	return nil
}

func (s *state) getTransaction(_ context.Context, id purchase.TransactionID) (*purchase.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return &t, nil
}

func (s *state) listTransactions(_ context.Context, warehouseID purchase.WarehouseID) ([]purchase.Transaction, error) {
	var out []purchase.Transaction
	for _, t := range s.transactions {
		if t.WarehouseID == warehouseID {
			out = append(out, t)
		}
	}
	sortTransactions(out)
	slices.Reverse(out)
	return out, nil
}

func (s *state) listTransactionsByStatus(_ context.Context, statuses ...purchase.TransactionStatus) ([]purchase.Transaction, error) {
	var out []purchase.Transaction
	for _, t := range s.transactions {
		if slices.Contains(statuses, t.Status) {
			out = append(out, t)
		}
	}
	sortTransactions(out)
	return out, nil
}

// sortTransactions orders oldest first; codes break creation-time ties.
func sortTransactions(txns []purchase.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].Code < txns[j].Code
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}

func (s *state) countTransactionCodes(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, t := range s.transactions {
		if strings.HasPrefix(t.Code, prefix) {
			n++
		}
	}
	return n, nil
}

func (s *state) appendHarvestRecords(_ context.Context, records []purchase.HarvestRecord) error {
	// check everything before writing anything
	for _, r := range records {
		if _, ok := s.transactions[r.TransactionID]; !ok {
			return purchase.ErrNotFound
		}
	}
	for _, r := range records {
		s.harvest[r.TransactionID] = append(s.harvest[r.TransactionID], r)
	}
	return nil
}

func (s *state) harvestRecords(_ context.Context, id purchase.TransactionID) ([]purchase.HarvestRecord, error) {
	return slices.Clone(s.harvest[id]), nil
}

func (s *state) appendPayment(_ context.Context, p purchase.Payment) error {
	if _, ok := s.transactions[p.TransactionID]; !ok {
		return purchase.ErrNotFound
	}
	if _, ok := s.payments[p.ID]; ok {
		return purchase.ErrInvalidState
	}
	s.payments[p.ID] = p
	s.paymentOrder[p.TransactionID] = append(s.paymentOrder[p.TransactionID], p.ID)
	return nil
}

func (s *state) updatePaymentStatus(_ context.Context, id purchase.PaymentID, from, to purchase.PaymentState, at time.Time) error {
	p, ok := s.payments[id]
	if !ok {
		return purchase.ErrNotFound
	}
	if p.Status != from {
		return purchase.ErrInvalidTransition
	}
	p.Status = to
	p.DecidedAt = &at
	s.payments[id] = p
	return nil
}

func (s *state) getPayment(_ context.Context, id purchase.PaymentID) (*purchase.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return &p, nil
}

func (s *state) listPayments(_ context.Context, id purchase.TransactionID) ([]purchase.Payment, error) {
	ids := s.paymentOrder[id]
	out := make([]purchase.Payment, 0, len(ids))
	for _, pid := range ids {
		out = append(out, s.payments[pid])
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(purchase.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{state: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() state {
	s := state{
		farmers:      maps.Clone(tm.farmers),
		transactions: maps.Clone(tm.transactions),
		payments:     maps.Clone(tm.payments),
		harvest:      make(map[purchase.TransactionID][]purchase.HarvestRecord, len(tm.harvest)),
		paymentOrder: make(map[purchase.TransactionID][]purchase.PaymentID, len(tm.paymentOrder)),
	}
	for k, v := range tm.harvest {
		s.harvest[k] = slices.Clone(v)
	}
	for k, v := range tm.paymentOrder {
		s.paymentOrder[k] = slices.Clone(v)
	}
	return s
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txMemoryView struct {
	state *state
}

func (v *txMemoryView) SaveFarmer(ctx context.Context, f purchase.Farmer) error {
	return v.state.saveFarmer(ctx, f)
}

func (v *txMemoryView) GetFarmer(ctx context.Context, id purchase.FarmerID) (*purchase.Farmer, error) {
	return v.state.getFarmer(ctx, id)
}

func (v *txMemoryView) ListFarmers(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Farmer, error) {
	return v.state.listFarmers(ctx, warehouseID)
}

func (v *txMemoryView) InsertTransaction(ctx context.Context, t purchase.Transaction) error {
	return v.state.insertTransaction(ctx, t)
}

func (v *txMemoryView) UpdateTransaction(ctx context.Context, t purchase.Transaction) error {
	return v.state.updateTransaction(ctx, t)
}

func (v *txMemoryView) GetTransaction(ctx context.Context, id purchase.TransactionID) (*purchase.Transaction, error) {
	return v.state.getTransaction(ctx, id)
}

func (v *txMemoryView) ListTransactions(ctx context.Context, warehouseID purchase.WarehouseID) ([]purchase.Transaction, error) {
	return v.state.listTransactions(ctx, warehouseID)
}

func (v *txMemoryView) ListTransactionsByStatus(ctx context.Context, statuses ...purchase.TransactionStatus) ([]purchase.Transaction, error) {
	return v.state.listTransactionsByStatus(ctx, statuses...)
}

func (v *txMemoryView) CountTransactionCodes(ctx context.Context, prefix string) (int, error) {
	return v.state.countTransactionCodes(ctx, prefix)
}

func (v *txMemoryView) AppendHarvestRecords(ctx context.Context, records []purchase.HarvestRecord) error {
	return v.state.appendHarvestRecords(ctx, records)
}

func (v *txMemoryView) HarvestRecords(ctx context.Context, id purchase.TransactionID) ([]purchase.HarvestRecord, error) {
	return v.state.harvestRecords(ctx, id)
}

func (v *txMemoryView) AppendPayment(ctx context.Context, p purchase.Payment) error {
	return v.state.appendPayment(ctx, p)
}

func (v *txMemoryView) UpdatePaymentStatus(ctx context.Context, id purchase.PaymentID, from, to purchase.PaymentState, at time.Time) error {
	return v.state.updatePaymentStatus(ctx, id, from, to, at)
}

func (v *txMemoryView) GetPayment(ctx context.Context, id purchase.PaymentID) (*purchase.Payment, error) {
	return v.state.getPayment(ctx, id)
}

func (v *txMemoryView) Payments(ctx context.Context, id purchase.TransactionID) ([]purchase.Payment, error) {
	return v.state.listPayments(ctx, id)
}
