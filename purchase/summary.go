/*
summary.go - Read side: consolidated transaction and warehouse views

PURPOSE:
  The SummaryService never writes. Every view is recomputed from the current
  ledgers on each call; nothing is cached between calls, so a summary can
  never disagree with the ledger it was built from.

CONSISTENCY:
  Per-transaction views take the transaction's shared lock. They never see
  a half-applied command and run concurrently with each other.

VIEWS:
  HarvestSummary      Aggregated harvest ledger
  PaymentSummary      Payment ledger reconciled against total_price
  TransactionSummary  Transaction + farmer + both summaries
  WarehouseSummary    Dashboard totals across a warehouse

SEE ALSO:
  - harvest.go: SummarizeHarvest
  - payment.go: SummarizePayments
*/
package purchase

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

type SummaryService struct {
	store Store
	locks *lockTable
}

// NewSummaryService creates a standalone read side. Engine.Summaries shares
// the engine's locks and should be preferred.
func NewSummaryService(store Store) *SummaryService {
	return &SummaryService{store: store, locks: newLockTable()}
}

// HarvestView is a transaction's harvest records with their summary.
type HarvestView struct {
	Records []HarvestRecord
	Summary HarvestSummary
}

// Harvest returns the harvest ledger of a transaction, oldest first, and its
// summary.
func (s *SummaryService) Harvest(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*HarvestView, error) {
	const op = "harvest summary"
	unlock := s.locks.RLock(id)
	defer unlock()

	t, err := loadTransaction(ctx, s.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	records, err := s.store.HarvestRecords(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &HarvestView{Records: records, Summary: SummarizeHarvest(t.ID, records)}, nil
}

// HarvestSummary returns only the aggregated harvest ledger.
func (s *SummaryService) HarvestSummary(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*HarvestSummary, error) {
	v, err := s.Harvest(ctx, warehouseID, id)
	if err != nil {
		return nil, err
	}
	return &v.Summary, nil
}

// PaymentSummary reconciles a transaction's payments against its price.
// Payments are listed newest first.
func (s *SummaryService) PaymentSummary(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*PaymentSummary, error) {
	const op = "payment summary"
	unlock := s.locks.RLock(id)
	defer unlock()

	t, err := loadTransaction(ctx, s.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	ps, err := s.paymentSummary(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ps, nil
}

// ListPayments returns a transaction's payments, newest first.
func (s *SummaryService) ListPayments(ctx context.Context, warehouseID WarehouseID, id TransactionID) ([]Payment, error) {
	ps, err := s.PaymentSummary(ctx, warehouseID, id)
	if err != nil {
		return nil, err
	}
	return ps.Payments, nil
}

func (s *SummaryService) paymentSummary(ctx context.Context, t *Transaction) (*PaymentSummary, error) {
	payments, err := s.store.Payments(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(payments)
	ps := SummarizePayments(t.ID, t.TotalPrice, payments)
	return &ps, nil
}

// =============================================================================
// TRANSACTION SUMMARY
// =============================================================================

// TransactionSummary is the consolidated view callers render.
type TransactionSummary struct {
	Transaction Transaction
	FarmerCode  string
	FarmerName  string
	Harvest     HarvestSummary
	Payments    PaymentSummary
}

// TransactionSummary composes the transaction, its farmer and both ledger
// summaries from one consistent read.
func (s *SummaryService) TransactionSummary(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*TransactionSummary, error) {
	const op = "transaction summary"
	unlock := s.locks.RLock(id)
	defer unlock()

	t, err := loadTransaction(ctx, s.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}

	out := &TransactionSummary{Transaction: *t}
	// farmers are soft-deleted only, but old rows may predate the registry
	if f, err := s.store.GetFarmer(ctx, t.FarmerID); err == nil {
		out.FarmerCode = f.Code
		out.FarmerName = f.FullName
	}

	records, err := s.store.HarvestRecords(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out.Harvest = SummarizeHarvest(t.ID, records)

	ps, err := s.paymentSummary(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out.Payments = *ps
	return out, nil
}

// =============================================================================
// WAREHOUSE SUMMARY
// =============================================================================

// WarehouseSummary is the dashboard view of one warehouse.
type WarehouseSummary struct {
	WarehouseID        WarehouseID
	FarmersCount       int // active farmers
	TransactionsCount  int
	CompletedCount     int
	GradesBreakdown    GradeBreakdown
	DominantGrade      *Grade
	DominantGradeRatio float64 // share of sacks in the dominant grade, 0..1
	TotalSacks         int
	TotalWeightKg      decimal.Decimal
	TotalSpent         decimal.Decimal // approved payments
	Outstanding        decimal.Decimal // Σ remaining_needed of priced transactions
}

// WarehouseSummary aggregates every transaction of a warehouse. Each
// transaction is read under its own shared lock; the totals are therefore
// consistent per transaction, not across the warehouse.
func (s *SummaryService) WarehouseSummary(ctx context.Context, warehouseID WarehouseID) (*WarehouseSummary, error) {
	const op = "warehouse summary"

	farmers, err := s.store.ListFarmers(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	txns, err := s.store.ListTransactions(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := &WarehouseSummary{
		WarehouseID:       warehouseID,
		TransactionsCount: len(txns),
		TotalWeightKg:     decimal.Zero,
		TotalSpent:        decimal.Zero,
		Outstanding:       decimal.Zero,
	}
	for _, f := range farmers {
		if f.IsActive {
			out.FarmersCount++
		}
	}

	for _, t := range txns {
		if err := s.addTransaction(ctx, out, t.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	out.TotalSacks = out.GradesBreakdown.Total()
	if g, ok := out.GradesBreakdown.Dominant(); ok {
		out.DominantGrade = &g
		out.DominantGradeRatio = float64(out.GradesBreakdown.Count(g)) / float64(out.TotalSacks)
	}
	return out, nil
}

func (s *SummaryService) addTransaction(ctx context.Context, out *WarehouseSummary, id TransactionID) error {
	unlock := s.locks.RLock(id)
	defer unlock()

	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	records, err := s.store.HarvestRecords(ctx, id)
	if err != nil {
		return err
	}
	h := SummarizeHarvest(id, records)
	out.GradesBreakdown = out.GradesBreakdown.Merge(h.GradeBreakdown)
	out.TotalWeightKg = out.TotalWeightKg.Add(h.TotalWeightKg)

	payments, err := s.store.Payments(ctx, id)
	if err != nil {
		return err
	}
	approved := TotalApproved(payments)
	out.TotalSpent = out.TotalSpent.Add(approved)
	out.Outstanding = out.Outstanding.Add(RemainingNeeded(t.TotalPrice, approved))
	if t.Status == StatusCompleted {
		out.CompletedCount++
	}
	return nil
}
