/*
engine.go - Transaction lifecycle state machine

PURPOSE:
  The Engine is the single writer of purchase state. Every lifecycle command
  validates against the transaction's current status, mutates exactly the
  ledger it concerns, recomputes derived fields and commits atomically.

STATE MACHINE:
  ┌─────────┐ StartRecording ┌───────────┐ CompleteRecording ┌──────────┐
  │ created │ ─────────────▶ │ recording │ ────────────────▶ │ recorded │
  └─────────┘                └───────────┘                   └──────────┘
                                  │ RecordObservation              │ SubmitPayment
                                  ▼                                ▼
                             harvest ledger                  ┌──────────┐
                                                             │  paying  │
                                                             └──────────┘
                                                                   │ DecidePayment
                                                                   │ (approved ≥ price)
                                                                   ▼
                                                             ┌───────────┐
                                                             │ completed │
                                                             └───────────┘

COMMAND PRECONDITIONS:
  StartRecording      created                       else InvalidTransition
  RecordObservation   recording                     else InvalidState
  CompleteRecording   recording, ≥1 record           else InvalidTransition / EmptyHarvest
  SubmitPayment       recorded | paying, amount > 0  else InvalidState / InvalidAmount
  DecidePayment       recorded | paying, pending     else InvalidState / InvalidTransition

CONCURRENCY:
  Commands on the same transaction are serialized by a per-transaction
  exclusive lock; summaries take the shared lock. Different transactions
  never contend. Registration is serialized separately so daily code
  sequences stay unique.

WAREHOUSE SCOPE:
  Every call names the warehouse it acts for. A transaction, payment or
  farmer owned by another warehouse is reported as NotFound.

EVENTS:
  Published after commit, while still holding the transaction lock, so
  consumers see a transaction's events in order. Publish failures are logged.

EXAMPLE:
  eng := purchase.NewEngine(store, purchase.PerKilogram{})
  txn, _ := eng.Register(ctx, "wh-1", farmer.ID, decimal.NewFromInt(10000))
  eng.StartRecording(ctx, "wh-1", txn.ID)
  eng.RecordObservation(ctx, "wh-1", txn.ID, purchase.Observation{Grade: purchase.GradeA, ...})
  eng.CompleteRecording(ctx, "wh-1", txn.ID)
  p, _ := eng.SubmitPayment(ctx, "wh-1", txn.ID, purchase.PaymentInput{Amount: ..., Method: "cash"})
  eng.DecidePayment(ctx, "wh-1", p.ID, purchase.Approve)

SEE ALSO:
  - harvest.go / payment.go: Aggregation rules
  - summary.go:              Read side
  - reconcile.go:            Drift repair sweep
*/
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/louvredev/BetelChain/events"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     TxStore
	pricing   PricingPolicy
	publisher events.Publisher
	clock     func() time.Time
	locks     *lockTable

	// serializes Register so the day's code sequence is read-then-written once
	registerMu sync.Mutex
}

type Option func(*Engine)

// WithClock overrides time.Now (tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPublisher sets where lifecycle events go. Default: discarded.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithPricingTimeout bounds pricing calls. Default DefaultPricingTimeout.
func WithPricingTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pricing = WithTimeout(e.rawPricing(), d) }
}

// NewEngine creates an engine over store. pricing is always called with a
// bounded timeout.
func NewEngine(store TxStore, pricing PricingPolicy, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		pricing: WithTimeout(pricing, DefaultPricingTimeout),
		clock:   time.Now,
		locks:   newLockTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) rawPricing() PricingPolicy {
	if b, ok := e.pricing.(*boundedPolicy); ok {
		return b.inner
	}
	return e.pricing
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// Summaries returns the read side over the same store and locks.
func (e *Engine) Summaries() *SummaryService {
	return &SummaryService{store: e.store, locks: e.locks}
}

// =============================================================================
// FARMERS
// =============================================================================

// RegisterFarmer creates an active farmer owned by warehouseID.
func (e *Engine) RegisterFarmer(ctx context.Context, warehouseID WarehouseID, in FarmerInput) (*Farmer, error) {
	const op = "register farmer"
	if err := requireWarehouse(op, warehouseID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, newError(KindInvalidInput, op, "full_name is required")
	}

	now := e.now()
	f := Farmer{
		ID:                FarmerID(newID()),
		Code:              NewFarmerCode(now),
		FullName:          name,
		Phone:             strings.TrimSpace(in.Phone),
		BankName:          in.BankName,
		AccountNumber:     in.AccountNumber,
		AccountHolderName: in.AccountHolderName,
		Address:           in.Address,
		Village:           in.Village,
		District:          in.District,
		City:              in.City,
		Province:          in.Province,
		WarehouseID:       warehouseID,
		IsActive:          true,
		CreatedAt:         now,
	}
	if err := e.store.SaveFarmer(ctx, f); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &f, nil
}

// GetFarmer returns a farmer of warehouseID.
func (e *Engine) GetFarmer(ctx context.Context, warehouseID WarehouseID, id FarmerID) (*Farmer, error) {
	return loadFarmer(ctx, e.store, "get farmer", warehouseID, id)
}

// ListFarmers returns a warehouse's farmers, oldest first.
func (e *Engine) ListFarmers(ctx context.Context, warehouseID WarehouseID) ([]Farmer, error) {
	farmers, err := e.store.ListFarmers(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("list farmers: %w", err)
	}
	return farmers, nil
}

// DeactivateFarmer soft-deletes a farmer. Existing transactions, harvest
// records and payments are untouched; new transactions are refused.
func (e *Engine) DeactivateFarmer(ctx context.Context, warehouseID WarehouseID, id FarmerID) (*Farmer, error) {
	const op = "deactivate farmer"
	f, err := loadFarmer(ctx, e.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return f, nil
	}
	now := e.now()
	f.IsActive = false
	f.UpdatedAt = &now
	if err := e.store.SaveFarmer(ctx, *f); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates a transaction in `created` for an active farmer of the
// warehouse. initialPrice is fixed for the transaction's lifetime.
func (e *Engine) Register(ctx context.Context, warehouseID WarehouseID, farmerID FarmerID, initialPrice decimal.Decimal) (*Transaction, error) {
	const op = "register transaction"
	if err := requireWarehouse(op, warehouseID); err != nil {
		return nil, err
	}
	if !initialPrice.IsPositive() {
		return nil, newError(KindInvalidAmount, op, "initial_price must be positive, got %s", initialPrice)
	}

	farmer, err := loadFarmer(ctx, e.store, op, warehouseID, farmerID)
	if err != nil {
		return nil, err
	}
	if !farmer.IsActive {
		return nil, newError(KindInvalidState, op, "farmer %s is inactive", farmer.Code)
	}

	e.registerMu.Lock()
	defer e.registerMu.Unlock()

	now := e.now()
	seq, err := e.store.CountTransactionCodes(ctx, TransactionCodePrefix(now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t := Transaction{
		ID:            TransactionID(newID()),
		Code:          FormatTransactionCode(now, seq+1),
		WarehouseID:   warehouseID,
		FarmerID:      farmer.ID,
		InitialPrice:  initialPrice,
		Status:        StatusCreated,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
	}
	if err := e.store.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.publish(ctx, t, events.TransactionRegistered, map[string]any{
		"transaction_code": t.Code,
		"farmer_id":        string(t.FarmerID),
		"initial_price":    t.InitialPrice.String(),
	})
	return &t, nil
}

// GetTransaction returns a transaction of warehouseID.
func (e *Engine) GetTransaction(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*Transaction, error) {
	return loadTransaction(ctx, e.store, "get transaction", warehouseID, id)
}

// ListTransactions returns a warehouse's transactions, newest first.
func (e *Engine) ListTransactions(ctx context.Context, warehouseID WarehouseID) ([]Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// =============================================================================
// RECORDING
// =============================================================================

// StartRecording moves created → recording.
func (e *Engine) StartRecording(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*Transaction, error) {
	const op = "start recording"
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := loadTransaction(ctx, e.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCreated {
		return nil, newError(KindInvalidTransition, op, "transaction %s is %s, recording can only start from %s", t.Code, t.Status, StatusCreated)
	}

	now := e.now()
	t.Status = StatusRecording
	t.RecordingStartedAt = &now
	t.UpdatedAt = &now
	if err := e.store.UpdateTransaction(ctx, *t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.publish(ctx, *t, events.RecordingStarted, nil)
	return t, nil
}

// RecordObservation appends one graded observation.
func (e *Engine) RecordObservation(ctx context.Context, warehouseID WarehouseID, id TransactionID, o Observation) (*HarvestRecord, error) {
	records, err := e.recordObservations(ctx, "record observation", warehouseID, id, []Observation{o})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

// RecordObservations appends a batch all-or-nothing: one invalid
// observation rejects the whole batch.
func (e *Engine) RecordObservations(ctx context.Context, warehouseID WarehouseID, id TransactionID, obs []Observation) ([]HarvestRecord, error) {
	return e.recordObservations(ctx, "record observations", warehouseID, id, obs)
}

func (e *Engine) recordObservations(ctx context.Context, op string, warehouseID WarehouseID, id TransactionID, obs []Observation) ([]HarvestRecord, error) {
	if len(obs) == 0 {
		return nil, newError(KindInvalidInput, op, "no observations given")
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := loadTransaction(ctx, e.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRecording {
		return nil, newError(KindInvalidState, op, "transaction %s is %s, observations are only accepted while %s", t.Code, t.Status, StatusRecording)
	}

	now := e.now()
	records := make([]HarvestRecord, 0, len(obs))
	for i, o := range obs {
		valid, err := validateObservation(o)
		if err != nil {
			if len(obs) > 1 {
				return nil, wrapError(KindInvalidInput, op, err, "observation %d rejected", i)
			}
			return nil, err
		}
		records = append(records, HarvestRecord{
			ID:                  HarvestRecordID(newID()),
			TransactionID:       t.ID,
			Grade:               valid.Grade,
			SackColor:           valid.SackColor,
			WeightKg:            valid.WeightKg,
			DetectionConfidence: valid.Confidence,
			DetectedBy:          valid.DetectedBy,
			CreatedAt:           now,
		})
	}

	if err := e.store.AppendHarvestRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, r := range records {
		payload := map[string]any{
			"harvest_record_id": string(r.ID),
			"grade":             string(r.Grade),
			"sack_color":        string(r.SackColor),
		}
		if r.WeightKg != nil {
			payload["weight_kg"] = r.WeightKg.String()
		}
		e.publish(ctx, *t, events.HarvestRecorded, payload)
	}
	return records, nil
}

// RecordingResult is what CompleteRecording froze.
type RecordingResult struct {
	Transaction Transaction
	Harvest     HarvestSummary
}

// CompleteRecording moves recording → recorded: it freezes the total weight
// from the harvest ledger and prices it. If pricing fails nothing changes.
// A zero total price settles the transaction immediately.
func (e *Engine) CompleteRecording(ctx context.Context, warehouseID WarehouseID, id TransactionID) (*RecordingResult, error) {
	const op = "complete recording"
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := loadTransaction(ctx, e.store, op, warehouseID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRecording {
		return nil, newError(KindInvalidTransition, op, "transaction %s is %s, only a %s transaction can complete recording", t.Code, t.Status, StatusRecording)
	}

	records, err := e.store.HarvestRecords(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(records) == 0 {
		return nil, newError(KindEmptyHarvest, op, "transaction %s has no harvest records", t.Code)
	}

	harvest := SummarizeHarvest(t.ID, records)
	price, err := e.pricing.ComputePrice(ctx, PricingInput{
		TransactionID: t.ID,
		TotalWeightKg: harvest.TotalWeightKg,
		Breakdown:     harvest.GradeBreakdown,
		InitialPrice:  t.InitialPrice,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	weight := harvest.TotalWeightKg
	t.TotalWeightKg = &weight
	t.TotalPrice = &price
	t.RecordingCompletedAt = &now
	t.UpdatedAt = &now
	t.Status = StatusRecorded
	settled := applyPaymentStatus(t, decimal.Zero, now)

	if err := e.store.UpdateTransaction(ctx, *t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.publish(ctx, *t, events.RecordingCompleted, map[string]any{
		"total_weight_kg": weight.String(),
		"total_price":     price.String(),
		"total_records":   harvest.TotalRecords,
	})
	if settled {
		e.publish(ctx, *t, events.PaymentCompleted, map[string]any{"total_approved": "0"})
	}
	return &RecordingResult{Transaction: *t, Harvest: harvest}, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SubmitPayment records a pending payment.
func (e *Engine) SubmitPayment(ctx context.Context, warehouseID WarehouseID, id TransactionID, in PaymentInput) (*Payment, error) {
	const op = "submit payment"
	if !in.Amount.IsPositive() {
		return nil, newError(KindInvalidAmount, op, "amount must be positive, got %s", in.Amount)
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return nil, newError(KindInvalidInput, op, "payment_method is required")
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var p Payment
	var t *Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		t, err = loadTransaction(ctx, s, op, warehouseID, id)
		if err != nil {
			return err
		}
		if err := requirePayable(op, t); err != nil {
			return err
		}

		existing, err := s.Payments(ctx, t.ID)
		if err != nil {
			return err
		}
		ptype, err := inferPaymentType(in.Type, existing)
		if err != nil {
			return err
		}

		now := e.now()
		p = Payment{
			ID:            PaymentID(newID()),
			TransactionID: t.ID,
			Type:          ptype,
			Amount:        in.Amount,
			Method:        method,
			Note:          strings.TrimSpace(in.Note),
			Status:        PaymentPending,
			CreatedAt:     now,
		}
		if err := s.AppendPayment(ctx, p); err != nil {
			return err
		}

		if t.Status == StatusRecorded {
			t.Status = StatusPaying
			t.UpdatedAt = &now
			if err := s.UpdateTransaction(ctx, *t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, asEngineError(op, err)
	}

	e.publish(ctx, *t, events.PaymentSubmitted, map[string]any{
		"payment_id":     string(p.ID),
		"amount":         p.Amount.String(),
		"payment_method": p.Method,
		"payment_type":   string(p.Type),
	})
	return &p, nil
}

// DecisionResult is the decided payment and the transaction after
// reconciliation.
type DecisionResult struct {
	Payment       Payment
	Transaction   Transaction
	TotalApproved decimal.Decimal
}

// DecidePayment approves or rejects a pending payment and recomputes the
// transaction's payment status.
func (e *Engine) DecidePayment(ctx context.Context, warehouseID WarehouseID, paymentID PaymentID, d Decision) (*DecisionResult, error) {
	const op = "decide payment"
	if !d.State().Terminal() {
		return nil, newError(KindInvalidInput, op, "decision must be approved or rejected")
	}

	// the payment tells us which transaction to lock
	pre, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFoundOr(op, err, "payment %s not found", paymentID)
	}

	unlock := e.locks.Lock(pre.TransactionID)
	defer unlock()

	var result DecisionResult
	var completedNow bool
	err = e.store.WithTx(ctx, func(s Store) error {
		t, err := loadTransaction(ctx, s, op, warehouseID, pre.TransactionID)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return newError(KindNotFound, op, "payment %s not found", paymentID)
			}
			return err
		}
		if t.Status == StatusCompleted {
			return newError(KindInvalidState, op, "transaction %s is already payment-complete", t.Code)
		}

		p, err := s.GetPayment(ctx, paymentID)
		if err != nil {
			return notFoundOr(op, err, "payment %s not found", paymentID)
		}
		if p.Status != PaymentPending {
			return newError(KindInvalidTransition, op, "payment %s is already %s", p.ID, p.Status)
		}
		if err := requirePayable(op, t); err != nil {
			return err
		}

		now := e.now()
		if err := s.UpdatePaymentStatus(ctx, p.ID, PaymentPending, d.State(), now); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return newError(KindInvalidTransition, op, "payment %s is no longer pending", p.ID)
			}
			return err
		}
		p.Status = d.State()
		p.DecidedAt = &now

		payments, err := s.Payments(ctx, t.ID)
		if err != nil {
			return err
		}
		approved := TotalApproved(payments)
		completedNow = applyPaymentStatus(t, approved, now)
		t.UpdatedAt = &now
		if err := s.UpdateTransaction(ctx, *t); err != nil {
			return err
		}

		result = DecisionResult{Payment: *p, Transaction: *t, TotalApproved: approved}
		return nil
	})
	if err != nil {
		return nil, asEngineError(op, err)
	}

	e.publish(ctx, result.Transaction, events.PaymentDecided, map[string]any{
		"payment_id":     string(result.Payment.ID),
		"status":         string(result.Payment.Status),
		"amount":         result.Payment.Amount.String(),
		"payment_status": string(result.Transaction.PaymentStatus),
		"total_approved": result.TotalApproved.String(),
	})
	if completedNow {
		e.publish(ctx, result.Transaction, events.PaymentCompleted, map[string]any{
			"total_approved": result.TotalApproved.String(),
		})
	}
	return &result, nil
}

// GetPayment returns a payment whose transaction belongs to warehouseID.
func (e *Engine) GetPayment(ctx context.Context, warehouseID WarehouseID, id PaymentID) (*Payment, error) {
	const op = "get payment"
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return nil, notFoundOr(op, err, "payment %s not found", id)
	}
	if _, err := loadTransaction(ctx, e.store, op, warehouseID, p.TransactionID); err != nil {
		if KindOf(err) == KindNotFound {
			return nil, newError(KindNotFound, op, "payment %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// applyPaymentStatus recomputes t's payment status from approved and moves
// the lifecycle status along. It reports whether the transaction became
// payment-complete just now. PaymentCompletedAt is only ever set once.
func applyPaymentStatus(t *Transaction, approved decimal.Decimal, now time.Time) bool {
	t.PaymentStatus = EvaluatePaymentStatus(t.TotalPrice, approved)
	if t.PaymentStatus != PaymentCompleted {
		return false
	}
	t.Status = StatusCompleted
	if t.PaymentCompletedAt != nil {
		return false
	}
	t.PaymentCompletedAt = &now
	return true
}

func (e *Engine) publish(ctx context.Context, t Transaction, typ events.Type, payload map[string]any) {
	if e.publisher == nil {
		return
	}
	ev := events.Event{
		Type:          typ,
		TransactionID: string(t.ID),
		WarehouseID:   string(t.WarehouseID),
		OccurredAt:    e.now(),
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[Engine] Failed to publish %s for %s: %v", typ, t.ID, err)
	}
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

type transactionGetter interface {
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
}

type farmerGetter interface {
	GetFarmer(ctx context.Context, id FarmerID) (*Farmer, error)
}

func loadTransaction(ctx context.Context, s transactionGetter, op string, warehouseID WarehouseID, id TransactionID) (*Transaction, error) {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, notFoundOr(op, err, "transaction %s not found", id)
	}
	if t.WarehouseID != warehouseID {
		return nil, newError(KindNotFound, op, "transaction %s not found", id)
	}
	return t, nil
}

func loadFarmer(ctx context.Context, s farmerGetter, op string, warehouseID WarehouseID, id FarmerID) (*Farmer, error) {
	f, err := s.GetFarmer(ctx, id)
	if err != nil {
		return nil, notFoundOr(op, err, "farmer %s not found", id)
	}
	if f.WarehouseID != warehouseID {
		return nil, newError(KindNotFound, op, "farmer %s not found", id)
	}
	return f, nil
}

func notFoundOr(op string, err error, format string, args ...any) error {
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFound, op, format, args...)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireWarehouse(op string, warehouseID WarehouseID) error {
	if strings.TrimSpace(string(warehouseID)) == "" {
		return newError(KindInvalidInput, op, "warehouse id is required")
	}
	return nil
}

func requirePayable(op string, t *Transaction) error {
	switch {
	case t.Status == StatusCompleted:
		return newError(KindInvalidState, op, "transaction %s is already payment-complete", t.Code)
	case t.TotalPrice == nil || !t.Status.Payable():
		return newError(KindInvalidState, op, "transaction %s has no total price yet, complete recording first", t.Code)
	}
	return nil
}

// asEngineError keeps domain errors as they are and wraps everything else.
func asEngineError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return fmt.Errorf("%s: %w", op, err)
}
