/*
Package purchase provides the transaction lifecycle and payment reconciliation engine.

PURPOSE:
  A purchase transaction is one interaction between a warehouse and a farmer:
  the farmer's produce is graded and weighed (recording), priced, and then paid
  in one or more installments. This package owns the rules that decide what a
  transaction's totals are and when it counts as paid.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction:   Lifecycle status + frozen totals + payment sub-state
  - HarvestRecord: One graded (and possibly weighed) sack, append-only
  - Payment:       One installment; amount fixed, status decided exactly once
  - Grade:         A/B/C grading outcome supplied by the detection subsystem

DESIGN PRINCIPLES:
  1. Derived, never drifting: totals are recomputed from the ledgers
  2. Precision: money and weights use decimal.Decimal
  3. Type Safety: distinct ID types per entity
  4. Explicit scope: every command carries the warehouse it is issued for

LIFECYCLE:
  created ──▶ recording ──▶ recorded ──▶ paying ──▶ completed
                 │              │           │
            observations    priced,     payments
            appended        payable     decided

SEE ALSO:
  - engine.go:  State machine (commands)
  - harvest.go: Harvest ledger aggregation
  - payment.go: Payment ledger aggregation
  - summary.go: Read-side consolidated views
*/
package purchase

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type FarmerID string
type PaymentID string
type HarvestRecordID string
type WarehouseID string

// =============================================================================
// GRADE & SACK COLOR
// =============================================================================

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// Grades lists every grade in display order.
var Grades = []Grade{GradeA, GradeB, GradeC}

// ParseGrade accepts "A", "b", " c " etc.
func ParseGrade(s string) (Grade, error) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	switch g {
	case GradeA, GradeB, GradeC:
		return g, nil
	}
	return "", newError(KindInvalidInput, "parse grade", "unknown grade %q", s)
}

// SackColor is a presentation tag. It correlates with grade but is never
// used to decide anything.
type SackColor string

const (
	SackRed    SackColor = "red"
	SackYellow SackColor = "yellow"
	SackGreen  SackColor = "green"
)

// detector labels come in Indonesian from the classifier
var sackColorAliases = map[string]SackColor{
	"merah":  SackRed,
	"kuning": SackYellow,
	"hijau":  SackGreen,
	"red":    SackRed,
	"yellow": SackYellow,
	"green":  SackGreen,
}

// NormalizeSackColor maps detector labels to canonical colors. Unknown labels
// are kept lower-cased.
func NormalizeSackColor(label string) SackColor {
	l := strings.ToLower(strings.TrimSpace(label))
	if c, ok := sackColorAliases[l]; ok {
		return c
	}
	return SackColor(l)
}

// DefaultSackColor is the color sacks of a grade are usually packed in.
func DefaultSackColor(g Grade) SackColor {
	switch g {
	case GradeA:
		return SackRed
	case GradeB:
		return SackYellow
	default:
		return SackGreen
	}
}

// GradeBreakdown counts harvest records per grade.
type GradeBreakdown struct {
	A int `json:"A"`
	B int `json:"B"`
	C int `json:"C"`
}

func (b *GradeBreakdown) Add(g Grade) {
	switch g {
	case GradeA:
		b.A++
	case GradeB:
		b.B++
	case GradeC:
		b.C++
	}
}

func (b GradeBreakdown) Count(g Grade) int {
	switch g {
	case GradeA:
		return b.A
	case GradeB:
		return b.B
	case GradeC:
		return b.C
	}
	return 0
}

func (b GradeBreakdown) Total() int { return b.A + b.B + b.C }

func (b GradeBreakdown) Merge(o GradeBreakdown) GradeBreakdown {
	return GradeBreakdown{A: b.A + o.A, B: b.B + o.B, C: b.C + o.C}
}

// Dominant returns the grade with the most records. Ties go to the better
// grade. ok is false when there are no records.
func (b GradeBreakdown) Dominant() (g Grade, ok bool) {
	if b.Total() == 0 {
		return "", false
	}
	best := GradeA
	for _, candidate := range Grades[1:] {
		if b.Count(candidate) > b.Count(best) {
			best = candidate
		}
	}
	return best, true
}

// =============================================================================
// FARMER
// =============================================================================

type Farmer struct {
	ID                FarmerID
	Code              string
	FullName          string
	Phone             string
	BankName          string
	AccountNumber     string
	AccountHolderName string
	Address           string
	Village           string
	District          string
	City              string
	Province          string
	WarehouseID       WarehouseID
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         *time.Time
}

// FarmerInput carries the caller-supplied fields of a new farmer.
type FarmerInput struct {
	FullName          string
	Phone             string
	BankName          string
	AccountNumber     string
	AccountHolderName string
	Address           string
	Village           string
	District          string
	City              string
	Province          string
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionStatus string

const (
	StatusCreated   TransactionStatus = "created"
	StatusRecording TransactionStatus = "recording"
	StatusRecorded  TransactionStatus = "recorded"
	StatusPaying    TransactionStatus = "paying"
	StatusCompleted TransactionStatus = "completed"
)

// Payable reports whether payments may be submitted or decided.
func (s TransactionStatus) Payable() bool {
	return s == StatusRecorded || s == StatusPaying
}

// PaymentStatus is the transaction-level payment sub-state.
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPartial   PaymentStatus = "partial"
	PaymentCompleted PaymentStatus = "completed"
)

// Transaction is one purchase from a farmer.
//
// INVARIANTS:
//   - RecordingCompletedAt set ⇒ TotalWeightKg and TotalPrice non-nil
//   - PaymentCompletedAt set ⇒ PaymentStatus == PaymentCompleted
//   - InitialPrice never changes after Register
type Transaction struct {
	ID            TransactionID
	Code          string
	WarehouseID   WarehouseID
	FarmerID      FarmerID
	InitialPrice  decimal.Decimal
	TotalWeightKg *decimal.Decimal
	TotalPrice    *decimal.Decimal
	Status        TransactionStatus
	PaymentStatus PaymentStatus

	CreatedAt            time.Time
	RecordingStartedAt   *time.Time
	RecordingCompletedAt *time.Time
	PaymentCompletedAt   *time.Time
	UpdatedAt            *time.Time
}

// =============================================================================
// HARVEST RECORD
// =============================================================================

// HarvestRecord is one graded observation. Immutable once appended.
type HarvestRecord struct {
	ID                  HarvestRecordID
	TransactionID       TransactionID
	Grade               Grade
	SackColor           SackColor
	WeightKg            *decimal.Decimal // nil: grade detected, weight not confirmed
	DetectionConfidence *float64         // nil: not reported
	DetectedBy          string
	CreatedAt           time.Time
}

// Observation is the structured output of the grading/detection subsystem.
type Observation struct {
	Grade      Grade
	SackColor  SackColor
	WeightKg   *decimal.Decimal
	Confidence *float64
	DetectedBy string
}

// =============================================================================
// PAYMENT
// =============================================================================

// PaymentState is the approval state of a single payment.
type PaymentState string

const (
	PaymentPending  PaymentState = "pending"
	PaymentApproved PaymentState = "approved"
	PaymentRejected PaymentState = "rejected"
)

func (s PaymentState) Terminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

// Decision is the one-shot outcome of reviewing a pending payment. Only the
// two terminal states are representable.
type Decision struct {
	state PaymentState
}

var (
	Approve = Decision{state: PaymentApproved}
	Reject  = Decision{state: PaymentRejected}
)

// ParseDecision accepts "approved"/"approve" and "rejected"/"reject".
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve":
		return Approve, nil
	case "rejected", "reject":
		return Reject, nil
	}
	return Decision{}, newError(KindInvalidInput, "parse decision", "decision must be approved or rejected, got %q", s)
}

func (d Decision) State() PaymentState { return d.state }
func (d Decision) String() string      { return string(d.state) }

type PaymentType string

const (
	PaymentInitial   PaymentType = "initial"
	PaymentRemaining PaymentType = "remaining"
)

// Payment is one installment against a transaction.
type Payment struct {
	ID            PaymentID
	TransactionID TransactionID
	Type          PaymentType
	Amount        decimal.Decimal
	Method        string
	Note          string
	Status        PaymentState
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// PaymentInput carries the caller-supplied fields of a new payment.
type PaymentInput struct {
	Amount decimal.Decimal
	Method string
	Note   string
	Type   PaymentType // optional; inferred when empty
}
