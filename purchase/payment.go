/*
payment.go - Payment ledger aggregation and reconciliation

PURPOSE:
  A transaction is paid in installments. Each installment is a Payment that
  starts pending and is decided exactly once (approved or rejected). Only
  approved payments count toward the total. This file reconciles the ledger
  against the priced total.

RECONCILIATION:
  total_approved     = Σ amount of approved payments
  remaining_needed   = max(0, total_price − total_approved)
  payment_percentage = total_approved / total_price   (0 if price unknown or 0)

PAYMENT STATUS (transaction level):
  completed  total_approved >= total_price
  partial    0 < total_approved < total_price
  unpaid     total_approved == 0

  A transaction with a known zero price is completed: nothing is owed.

ONE-SHOT DECISIONS:
  pending ──▶ approved
     └─────▶ rejected
  Terminal states never change. Re-deciding fails with InvalidTransition.

SEE ALSO:
  - engine.go:  SubmitPayment / DecidePayment
  - summary.go: Exposes PaymentSummary to callers
*/
package purchase

import (
	"github.com/shopspring/decimal"
)

// PaymentCounts counts payments per approval state.
type PaymentCounts struct {
	Approved int `json:"approved"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

// PaymentSummary is the derived view of a transaction's payment ledger.
type PaymentSummary struct {
	TransactionID     TransactionID
	TotalPrice        *decimal.Decimal
	TotalApproved     decimal.Decimal
	TotalPending      decimal.Decimal
	InitialPaid       decimal.Decimal
	RemainingPaid     decimal.Decimal
	RemainingNeeded   decimal.Decimal
	PaymentPercentage float64
	PaymentStatus     PaymentStatus
	ByStatus          PaymentCounts
	TotalPayments     int
	Payments          []Payment
}

// TotalPaid is the amount actually received; only approved payments count.
func (s PaymentSummary) TotalPaid() decimal.Decimal { return s.TotalApproved }

// TotalApproved sums the amounts of approved payments.
func TotalApproved(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentApproved {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// EvaluatePaymentStatus decides the transaction-level payment status.
// A nil price means pricing has not happened yet: always unpaid.
func EvaluatePaymentStatus(totalPrice *decimal.Decimal, totalApproved decimal.Decimal) PaymentStatus {
	if totalPrice == nil {
		return PaymentUnpaid
	}
	switch {
	case totalApproved.GreaterThanOrEqual(*totalPrice):
		return PaymentCompleted
	case totalApproved.IsPositive():
		return PaymentPartial
	default:
		return PaymentUnpaid
	}
}

// RemainingNeeded is never negative.
func RemainingNeeded(totalPrice *decimal.Decimal, totalApproved decimal.Decimal) decimal.Decimal {
	if totalPrice == nil {
		return decimal.Zero
	}
	return decimal.Max(decimal.Zero, totalPrice.Sub(totalApproved))
}

// PaymentPercentage is approved / price as a fraction (1.0 = fully paid),
// rounded to 4 places.
func PaymentPercentage(totalPrice *decimal.Decimal, totalApproved decimal.Decimal) float64 {
	if totalPrice == nil || !totalPrice.IsPositive() {
		return 0
	}
	f, _ := totalApproved.Div(*totalPrice).Round(4).Float64()
	return f
}

// SummarizePayments reconciles payments against a total price. Pure.
func SummarizePayments(transactionID TransactionID, totalPrice *decimal.Decimal, payments []Payment) PaymentSummary {
	s := PaymentSummary{
		TransactionID: transactionID,
		TotalPrice:    totalPrice,
		TotalApproved: decimal.Zero,
		TotalPending:  decimal.Zero,
		InitialPaid:   decimal.Zero,
		RemainingPaid: decimal.Zero,
		TotalPayments: len(payments),
		Payments:      payments,
	}

	for _, p := range payments {
		switch p.Status {
		case PaymentApproved:
			s.ByStatus.Approved++
			s.TotalApproved = s.TotalApproved.Add(p.Amount)
			if p.Type == PaymentRemaining {
				s.RemainingPaid = s.RemainingPaid.Add(p.Amount)
			} else {
				s.InitialPaid = s.InitialPaid.Add(p.Amount)
			}
		case PaymentPending:
			s.ByStatus.Pending++
			s.TotalPending = s.TotalPending.Add(p.Amount)
		case PaymentRejected:
			s.ByStatus.Rejected++
		}
	}

	s.RemainingNeeded = RemainingNeeded(totalPrice, s.TotalApproved)
	s.PaymentPercentage = PaymentPercentage(totalPrice, s.TotalApproved)
	s.PaymentStatus = EvaluatePaymentStatus(totalPrice, s.TotalApproved)
	return s
}

// inferPaymentType labels the first installment "initial" and later ones
// "remaining" when the caller does not say.
func inferPaymentType(requested PaymentType, existing []Payment) (PaymentType, error) {
	switch requested {
	case PaymentInitial, PaymentRemaining:
		return requested, nil
	case "":
		for _, p := range existing {
			if p.Status != PaymentRejected {
				return PaymentRemaining, nil
			}
		}
		return PaymentInitial, nil
	}
	return "", newError(KindInvalidInput, "submit payment", "payment_type must be initial or remaining, got %q", requested)
}
