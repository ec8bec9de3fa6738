package purchase

import (
	"context"
	"fmt"
	"log"

	"github.com/louvredev/BetelChain/events"
)

// ReconcileReport describes one reconciliation sweep.
type ReconcileReport struct {
	Checked  int
	Repaired []TransactionID
	Failed   map[TransactionID]string
}

// Reconcile re-derives the payment status of every transaction awaiting
// payment from its payment ledger and repairs stored values that drifted.
// Running it twice in a row repairs nothing the second time.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	txns, err := e.store.ListTransactionsByStatus(ctx, StatusRecorded, StatusPaying)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	report := &ReconcileReport{Failed: make(map[TransactionID]string)}
	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		repaired, err := e.reconcileOne(ctx, t.ID)
		if err != nil {
			report.Failed[t.ID] = err.Error()
			log.Printf("[Reconcile] Failed %s: %v", t.ID, err)
			continue
		}
		if repaired {
			report.Repaired = append(report.Repaired, t.ID)
		}
	}
	return report, nil
}

func (e *Engine) reconcileOne(ctx context.Context, id TransactionID) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	var t *Transaction
	var approved string
	var repaired, completedNow bool
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		t, err = s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		// decided between listing and locking
		if !t.Status.Payable() || t.TotalPrice == nil {
			return nil
		}

		payments, err := s.Payments(ctx, id)
		if err != nil {
			return err
		}
		total := TotalApproved(payments)
		before := *t

		now := e.now()
		completedNow = applyPaymentStatus(t, total, now)
		if t.PaymentStatus == before.PaymentStatus && t.Status == before.Status {
			return nil
		}
		t.UpdatedAt = &now
		repaired = true
		approved = total.String()
		return s.UpdateTransaction(ctx, *t)
	})
	if err != nil {
		return false, err
	}

	if repaired {
		log.Printf("[Reconcile] Repaired %s: payment_status=%s status=%s", t.Code, t.PaymentStatus, t.Status)
	}
	if completedNow {
		e.publish(ctx, *t, events.PaymentCompleted, map[string]any{"total_approved": approved})
	}
	return repaired, nil
}
