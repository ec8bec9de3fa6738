/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically re-derives the payment status of every transaction awaiting
  payment and repairs stored values that drifted from the payment ledger.

DESIGN:
  - Schedule is a cron spec (robfig/cron), default "@every 1h"
  - Overlapping runs are skipped, never queued
  - Runs once immediately on start
  - The last report is kept for the admin endpoint

USAGE:
  scheduler := NewReconciliationScheduler(engine)
  scheduler.Schedule = "@every 30m"
  if err := scheduler.Start(); err != nil { ... }
  defer scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual reconciliation)
  - purchase/reconcile.go: Engine.Reconcile
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/louvredev/BetelChain/purchase"
)

// Reconciler is what the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (*purchase.ReconcileReport, error)
}

// ReconciliationScheduler runs reconciliation sweeps on a schedule.
type ReconciliationScheduler struct {
	Reconciler Reconciler
	Schedule   string
	Enabled    bool
	RunTimeout time.Duration

	cron    *cron.Cron
	entry   cron.EntryID
	mu      sync.Mutex
	runMu   sync.Mutex // one sweep at a time, scheduled or manual
	last    *purchase.ReconcileReport
	lastRun time.Time
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r Reconciler) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Reconciler: r,
		Schedule:   "@every 1h",
		Enabled:    true,
		RunTimeout: 5 * time.Minute,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return nil
	}
	if rs.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	entry, err := c.AddFunc(rs.Schedule, rs.scheduledRun)
	if err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", rs.Schedule, err)
	}
	rs.cron = c
	rs.entry = entry
	c.Start()

	// Run immediately on start
	go rs.scheduledRun()

	log.Printf("[Scheduler] Started with schedule: %s", rs.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	rs.cron = nil
	rs.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	// the start-up run is not tracked by cron
	rs.runMu.Lock()
	rs.runMu.Unlock()
	log.Println("[Scheduler] Stopped")
}

func (rs *ReconciliationScheduler) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.RunTimeout)
	defer cancel()
	if _, err := rs.RunNow(ctx); err != nil {
		log.Printf("[Scheduler] Reconciliation failed: %v", err)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*purchase.ReconcileReport, error) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	start := time.Now()
	report, err := rs.Reconciler.Reconcile(ctx)
	if err != nil {
		return report, err
	}

	rs.mu.Lock()
	rs.last = report
	rs.lastRun = start
	rs.mu.Unlock()

	if len(report.Repaired) > 0 || len(report.Failed) > 0 {
		log.Printf("[Scheduler] Completed: %d checked, %d repaired, %d failed",
			report.Checked, len(report.Repaired), len(report.Failed))
	}
	return report, nil
}

// LastReport returns the most recent report and when its sweep started.
func (rs *ReconciliationScheduler) LastReport() (*purchase.ReconcileReport, time.Time) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last, rs.lastRun
}

// NextRunTime returns when the next scheduled sweep will occur, or the zero
// time if the scheduler is not running.
func (rs *ReconciliationScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cron == nil {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entry).Next
}
