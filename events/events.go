/*
Package events publishes purchase lifecycle events to other systems.

PURPOSE:
  Downstream consumers (finance exports, farmer notifications, dashboards)
  want to know when a transaction moves. The engine publishes one Event after
  every committed command. Publishing is best-effort: the command has already
  succeeded, so a publish failure is logged and never undoes it.

EVENT TYPES:
  transaction.registered   recording.started     harvest.recorded
  recording.completed      payment.submitted     payment.decided
  payment.completed

PUBLISHERS:
  KafkaPublisher: JSON value, key = transaction id (per-transaction ordering)
  LogPublisher:   Writes events to the standard logger (default)
  Recorder:       Keeps events in memory (tests)
  Multi:          Fans out to several publishers

SEE ALSO:
  - kafka.go:           sarama-backed publisher
  - purchase/engine.go: Emits events
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

type Type string

const (
	TransactionRegistered Type = "transaction.registered"
	RecordingStarted      Type = "recording.started"
	HarvestRecorded       Type = "harvest.recorded"
	RecordingCompleted    Type = "recording.completed"
	PaymentSubmitted      Type = "payment.submitted"
	PaymentDecided        Type = "payment.decided"
	PaymentCompleted      Type = "payment.completed"
)

// Event is a fact about one transaction.
type Event struct {
	Type          Type           `json:"type"`
	TransactionID string         `json:"transaction_id"`
	WarehouseID   string         `json:"warehouse_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

type LogPublisher struct {
	Logger *log.Logger // nil: standard logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.Printf("[Events] %s", data)
	} else {
		log.Printf("[Events] %s", data)
	}
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// =============================================================================
// MULTI
// =============================================================================

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
