/*
errors.go - Error taxonomy for the purchase engine

PURPOSE:
  Every failure the engine reports carries a stable, machine-readable kind
  and a human-readable message. Callers branch on the kind; people read the
  message.

ERROR KINDS:
  InvalidTransition  Lifecycle command not valid for the current status
  InvalidAmount      Non-positive payment amount or initial price
  InvalidState       Precondition missing (not recording, price unknown,
                     already payment-complete, inactive farmer)
  EmptyHarvest       Completing a recording with zero observations
  NotFound           Unknown transaction/payment/farmer (or another
                     warehouse's)
  UpstreamFailure    Pricing collaborator failed or timed out
  InvalidInput       Malformed command input (unknown grade, bad confidence)

USAGE:
  if errors.Is(err, purchase.ErrEmptyHarvest) { ... }

  switch purchase.KindOf(err) {
  case purchase.KindNotFound: ...
  }

ATOMICITY:
  An error always means nothing was written. A rejected payment submission
  never creates a Payment record.

SEE ALSO:
  - api/handlers.go: Maps kinds onto HTTP status codes
*/
package purchase

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindInvalidAmount     ErrorKind = "InvalidAmount"
	KindInvalidState      ErrorKind = "InvalidState"
	KindEmptyHarvest      ErrorKind = "EmptyHarvest"
	KindNotFound          ErrorKind = "NotFound"
	KindUpstreamFailure   ErrorKind = "UpstreamFailure"
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindInternal          ErrorKind = "Internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidState      = errors.New("invalid state")
	ErrEmptyHarvest      = errors.New("empty harvest")
	ErrNotFound          = errors.New("not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrInvalidInput      = errors.New("invalid input")
)

var sentinels = map[ErrorKind]error{
	KindInvalidTransition: ErrInvalidTransition,
	KindInvalidAmount:     ErrInvalidAmount,
	KindInvalidState:      ErrInvalidState,
	KindEmptyHarvest:      ErrEmptyHarvest,
	KindNotFound:          ErrNotFound,
	KindUpstreamFailure:   ErrUpstreamFailure,
	KindInvalidInput:      ErrInvalidInput,
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is returned by every engine operation that fails for a domain reason.
type Error struct {
	Kind    ErrorKind
	Op      string // e.g. "complete recording"
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind's sentinel and the cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of err, KindInternal for unclassified errors and
// "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsClientError returns true if the error is due to the command, not the system.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindInvalidAmount, KindInvalidState,
		KindEmptyHarvest, KindNotFound, KindInvalidInput:
		return true
	}
	return false
}

// IsRetryable returns true if the same command might succeed later.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstreamFailure
}
