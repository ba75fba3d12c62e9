/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error kinds in one place. Callers classify with errors.Is/As; the
  structured types carry enough detail (conflicting seats, shortfall,
  coupon failure reason) for an upstream layer to build an actionable
  message without the engine formatting prose.

ERROR CATEGORIES:
  1. Validation errors - Malformed requests (shape, counts)
  2. Domain errors     - Conflicts, coupon failures, insufficient funds,
                         policy rejections (cancellation window)
  3. Storage errors    - The underlying store failed; the whole operation
                         may be retried, no partial effect survives

USAGE:
    _, err := engine.PurchaseTicket(ctx, req)
    var conflict *booking.ConflictError
    if errors.As(err, &conflict) {
        // conflict.Seats lists the seats already taken
    }
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrSeatConflict      = errors.New("seat already taken")
	ErrCoupon            = errors.New("coupon rejected")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPolicy            = errors.New("operation not permitted by policy")
	ErrStorage           = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed request before any state is touched.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing trip, ticket, user, or coupon.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports the exact seats that are already held by another
// active ticket, so the caller can name them in the rejection.
type ConflictError struct {
	TripID TripID
	Seats  []SeatID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("trip %s: %d requested seat(s) no longer available", e.TripID, len(e.Seats))
}

func (e *ConflictError) Unwrap() error { return ErrSeatConflict }

// CouponReason identifies why a coupon was rejected.
type CouponReason string

const (
	CouponNotFound    CouponReason = "not found"
	CouponInactive    CouponReason = "inactive"
	CouponExpired     CouponReason = "expired"
	CouponExhausted   CouponReason = "exhausted"
	CouponNotGranted  CouponReason = "not granted"
	CouponAlreadyUsed CouponReason = "already used"
)

// CouponError reports a specific coupon rejection. A missing code is never a
// CouponError: no coupon means zero discount, not a failure.
type CouponError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Reason)
}

func (e *CouponError) Unwrap() error { return ErrCoupon }

// InsufficientFundsError reports how much credit was missing.
type InsufficientFundsError struct {
	UserID    UserID
	Balance   Money
	Required  Money
	Shortfall Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient credit: balance %s, required %s, short %s",
		e.Balance, e.Required, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// PolicyError reports a business-rule rejection (cancellation window passed,
// trip already departed or not open for sale).
type PolicyError struct {
	Msg string
}

func (e *PolicyError) Error() string { return e.Msg }

func (e *PolicyError) Unwrap() error { return ErrPolicy }

// StorageError wraps a failure of the underlying store. The engine guarantees
// that no partial effect of the failed attempt is observable; the caller may
// retry the whole operation after re-checking status.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool          { return errors.Is(err, ErrSeatConflict) }
func IsCoupon(err error) bool            { return errors.Is(err, ErrCoupon) }
func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }
func IsPolicy(err error) bool            { return errors.Is(err, ErrPolicy) }

// AsConflict extracts the ConflictError carrying the unavailable seats.
func AsConflict(err error, target **ConflictError) bool { return errors.As(err, target) }

// IsRetryable reports whether the whole operation may be retried. Only
// storage failures qualify; domain rejections are final for the same input.
func IsRetryable(err error) bool { return errors.Is(err, ErrStorage) }

// storeErr wraps err as a StorageError unless it already is one of the
// engine's own kinds.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsValidation(err), IsNotFound(err), IsConflict(err),
		IsCoupon(err), IsInsufficientFunds(err), IsPolicy(err),
		errors.Is(err, ErrStorage):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
