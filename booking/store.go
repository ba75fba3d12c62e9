/*
store.go - Persistence interface for the booking engine

PURPOSE:
  Defines the contract between the engine and the database. Implementations
  exist for SQLite (store/sqlite) and in-memory (booking/store, for tests).
  The engine never holds a global connection: a Store is injected at
  construction, so test doubles drop in cleanly.

TRANSACTION BOUNDARY:
  TxStore.WithTx executes a function against a transactional view of the
  store. Everything a purchase or cancellation writes - seat holds, ticket
  rows, coupon usage, balance update, payment row - happens inside one
  WithTx call. If the function returns an error the transaction is rolled
  back and no partial effect is observable.

GUARDED UPDATES:
  IncrementCouponUsage and MarkGrantUsed are conditional updates: they
  report whether the guarded transition applied (usage below limit, grant
  still unused). This keeps the usage-limit and single-use invariants
  enforceable at the storage layer even under concurrent redemption.
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

// UserStore persists users. Lookup returns (nil, nil) when absent.
type UserStore interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	SaveUser(ctx context.Context, u User) error

	// UpdateUserBalance sets the stored balance. Callers compute the new
	// value inside the same transaction that appends the Payment row.
	UpdateUserBalance(ctx context.Context, id UserID, balance Money) error
}

// FleetStore persists buses and their seats.
type FleetStore interface {
	SaveBus(ctx context.Context, b Bus) error
	SaveSeat(ctx context.Context, s Seat) error

	// GetSeats returns the seats with the given IDs, in no particular order.
	// Missing IDs are simply absent from the result.
	GetSeats(ctx context.Context, ids []SeatID) ([]Seat, error)
	SeatsByBus(ctx context.Context, busID BusID) ([]Seat, error)
}

// TripStore persists trips.
type TripStore interface {
	GetTrip(ctx context.Context, id TripID) (*Trip, error)
	SaveTrip(ctx context.Context, t Trip) error
	UpdateTripStatus(ctx context.Context, id TripID, status TripStatus) error

	// ListDepartedActiveTrips returns active trips whose departure is at or
	// before the cutoff. Used by the completion sweep.
	ListDepartedActiveTrips(ctx context.Context, cutoff time.Time) ([]Trip, error)
}

// SeatHoldStore persists the ticket-seat links that hold seats per trip.
type SeatHoldStore interface {
	// HeldSeats maps each held seat of the trip to the ticket holding it.
	// Only active links count; cancelled tickets hold nothing.
	HeldSeats(ctx context.Context, tripID TripID) (map[SeatID]TicketID, error)

	// InsertTicketSeats adds active holds. Implementations back this with a
	// uniqueness constraint on (trip, seat) over active rows and return
	// ErrSeatConflict-compatible errors on violation.
	InsertTicketSeats(ctx context.Context, seats []TicketSeat) error

	// ReleaseTicketSeats deactivates all holds of a ticket and returns how
	// many were released. Releasing an already-released ticket is a no-op.
	ReleaseTicketSeats(ctx context.Context, ticketID TicketID) (int, error)

	TicketSeats(ctx context.Context, ticketID TicketID) ([]TicketSeat, error)
}

// CouponStore persists coupons and per-user grants.
type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	SaveCoupon(ctx context.Context, c Coupon) error

	// IncrementCouponUsage bumps usage_count only while it is below the
	// limit; returns false when the coupon is exhausted.
	IncrementCouponUsage(ctx context.Context, id CouponID) (bool, error)

	GetGrant(ctx context.Context, userID UserID, couponID CouponID) (*CouponGrant, error)
	SaveGrant(ctx context.Context, g CouponGrant) error

	// MarkGrantUsed flips the grant to used, recording the redeeming ticket.
	// Returns false when the grant was already used.
	MarkGrantUsed(ctx context.Context, userID UserID, couponID CouponID, ticketID TicketID) (bool, error)
}

// TicketStore persists tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, t Ticket) error
	GetTicket(ctx context.Context, id TicketID) (*Ticket, error)
	UpdateTicketStatus(ctx context.Context, id TicketID, status TicketStatus, cancelledAt *time.Time) error
	ListTicketsByUser(ctx context.Context, userID UserID) ([]Ticket, error)
	ListActiveTicketsByTrip(ctx context.Context, tripID TripID) ([]Ticket, error)
}

// PaymentStore persists the append-only payment ledger.
// No update, no delete. Corrections are new rows.
type PaymentStore interface {
	AppendPayment(ctx context.Context, p Payment) error
	ListPaymentsByUser(ctx context.Context, userID UserID) ([]Payment, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full persistence surface the engine operates on.
type Store interface {
	UserStore
	FleetStore
	TripStore
	SeatHoldStore
	CouponStore
	TicketStore
	PaymentStore
}

// TxStore adds the transaction boundary.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view. If fn returns an
	// error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
