/*
engine.go - Booking transaction engine

PURPOSE:
  The Engine is the single entry point for state-changing booking
  operations: purchasing a ticket, cancelling one, topping up credit, and
  sweeping departed trips. Each operation runs as one store transaction,
  so a failure at any step leaves no partial state behind.

DESIGN:
  Purchases and cancellations serialize per trip through a striped lock,
  so two bookings on different trips never contend while two on the same
  trip cannot interleave their availability check and reservation. The
  store's constraints back the same invariants a second time for stores
  shared with other processes.

SEE ALSO:
  - seats.go for reservation
  - coupon.go for coupon validation and redemption
  - ledger.go for money movement
*/
package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine coordinates booking operations over a transactional store.
type Engine struct {
	store   TxStore
	seats   *SeatAllocator
	coupons *CouponValidator
	ledger  *CreditLedger
	clock   Clock
	limits  Limits

	mu        sync.Mutex
	tripLocks map[TripID]*sync.Mutex
}

// NewEngine wires an Engine over the given store. A nil clock means the
// system clock.
func NewEngine(store TxStore, clock Clock, limits Limits) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		store:     store,
		seats:     NewSeatAllocator(limits.MaxSeatsPerBooking),
		coupons:   NewCouponValidator(clock),
		ledger:    NewCreditLedger(clock),
		clock:     clock,
		limits:    limits,
		tripLocks: make(map[TripID]*sync.Mutex),
	}
}

func (e *Engine) lockTrip(id TripID) func() {
	e.mu.Lock()
	l, ok := e.tripLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.tripLocks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// =============================================================================
// Purchase
// =============================================================================

// PurchaseRequest describes one attempted ticket purchase.
type PurchaseRequest struct {
	UserID         UserID
	TripID         TripID
	SeatIDs        []SeatID
	PassengerNames []string
	CouponCode     string
}

// PurchaseResult reports the committed outcome of a purchase.
type PurchaseResult struct {
	Ticket     *Ticket
	NewBalance Money
}

// PurchaseTicket books the requested seats on the trip for the user,
// applying the coupon if one is given, and charges the final price from
// the user's credit balance. The whole operation commits atomically: on
// any failure no seat is held, no credit moves, and no coupon use is
// consumed.
func (e *Engine) PurchaseTicket(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "required"}
	}
	if req.TripID == "" {
		return nil, &ValidationError{Field: "trip_id", Msg: "required"}
	}
	if err := e.seats.CheckRequest(req.SeatIDs, req.PassengerNames); err != nil {
		return nil, err
	}

	unlock := e.lockTrip(req.TripID)
	defer unlock()

	var result PurchaseResult
	err := e.store.WithTx(ctx, func(s Store) error {
		trip, err := s.GetTrip(ctx, req.TripID)
		if err != nil {
			return storeErr("load trip", err)
		}
		if trip == nil {
			return &NotFoundError{Resource: "trip", ID: string(req.TripID)}
		}
		if trip.Status != TripActive {
			return &PolicyError{Msg: fmt.Sprintf("trip %s is %s", trip.ID, trip.Status)}
		}
		if e.clock.Now().After(trip.DepartureAt) {
			return &PolicyError{Msg: fmt.Sprintf("trip %s has already departed", trip.ID)}
		}

		user, err := s.GetUser(ctx, req.UserID)
		if err != nil {
			return storeErr("load user", err)
		}
		if user == nil {
			return &NotFoundError{Resource: "user", ID: string(req.UserID)}
		}
		if !user.Active {
			return &PolicyError{Msg: fmt.Sprintf("user %s is deactivated", user.ID)}
		}

		quote, err := e.coupons.Validate(ctx, s, user.ID, req.CouponCode)
		if err != nil {
			return err
		}

		total := trip.Price.MulInt(len(req.SeatIDs))
		discount := quote.Discount(total)
		final := total.Sub(discount)

		ticket := &Ticket{
			ID:          TicketID(uuid.NewString()),
			UserID:      user.ID,
			TripID:      trip.ID,
			Status:      TicketActive,
			TotalPrice:  total,
			Discount:    discount,
			FinalPrice:  final,
			PurchasedAt: e.clock.Now(),
		}
		if quote.Applied {
			ticket.CouponCode = quote.Coupon.Code
		}

		// Ticket row first: the seat holds reference it.
		if err := s.CreateTicket(ctx, *ticket); err != nil {
			return storeErr("create ticket", err)
		}
		if err := e.seats.Reserve(ctx, s, trip, ticket.ID, req.SeatIDs, req.PassengerNames); err != nil {
			return err
		}
		newBalance, err := e.ledger.Debit(ctx, s, user, ticket.ID, final)
		if err != nil {
			return err
		}
		if err := e.coupons.Redeem(ctx, s, quote, user.ID, ticket.ID); err != nil {
			return err
		}

		result.Ticket = ticket
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// Cancel
// =============================================================================

// CancelResult reports the committed outcome of a cancellation.
type CancelResult struct {
	Ticket     *Ticket
	Refund     Money
	NewBalance Money
}

// CancelTicket voids an active ticket, releases its seats, and refunds the
// final price to the user's credit balance. Cancellation is refused inside
// the cutoff window before departure and after departure. The coupon used
// on the ticket is not restored.
func (e *Engine) CancelTicket(ctx context.Context, userID UserID, ticketID TicketID) (*CancelResult, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "required"}
	}
	if ticketID == "" {
		return nil, &ValidationError{Field: "ticket_id", Msg: "required"}
	}

	// Peek at the ticket outside the transaction only to learn which trip
	// lock to take; everything is re-checked inside.
	peek, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr("load ticket", err)
	}
	if peek == nil || peek.UserID != userID {
		// Other users' tickets are invisible, not forbidden.
		return nil, &NotFoundError{Resource: "ticket", ID: string(ticketID)}
	}

	unlock := e.lockTrip(peek.TripID)
	defer unlock()

	var result CancelResult
	err = e.store.WithTx(ctx, func(s Store) error {
		ticket, err := s.GetTicket(ctx, ticketID)
		if err != nil {
			return storeErr("load ticket", err)
		}
		if ticket == nil || ticket.UserID != userID {
			return &NotFoundError{Resource: "ticket", ID: string(ticketID)}
		}
		if ticket.Status != TicketActive {
			return &PolicyError{Msg: fmt.Sprintf("ticket %s is %s", ticket.ID, ticket.Status)}
		}

		trip, err := s.GetTrip(ctx, ticket.TripID)
		if err != nil {
			return storeErr("load trip", err)
		}
		if trip == nil {
			return &NotFoundError{Resource: "trip", ID: string(ticket.TripID)}
		}
		now := e.clock.Now()
		if now.After(trip.DepartureAt) {
			return &PolicyError{Msg: fmt.Sprintf("trip %s has already departed", trip.ID)}
		}
		if trip.DepartureAt.Sub(now) < e.limits.CancelCutoff {
			return &PolicyError{
				Msg: fmt.Sprintf("trip %s departs in less than %s", trip.ID, e.limits.CancelCutoff),
			}
		}

		cancelledAt := now
		if err := s.UpdateTicketStatus(ctx, ticket.ID, TicketCancelled, &cancelledAt); err != nil {
			return storeErr("update ticket", err)
		}
		if err := e.seats.Release(ctx, s, ticket.ID); err != nil {
			return err
		}

		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return storeErr("load user", err)
		}
		if user == nil {
			return &NotFoundError{Resource: "user", ID: string(userID)}
		}
		newBalance, err := e.ledger.Credit(ctx, s, user, ticket.ID, ticket.FinalPrice, PaymentRefund, MethodCredit)
		if err != nil {
			return err
		}

		ticket.Status = TicketCancelled
		ticket.CancelledAt = &cancelledAt
		result.Ticket = ticket
		result.Refund = ticket.FinalPrice
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// Credit
// =============================================================================

// TopUpResult reports the committed outcome of a credit top-up.
type TopUpResult struct {
	Payment    Payment
	NewBalance Money
}

// TopUpCredit adds credit to the user's balance through an external payment
// method. The amount must be positive and within the configured cap.
func (e *Engine) TopUpCredit(ctx context.Context, userID UserID, amount Money, method PaymentMethod) (*TopUpResult, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "required"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Msg: "must be positive"}
	}
	if amount.GreaterThan(e.limits.MaxTopUp) {
		return nil, &ValidationError{
			Field: "amount",
			Msg:   fmt.Sprintf("must not exceed %s", e.limits.MaxTopUp),
		}
	}
	if method != MethodCreditCard && method != MethodBankTransfer {
		return nil, &ValidationError{Field: "method", Msg: "must be CreditCard or BankTransfer"}
	}

	var result TopUpResult
	err := e.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return storeErr("load user", err)
		}
		if user == nil {
			return &NotFoundError{Resource: "user", ID: string(userID)}
		}
		if !user.Active {
			return &PolicyError{Msg: fmt.Sprintf("user %s is deactivated", user.ID)}
		}
		newBalance, err := e.ledger.Credit(ctx, s, user, "", amount, PaymentTopUp, method)
		if err != nil {
			return err
		}
		payments, err := s.ListPaymentsByUser(ctx, userID)
		if err != nil {
			return storeErr("load payments", err)
		}
		if len(payments) > 0 {
			result.Payment = payments[len(payments)-1]
		}
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Balance returns the user's current credit balance.
func (e *Engine) Balance(ctx context.Context, userID UserID) (Money, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return Money{}, storeErr("load user", err)
	}
	if user == nil {
		return Money{}, &NotFoundError{Resource: "user", ID: string(userID)}
	}
	return user.CreditBalance, nil
}

// =============================================================================
// Queries
// =============================================================================

// ValidateCoupon previews a coupon for a user without consuming anything.
func (e *Engine) ValidateCoupon(ctx context.Context, userID UserID, code string) (CouponQuote, error) {
	return e.coupons.Validate(ctx, e.store, userID, code)
}

// AvailableSeats returns the derived seat map of a trip.
func (e *Engine) AvailableSeats(ctx context.Context, tripID TripID) ([]Availability, error) {
	trip, err := e.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, storeErr("load trip", err)
	}
	if trip == nil {
		return nil, &NotFoundError{Resource: "trip", ID: string(tripID)}
	}
	return SeatMap(ctx, e.store, trip)
}

// Tickets lists a user's tickets, newest first.
func (e *Engine) Tickets(ctx context.Context, userID UserID) ([]Ticket, error) {
	tickets, err := e.store.ListTicketsByUser(ctx, userID)
	if err != nil {
		return nil, storeErr("load tickets", err)
	}
	return tickets, nil
}

// Payments lists a user's payment history, oldest first.
func (e *Engine) Payments(ctx context.Context, userID UserID) ([]Payment, error) {
	payments, err := e.store.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, storeErr("load payments", err)
	}
	return payments, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// CompleteDepartedTrips marks trips whose departure time has passed the
// grace period as completed, along with their active tickets. Returns the
// number of trips swept.
func (e *Engine) CompleteDepartedTrips(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := e.clock.Now().Add(-grace)
	trips, err := e.store.ListDepartedActiveTrips(ctx, cutoff)
	if err != nil {
		return 0, storeErr("list departed trips", err)
	}
	swept := 0
	for _, trip := range trips {
		trip := trip
		unlock := e.lockTrip(trip.ID)
		err := e.store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateTripStatus(ctx, trip.ID, TripCompleted); err != nil {
				return storeErr("update trip", err)
			}
			tickets, err := s.ListActiveTicketsByTrip(ctx, trip.ID)
			if err != nil {
				return storeErr("load trip tickets", err)
			}
			for _, t := range tickets {
				if err := s.UpdateTicketStatus(ctx, t.ID, TicketCompleted, nil); err != nil {
					return storeErr("update ticket", err)
				}
			}
			return nil
		})
		unlock()
		if err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
