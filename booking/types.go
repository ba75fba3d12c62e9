/*
Package booking provides the core booking transaction engine.

PURPOSE:
  This package contains the domain types and algorithms that turn a seat
  purchase or cancellation into a coordinated, all-or-nothing set of state
  changes across seat inventory, coupon usage, and a user's credit ledger.
  HTTP routing, authentication, and storage engines live elsewhere; the
  engine works against an injected transactional Store and Clock.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point currency amount (decimal, never float)
  - User/Trip/Seat/Coupon/Ticket/Payment: The persisted entities
  - Typed IDs: Prevent mixing a TripID with a TicketID at compile time
  - Clock: Injectable time source for expiry and cutoff checks

DESIGN PRINCIPLES:
  1. Atomicity: Every top-level operation is one unit of work; partial
     commits never survive a failure
  2. Precision: Uses decimal.Decimal to avoid floating-point drift
  3. Derived state: Seat availability is computed from active ticket-seat
     links, never stored as a counter that can go stale
  4. Auditability: Every balance change has exactly one Payment row

SEE ALSO:
  - engine.go: PurchaseTicket / CancelTicket orchestration
  - seats.go:  Seat reservation and release
  - ledger.go: Credit debits, refunds, and top-ups
  - coupon.go: Coupon validation and redemption
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amount
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money       { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money  { return Money{Value: decimal.NewFromInt(value)} }
func ZeroMoney() Money                   { return Money{Value: decimal.Zero} }

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney()
	}
	return Money{Value: d}
}

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) MulInt(n int) Money         { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) String() string             { return m.Value.StringFixed(2) }

// ApplyRate returns the portion of m given by a percentage rate in [0, 100],
// rounded to two decimal places.
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type BusID string
type SeatID string
type TripID string
type TicketID string
type CouponID string
type PaymentID string

// =============================================================================
// ENTITIES
// =============================================================================

// User owns a prepaid credit balance. The balance is mutated only through
// CreditLedger operations and never goes negative.
type User struct {
	ID            UserID
	Name          string
	Email         string
	CreditBalance Money
	Active        bool
	CreatedAt     time.Time
}

// Bus is a physical vehicle. Its seats are reusable across every trip it runs.
type Bus struct {
	ID        BusID
	Plate     string
	Company   string
	SeatCount int
}

/// Seat is a physical position on a bus. It carries no booked flag: whether a
// seat is taken is derived per trip from active ticket-seat links.
type Seat struct {
	ID     SeatID
	BusID  BusID
	Row    int
	Column int
	Number string
}

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Trip is one scheduled departure of a bus between two cities.
// Available seats always equal the bus's seat count minus the seats held by
// non-cancelled tickets; that count is computed, never stored.
type Trip struct {
	ID            TripID
	BusID         BusID
	DepartureCity string
	ArrivalCity   string
	DepartureAt   time.Time
	ArrivalAt     time.Time
	Price         Money
	Status        TripStatus
}

// Coupon is a discount code with an expiry date and a global usage limit.
type Coupon struct {
	ID           CouponID
	Code         string
	DiscountRate decimal.Decimal // percentage in [0, 100]
	UsageLimit   int
	UsageCount   int
	ExpiresAt    time.Time
	Active       bool
	Description  string
}

// CouponGrant allocates a coupon to one user for a single redemption.
// A coupon is usable by a user only if a grant exists and is unused.
type CouponGrant struct {
	ID           string
	UserID       UserID
	CouponID     CouponID
	Used         bool
	UsedTicketID TicketID // set when Used, for idempotent retries
}

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketCancelled TicketStatus = "cancelled"
	TicketCompleted TicketStatus = "completed"
)

/// Ticket is one purchase transaction: one user, one trip, one or more seats.
type Ticket struct {
	ID          TicketID
	UserID      UserID
	TripID      TripID
	Status      TicketStatus
	TotalPrice  Money
	Discount    Money
	FinalPrice  Money
	CouponCode  string
	PurchasedAt time.Time
	CancelledAt *time.Time
}

// TicketSeat links a ticket to one seat with the passenger travelling on it.
// Active rows hold the seat for the trip; cancellation flips Active off.
type TicketSeat struct {
	TicketID      TicketID
	TripID        TripID
	SeatID        SeatID
	PassengerName string
	Active        bool
}

// =============================================================================
// PAYMENT - Append-only ledger entry
// =============================================================================

type PaymentType string

const (
	PaymentPurchase PaymentType = "purchase"
	PaymentRefund   PaymentType = "refund"
	PaymentTopUp    PaymentType = "topup"
)

type PaymentMethod string

const (
	MethodCredit       PaymentMethod = "Credit"
	MethodCreditCard   PaymentMethod = "CreditCard"
	MethodBankTransfer PaymentMethod = "BankTransfer"
)

// Payment records one balance-affecting event. Rows are append-only: never
// updated, never deleted. Amount is always positive; Type carries direction.
type Payment struct {
	ID        PaymentID
	UserID    UserID
	TicketID  TicketID // empty for top-ups
	Amount    Money
	Type      PaymentType
	Method    PaymentMethod
	CreatedAt time.Time
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock abstracts the current time so expiry and cancellation-cutoff checks
// are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the real wall clock (UTC).
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
