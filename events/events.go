/*
Package events defines the booking event payloads and publishers.

PURPOSE:
  Downstream consumers (notifications, analytics) learn about committed
  bookings through queue messages. Events carry enough to act on without
  querying the primary database.

DELIVERY:
  Events are published after the store transaction commits. A publish
  failure is logged and returned but never rolls a booking back: the store
  is the source of truth, the queue is a best-effort projection.
*/
package events

import "context"

// TicketPurchased is published when a purchase commits.
type TicketPurchased struct {
	TicketID       string   `json:"ticket_id"`
	UserID         string   `json:"user_id"`
	TripID         string   `json:"trip_id"`
	DepartureCity  string   `json:"departure_city"`
	ArrivalCity    string   `json:"arrival_city"`
	DepartureAt    string   `json:"departure_at"`
	SeatNumbers    []string `json:"seats"`
	TotalPrice     string   `json:"total_price"`
	Discount       string   `json:"discount"`
	FinalPrice     string   `json:"final_price"`
	CouponCode     string   `json:"coupon_code,omitempty"`
	PurchasedAt    string   `json:"purchased_at"`
}

// TicketCancelled is published when a cancellation commits.
type TicketCancelled struct {
	TicketID    string `json:"ticket_id"`
	UserID      string `json:"user_id"`
	TripID      string `json:"trip_id"`
	Refund      string `json:"refund"`
	CancelledAt string `json:"cancelled_at"`
}

// Queue names, also used as routing keys on the default exchange.
const (
	QueueTicketPurchased = "ticket.purchased"
	QueueTicketCancelled = "ticket.cancelled"
)

// Publisher delivers booking events to a broker.
type Publisher interface {
	PublishTicketPurchased(ctx context.Context, event TicketPurchased) error
	PublishTicketCancelled(ctx context.Context, event TicketCancelled) error
}

// Nop discards every event. Used in tests and when no broker is configured.
type Nop struct{}

func (Nop) PublishTicketPurchased(context.Context, TicketPurchased) error { return nil }
func (Nop) PublishTicketCancelled(context.Context, TicketCancelled) error { return nil }
