/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/engine.go: Domain operations the handlers delegate to
*/
package api

import (
	"time"

	"github.com/roadline/booking-engine/booking"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PurchaseRequestDTO is the request to purchase a ticket.
type PurchaseRequestDTO struct {
	UserID         string   `json:"user_id"`
	TripID         string   `json:"trip_id"`
	SeatIDs        []string `json:"seat_ids"`
	PassengerNames []string `json:"passenger_names"`
	CouponCode     string   `json:"coupon_code,omitempty"`
}

// TicketDTO represents a ticket in API responses.
type TicketDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TripID      string `json:"trip_id"`
	Status      string `json:"status"`
	TotalPrice  string `json:"total_price"`
	Discount    string `json:"discount"`
	FinalPrice  string `json:"final_price"`
	CouponCode  string `json:"coupon_code,omitempty"`
	PurchasedAt string `json:"purchased_at"`
	CancelledAt string `json:"cancelled_at,omitempty"`

	Seats []TicketSeatDTO `json:"seats,omitempty"`
}

// TicketSeatDTO is one seat on a ticket with its passenger.
type TicketSeatDTO struct {
	SeatID        string `json:"seat_id"`
	PassengerName string `json:"passenger_name"`
}

// PurchaseResponseDTO is the response after a successful purchase.
type PurchaseResponseDTO struct {
	Ticket     TicketDTO `json:"ticket"`
	NewBalance string    `json:"new_balance"`
}

// CancelRequestDTO is the request to cancel a ticket.
type CancelRequestDTO struct {
	UserID string `json:"user_id"`
}

// CancelResponseDTO is the response after a successful cancellation.
type CancelResponseDTO struct {
	Ticket     TicketDTO `json:"ticket"`
	Refund     string    `json:"refund"`
	NewBalance string    `json:"new_balance"`
}

// TopUpRequestDTO is the request to add credit to an account.
type TopUpRequestDTO struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
}

// BalanceDTO represents a user's credit balance.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// PaymentDTO represents one ledger entry.
type PaymentDTO struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id,omitempty"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	Method    string `json:"method"`
	CreatedAt string `json:"created_at"`
}

// SeatDTO represents one seat of a trip's seat map.
type SeatDTO struct {
	ID     string `json:"id"`
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Number string `json:"number"`
	Taken  bool   `json:"taken"`
}

// CouponQuoteDTO is the response of a coupon preview.
type CouponQuoteDTO struct {
	Code         string `json:"code"`
	Valid        bool   `json:"valid"`
	DiscountRate string `json:"discount_rate,omitempty"`
}

// CreateUserRequest provisions a user account.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateBusRequest provisions a bus with a seat grid.
type CreateBusRequest struct {
	ID          string `json:"id"`
	Plate       string `json:"plate"`
	Company     string `json:"company"`
	Rows        int    `json:"rows"`
	SeatsPerRow int    `json:"seats_per_row"`
}

// CreateTripRequest schedules a trip.
type CreateTripRequest struct {
	ID            string `json:"id"`
	BusID         string `json:"bus_id"`
	DepartureCity string `json:"departure_city"`
	ArrivalCity   string `json:"arrival_city"`
	DepartureAt   string `json:"departure_at"` // RFC 3339
	ArrivalAt     string `json:"arrival_at"`
	Price         string `json:"price"`
}

// CreateCouponRequest provisions a coupon.
type CreateCouponRequest struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	DiscountRate string `json:"discount_rate"`
	UsageLimit   int    `json:"usage_limit"`
	ExpiresAt    string `json:"expires_at"` // RFC 3339
	Description  string `json:"description,omitempty"`
}

// GrantCouponRequest allocates a coupon to a user.
type GrantCouponRequest struct {
	UserID     string `json:"user_id"`
	CouponCode string `json:"coupon_code"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTicketDTO(t booking.Ticket) TicketDTO {
	dto := TicketDTO{
		ID:          string(t.ID),
		UserID:      string(t.UserID),
		TripID:      string(t.TripID),
		Status:      string(t.Status),
		TotalPrice:  t.TotalPrice.String(),
		Discount:    t.Discount.String(),
		FinalPrice:  t.FinalPrice.String(),
		CouponCode:  t.CouponCode,
		PurchasedAt: t.PurchasedAt.Format(time.RFC3339),
	}
	if t.CancelledAt != nil {
		dto.CancelledAt = t.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

func withSeats(dto TicketDTO, seats []booking.TicketSeat) TicketDTO {
	for _, ts := range seats {
		dto.Seats = append(dto.Seats, TicketSeatDTO{
			SeatID:        string(ts.SeatID),
			PassengerName: ts.PassengerName,
		})
	}
	return dto
}

func toPaymentDTOs(payments []booking.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{
			ID:        string(p.ID),
			TicketID:  string(p.TicketID),
			Amount:    p.Amount.String(),
			Type:      string(p.Type),
			Method:    string(p.Method),
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toSeatDTOs(seats []booking.Availability) []SeatDTO {
	dtos := make([]SeatDTO, len(seats))
	for i, a := range seats {
		dtos[i] = SeatDTO{
			ID:     string(a.Seat.ID),
			Row:    a.Seat.Row,
			Column: a.Seat.Column,
			Number: a.Seat.Number,
			Taken:  a.Taken,
		}
	}
	return dtos
}
