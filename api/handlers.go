/*
handlers.go - HTTP API handlers for the booking system

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Tickets:
    POST   /api/tickets               Purchase a ticket
    POST   /api/tickets/{id}/cancel   Cancel a ticket
    GET    /api/tickets/{id}          Get ticket details

  Users:
    POST   /api/users                 Create user
    GET    /api/users/{id}/balance    Get credit balance
    POST   /api/users/{id}/topup      Add credit
    GET    /api/users/{id}/payments   Payment history
    GET    /api/users/{id}/tickets    Ticket history

  Trips:
    POST   /api/trips                 Schedule a trip
    GET    /api/trips/{id}/seats      Seat map with availability

  Coupons:
    POST   /api/coupons               Create coupon
    POST   /api/coupons/grants        Grant a coupon to a user
    GET    /api/coupons/validate      Preview a coupon for a user

  Fleet:
    POST   /api/buses                 Register a bus with its seat grid

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:  Database access (interface, so tests inject the memory store)
  - Engine: Booking operations
  - Events: Queue publisher for committed bookings

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP status:
  - 400: Validation errors, coupon rejections
  - 402: Insufficient credit
  - 404: Resource not found
  - 409: Seat conflicts, policy refusals
  - 500: Storage and internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - sweeper.go: Background trip completion
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/events"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  booking.TxStore
	Engine *booking.Engine
	Events events.Publisher
}

// NewHandler creates a new handler. A nil publisher disables events.
func NewHandler(store booking.TxStore, engine *booking.Engine, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{Store: store, Engine: engine, Events: pub}
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// PurchaseTicket books seats on a trip.
// POST /api/tickets
func (h *Handler) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	seatIDs := make([]booking.SeatID, len(req.SeatIDs))
	for i, id := range req.SeatIDs {
		seatIDs[i] = booking.SeatID(id)
	}
	result, err := h.Engine.PurchaseTicket(r.Context(), booking.PurchaseRequest{
		UserID:         booking.UserID(req.UserID),
		TripID:         booking.TripID(req.TripID),
		SeatIDs:        seatIDs,
		PassengerNames: req.PassengerNames,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Best effort: a publish failure never undoes a committed booking.
	_ = h.Events.PublishTicketPurchased(r.Context(), h.purchasedEvent(r, result.Ticket))

	writeJSON(w, http.StatusCreated, PurchaseResponseDTO{
		Ticket:     toTicketDTO(*result.Ticket),
		NewBalance: result.NewBalance.String(),
	})
}

// CancelTicket voids a ticket and refunds the fare.
// POST /api/tickets/{id}/cancel
func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := booking.TicketID(chi.URLParam(r, "id"))

	var req CancelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.CancelTicket(r.Context(), booking.UserID(req.UserID), ticketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = h.Events.PublishTicketCancelled(r.Context(), events.TicketCancelled{
		TicketID:    string(result.Ticket.ID),
		UserID:      string(result.Ticket.UserID),
		TripID:      string(result.Ticket.TripID),
		Refund:      result.Refund.String(),
		CancelledAt: result.Ticket.CancelledAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, CancelResponseDTO{
		Ticket:     toTicketDTO(*result.Ticket),
		Refund:     result.Refund.String(),
		NewBalance: result.NewBalance.String(),
	})
}

// GetTicket returns a single ticket.
// GET /api/tickets/{id}
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := booking.TicketID(chi.URLParam(r, "id"))

	ticket, err := h.Store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ticket", err)
		return
	}
	if ticket == nil {
		writeError(w, http.StatusNotFound, "Ticket not found", nil)
		return
	}
	seats, err := h.Store.TicketSeats(r.Context(), ticket.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ticket seats", err)
		return
	}
	writeJSON(w, http.StatusOK, withSeats(toTicketDTO(*ticket), seats))
}

func (h *Handler) purchasedEvent(r *http.Request, t *booking.Ticket) events.TicketPurchased {
	ev := events.TicketPurchased{
		TicketID:    string(t.ID),
		UserID:      string(t.UserID),
		TripID:      string(t.TripID),
		TotalPrice:  t.TotalPrice.String(),
		Discount:    t.Discount.String(),
		FinalPrice:  t.FinalPrice.String(),
		CouponCode:  t.CouponCode,
		PurchasedAt: t.PurchasedAt.Format(time.RFC3339),
	}
	if trip, err := h.Store.GetTrip(r.Context(), t.TripID); err == nil && trip != nil {
		ev.DepartureCity = trip.DepartureCity
		ev.ArrivalCity = trip.ArrivalCity
		ev.DepartureAt = trip.DepartureAt.Format(time.RFC3339)
	}
	if seats, err := h.Store.TicketSeats(r.Context(), t.ID); err == nil {
		for _, ts := range seats {
			ev.SeatNumbers = append(ev.SeatNumbers, string(ts.SeatID))
		}
	}
	return ev
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser provisions a user account with a zero balance.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	user := booking.User{
		ID:            booking.UserID(req.ID),
		Name:          req.Name,
		Email:         req.Email,
		CreditBalance: booking.ZeroMoney(),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetBalance returns a user's credit balance.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := booking.UserID(chi.URLParam(r, "id"))

	balance, err := h.Engine.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance.String()})
}

// TopUpCredit adds credit to a user's balance.
// POST /api/users/{id}/topup
func (h *Handler) TopUpCredit(w http.ResponseWriter, r *http.Request) {
	id := booking.UserID(chi.URLParam(r, "id"))

	var req TopUpRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := booking.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	result, err := h.Engine.TopUpCredit(r.Context(), id, amount, booking.PaymentMethod(req.Method))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: result.NewBalance.String()})
}

// ListPayments returns a user's payment history.
// GET /api/users/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := booking.UserID(chi.URLParam(r, "id"))

	payments, err := h.Engine.Payments(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// ListTickets returns a user's tickets, newest first.
// GET /api/users/{id}/tickets
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	id := booking.UserID(chi.URLParam(r, "id"))

	tickets, err := h.Engine.Tickets(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TicketDTO, len(tickets))
	for i, t := range tickets {
		seats, err := h.Store.TicketSeats(r.Context(), t.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get ticket seats", err)
			return
		}
		dtos[i] = withSeats(toTicketDTO(t), seats)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRIP HANDLERS
// =============================================================================

// CreateTrip schedules a trip on a bus.
// POST /api/trips
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	departureAt, err := time.Parse(time.RFC3339, req.DepartureAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid departure_at", err)
		return
	}
	arrivalAt, err := time.Parse(time.RFC3339, req.ArrivalAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid arrival_at", err)
		return
	}
	price, err := booking.ParseMoney(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	trip := booking.Trip{
		ID:            booking.TripID(req.ID),
		BusID:         booking.BusID(req.BusID),
		DepartureCity: req.DepartureCity,
		ArrivalCity:   req.ArrivalCity,
		DepartureAt:   departureAt,
		ArrivalAt:     arrivalAt,
		Price:         price,
		Status:        booking.TripActive,
	}
	if err := h.Store.SaveTrip(r.Context(), trip); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create trip", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetTripSeats returns the seat map of a trip with availability.
// GET /api/trips/{id}/seats
func (h *Handler) GetTripSeats(w http.ResponseWriter, r *http.Request) {
	id := booking.TripID(chi.URLParam(r, "id"))

	seats, err := h.Engine.AvailableSeats(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeatDTOs(seats))
}

// =============================================================================
// FLEET HANDLERS
// =============================================================================

// CreateBus registers a bus and generates its seat grid, numbered 1A, 1B, ...
// by row and column.
// POST /api/buses
func (h *Handler) CreateBus(w http.ResponseWriter, r *http.Request) {
	var req CreateBusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Rows <= 0 || req.SeatsPerRow <= 0 || req.SeatsPerRow > 26 {
		writeError(w, http.StatusBadRequest, "rows and seats_per_row must be positive (max 26 per row)", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	bus := booking.Bus{
		ID:        booking.BusID(req.ID),
		Plate:     req.Plate,
		Company:   req.Company,
		SeatCount: req.Rows * req.SeatsPerRow,
	}
	if err := h.Store.SaveBus(r.Context(), bus); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create bus", err)
		return
	}
	for row := 1; row <= req.Rows; row++ {
		for col := 1; col <= req.SeatsPerRow; col++ {
			seat := booking.Seat{
				ID:     booking.SeatID(uuid.NewString()),
				BusID:  bus.ID,
				Row:    row,
				Column: col,
				Number: fmt.Sprintf("%d%c", row, 'A'+col-1),
			}
			if err := h.Store.SaveSeat(r.Context(), seat); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to create seat", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// =============================================================================
// COUPON HANDLERS
// =============================================================================

// CreateCoupon provisions a coupon.
// POST /api/coupons
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := decimal.NewFromString(req.DiscountRate)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		writeError(w, http.StatusBadRequest, "discount_rate must be a percentage in [0, 100]", err)
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expires_at", err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	coupon := booking.Coupon{
		ID:           booking.CouponID(req.ID),
		Code:         req.Code,
		DiscountRate: rate,
		UsageLimit:   req.UsageLimit,
		ExpiresAt:    expiresAt,
		Active:       true,
		Description:  req.Description,
	}
	if err := h.Store.SaveCoupon(r.Context(), coupon); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create coupon", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GrantCoupon allocates a coupon to a user for one redemption.
// POST /api/coupons/grants
func (h *Handler) GrantCoupon(w http.ResponseWriter, r *http.Request) {
	var req GrantCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	coupon, err := h.Store.GetCouponByCode(r.Context(), req.CouponCode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load coupon", err)
		return
	}
	if coupon == nil {
		writeError(w, http.StatusNotFound, "Coupon not found", nil)
		return
	}

	grant := booking.CouponGrant{
		ID:       uuid.NewString(),
		UserID:   booking.UserID(req.UserID),
		CouponID: coupon.ID,
	}
	if err := h.Store.SaveGrant(r.Context(), grant); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to grant coupon", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": grant.ID})
}

// ValidateCoupon previews a coupon for a user without consuming it.
// GET /api/coupons/validate?user_id=...&code=...
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	userID := booking.UserID(r.URL.Query().Get("user_id"))
	code := r.URL.Query().Get("code")

	quote, err := h.Engine.ValidateCoupon(r.Context(), userID, code)
	if err != nil {
		if booking.IsCoupon(err) {
			writeJSON(w, http.StatusOK, CouponQuoteDTO{Code: code, Valid: false})
			return
		}
		writeDomainError(w, err)
		return
	}
	dto := CouponQuoteDTO{Code: code, Valid: quote.Applied}
	if quote.Applied {
		dto.DiscountRate = quote.Coupon.DiscountRate.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case booking.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case booking.IsCoupon(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case booking.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case booking.IsConflict(err):
		resp := ErrorResponse{Error: err.Error(), Code: "seat_conflict"}
		var conflict *booking.ConflictError
		if booking.AsConflict(err, &conflict) {
			resp.Details = map[string]any{"trip_id": conflict.TripID, "seats": conflict.Seats}
		}
		writeJSON(w, http.StatusConflict, resp)
	case booking.IsInsufficientFunds(err):
		writeError(w, http.StatusPaymentRequired, err.Error(), nil)
	case booking.IsPolicy(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
