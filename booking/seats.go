/*
seats.go - Seat reservation and release

PURPOSE:
  The SeatAllocator verifies availability and reserves seats for a ticket,
  or fails cleanly with the exact conflicting seats. It operates on the
  Store view passed in by the caller, so reservation always happens inside
  the caller's transaction: either all requested seats are held at commit,
  or none are.

INVARIANTS:
  - A (trip, seat) pair is held by at most one active ticket
  - Reserve never partially reserves
  - Release is idempotent: releasing seats a ticket no longer holds is a
    no-op, which keeps cancellation safe to retry
*/
package booking

import (
	"context"
	"fmt"
)

// SeatAllocator reserves and releases seats for tickets.
type SeatAllocator struct {
	MaxPerBooking int
}

func NewSeatAllocator(maxPerBooking int) *SeatAllocator {
	return &SeatAllocator{MaxPerBooking: maxPerBooking}
}

// CheckRequest validates the shape of a seat request without touching state:
// non-empty, within the per-booking cap, no duplicates, one passenger name
// per seat.
func (a *SeatAllocator) CheckRequest(seatIDs []SeatID, passengerNames []string) error {
	if len(seatIDs) == 0 {
		return &ValidationError{Field: "seat_ids", Msg: "at least one seat is required"}
	}
	if a.MaxPerBooking > 0 && len(seatIDs) > a.MaxPerBooking {
		return &ValidationError{
			Field: "seat_ids",
			Msg:   fmt.Sprintf("at most %d seats per booking", a.MaxPerBooking),
		}
	}
	if len(passengerNames) != len(seatIDs) {
		return &ValidationError{
			Field: "passenger_names",
			Msg:   "number of passenger names must match number of seats",
		}
	}
	seen := make(map[SeatID]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if id == "" {
			return &ValidationError{Field: "seat_ids", Msg: "empty seat id"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "seat_ids", Msg: fmt.Sprintf("seat %s requested twice", id)}
		}
		seen[id] = struct{}{}
	}
	for _, name := range passengerNames {
		if name == "" {
			return &ValidationError{Field: "passenger_names", Msg: "empty passenger name"}
		}
	}
	return nil
}

// Reserve holds all requested seats for the ticket, or none. On conflict it
// returns a ConflictError listing exactly the seats already held by another
// active ticket. Must be called inside the purchase transaction.
func (a *SeatAllocator) Reserve(ctx context.Context, s Store, trip *Trip, ticketID TicketID, seatIDs []SeatID, passengerNames []string) error {
	// All seats must exist and belong to the bus running this trip.
	seats, err := s.GetSeats(ctx, seatIDs)
	if err != nil {
		return storeErr("load seats", err)
	}
	byID := make(map[SeatID]Seat, len(seats))
	for _, seat := range seats {
		byID[seat.ID] = seat
	}
	for _, id := range seatIDs {
		seat, ok := byID[id]
		if !ok {
			return &NotFoundError{Resource: "seat", ID: string(id)}
		}
		if seat.BusID != trip.BusID {
			return &ValidationError{
				Field: "seat_ids",
				Msg:   fmt.Sprintf("seat %s does not belong to the bus of trip %s", id, trip.ID),
			}
		}
	}

	held, err := s.HeldSeats(ctx, trip.ID)
	if err != nil {
		return storeErr("load held seats", err)
	}
	var conflicts []SeatID
	for _, id := range seatIDs {
		if _, taken := held[id]; taken {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{TripID: trip.ID, Seats: conflicts}
	}

	rows := make([]TicketSeat, len(seatIDs))
	for i, id := range seatIDs {
		rows[i] = TicketSeat{
			TicketID:      ticketID,
			TripID:        trip.ID,
			SeatID:        id,
			PassengerName: passengerNames[i],
			Active:        true,
		}
	}
	// The store's uniqueness constraint on active (trip, seat) rows is the
	// second line of defense against a racing reservation.
	if err := s.InsertTicketSeats(ctx, rows); err != nil {
		if IsConflict(err) {
			return &ConflictError{TripID: trip.ID, Seats: seatIDs}
		}
		return storeErr("insert seat holds", err)
	}
	return nil
}

// Release deactivates every hold of the ticket. Idempotent.
func (a *SeatAllocator) Release(ctx context.Context, s Store, ticketID TicketID) error {
	if _, err := s.ReleaseTicketSeats(ctx, ticketID); err != nil {
		return storeErr("release seat holds", err)
	}
	return nil
}

// Availability describes one seat of a trip's bus in the derived seat map.
type Availability struct {
	Seat  Seat
	Taken bool
}

// SeatMap computes the derived availability of every seat on the trip's bus.
func SeatMap(ctx context.Context, s Store, trip *Trip) ([]Availability, error) {
	seats, err := s.SeatsByBus(ctx, trip.BusID)
	if err != nil {
		return nil, storeErr("load bus seats", err)
	}
	held, err := s.HeldSeats(ctx, trip.ID)
	if err != nil {
		return nil, storeErr("load held seats", err)
	}
	out := make([]Availability, len(seats))
	for i, seat := range seats {
		_, taken := held[seat.ID]
		out[i] = Availability{Seat: seat, Taken: taken}
	}
	return out, nil
}
