// Package store provides booking.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roadline/booking-engine/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	users       map[booking.UserID]booking.User
	buses       map[booking.BusID]booking.Bus
	seats       map[booking.SeatID]booking.Seat
	trips       map[booking.TripID]booking.Trip
	tickets     map[booking.TicketID]booking.Ticket
	ticketSeats []booking.TicketSeat
	coupons     map[booking.CouponID]booking.Coupon
	grants      map[grantKey]booking.CouponGrant
	payments    []booking.Payment
}

type grantKey struct {
	UserID   booking.UserID
	CouponID booking.CouponID
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[booking.UserID]booking.User),
		buses:   make(map[booking.BusID]booking.Bus),
		seats:   make(map[booking.SeatID]booking.Seat),
		trips:   make(map[booking.TripID]booking.Trip),
		tickets: make(map[booking.TicketID]booking.Ticket),
		coupons: make(map[booking.CouponID]booking.Coupon),
		grants:  make(map[grantKey]booking.CouponGrant),
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id booking.UserID) (*booking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id), nil
}

func (m *Memory) getUserLocked(id booking.UserID) *booking.User {
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (m *Memory) SaveUser(_ context.Context, u booking.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) UpdateUserBalance(_ context.Context, id booking.UserID, balance booking.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUserBalanceLocked(id, balance)
}

func (m *Memory) updateUserBalanceLocked(id booking.UserID, balance booking.Money) error {
	u, ok := m.users[id]
	if !ok {
		return booking.ErrNotFound
	}
	u.CreditBalance = balance
	m.users[id] = u
	return nil
}

// =============================================================================
// FLEET
// =============================================================================

func (m *Memory) SaveBus(_ context.Context, b booking.Bus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buses[b.ID] = b
	return nil
}

func (m *Memory) SaveSeat(_ context.Context, s booking.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats[s.ID] = s
	return nil
}

func (m *Memory) GetSeats(_ context.Context, ids []booking.SeatID) ([]booking.Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSeatsLocked(ids), nil
}

func (m *Memory) getSeatsLocked(ids []booking.SeatID) []booking.Seat {
	var out []booking.Seat
	for _, id := range ids {
		if s, ok := m.seats[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Memory) SeatsByBus(_ context.Context, busID booking.BusID) ([]booking.Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seatsByBusLocked(busID), nil
}

func (m *Memory) seatsByBusLocked(busID booking.BusID) []booking.Seat {
	var out []booking.Seat
	for _, s := range m.seats {
		if s.BusID == busID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// =============================================================================
// TRIPS
// =============================================================================

func (m *Memory) GetTrip(_ context.Context, id booking.TripID) (*booking.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTripLocked(id), nil
}

func (m *Memory) getTripLocked(id booking.TripID) *booking.Trip {
	t, ok := m.trips[id]
	if !ok {
		return nil
	}
	return &t
}

func (m *Memory) SaveTrip(_ context.Context, t booking.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = t
	return nil
}

func (m *Memory) UpdateTripStatus(_ context.Context, id booking.TripID, status booking.TripStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTripStatusLocked(id, status)
}

func (m *Memory) updateTripStatusLocked(id booking.TripID, status booking.TripStatus) error {
	t, ok := m.trips[id]
	if !ok {
		return booking.ErrNotFound
	}
	t.Status = status
	m.trips[id] = t
	return nil
}

func (m *Memory) ListDepartedActiveTrips(_ context.Context, cutoff time.Time) ([]booking.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDepartedActiveTripsLocked(cutoff), nil
}

func (m *Memory) listDepartedActiveTripsLocked(cutoff time.Time) []booking.Trip {
	var out []booking.Trip
	for _, t := range m.trips {
		if t.Status == booking.TripActive && !t.DepartureAt.After(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out
}

// =============================================================================
// SEAT HOLDS
// =============================================================================

func (m *Memory) HeldSeats(_ context.Context, tripID booking.TripID) (map[booking.SeatID]booking.TicketID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heldSeatsLocked(tripID), nil
}

func (m *Memory) heldSeatsLocked(tripID booking.TripID) map[booking.SeatID]booking.TicketID {
	held := make(map[booking.SeatID]booking.TicketID)
	for _, ts := range m.ticketSeats {
		if ts.Active && ts.TripID == tripID {
			held[ts.SeatID] = ts.TicketID
		}
	}
	return held
}

func (m *Memory) InsertTicketSeats(_ context.Context, seats []booking.TicketSeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTicketSeatsLocked(seats)
}

func (m *Memory) insertTicketSeatsLocked(seats []booking.TicketSeat) error {
	for _, ns := range seats {
		for _, ts := range m.ticketSeats {
			if ts.Active && ts.TripID == ns.TripID && ts.SeatID == ns.SeatID {
				return &booking.ConflictError{TripID: ns.TripID, Seats: []booking.SeatID{ns.SeatID}}
			}
		}
	}
	m.ticketSeats = append(m.ticketSeats, seats...)
	return nil
}

func (m *Memory) ReleaseTicketSeats(_ context.Context, ticketID booking.TicketID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseTicketSeatsLocked(ticketID), nil
}

func (m *Memory) releaseTicketSeatsLocked(ticketID booking.TicketID) int {
	n := 0
	for i, ts := range m.ticketSeats {
		if ts.Active && ts.TicketID == ticketID {
			m.ticketSeats[i].Active = false
			n++
		}
	}
	return n
}

func (m *Memory) TicketSeats(_ context.Context, ticketID booking.TicketID) ([]booking.TicketSeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticketSeatsLocked(ticketID), nil
}

func (m *Memory) ticketSeatsLocked(ticketID booking.TicketID) []booking.TicketSeat {
	var out []booking.TicketSeat
	for _, ts := range m.ticketSeats {
		if ts.TicketID == ticketID {
			out = append(out, ts)
		}
	}
	return out
}

// =============================================================================
// COUPONS
// =============================================================================

func (m *Memory) GetCouponByCode(_ context.Context, code string) (*booking.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCouponByCodeLocked(code), nil
}

func (m *Memory) getCouponByCodeLocked(code string) *booking.Coupon {
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			c := c
			return &c
		}
	}
	return nil
}

func (m *Memory) SaveCoupon(_ context.Context, c booking.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = c
	return nil
}

func (m *Memory) IncrementCouponUsage(_ context.Context, id booking.CouponID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementCouponUsageLocked(id), nil
}

func (m *Memory) incrementCouponUsageLocked(id booking.CouponID) bool {
	c, ok := m.coupons[id]
	if !ok {
		return false
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return false
	}
	c.UsageCount++
	m.coupons[id] = c
	return true
}

func (m *Memory) GetGrant(_ context.Context, userID booking.UserID, couponID booking.CouponID) (*booking.CouponGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGrantLocked(userID, couponID), nil
}

func (m *Memory) getGrantLocked(userID booking.UserID, couponID booking.CouponID) *booking.CouponGrant {
	g, ok := m.grants[grantKey{UserID: userID, CouponID: couponID}]
	if !ok {
		return nil
	}
	return &g
}

func (m *Memory) SaveGrant(_ context.Context, g booking.CouponGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grantKey{UserID: g.UserID, CouponID: g.CouponID}] = g
	return nil
}

func (m *Memory) MarkGrantUsed(_ context.Context, userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markGrantUsedLocked(userID, couponID, ticketID), nil
}

func (m *Memory) markGrantUsedLocked(userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) bool {
	k := grantKey{UserID: userID, CouponID: couponID}
	g, ok := m.grants[k]
	if !ok || g.Used {
		return false
	}
	g.Used = true
	g.UsedTicketID = ticketID
	m.grants[k] = g
	return true
}

// =============================================================================
// TICKETS
// =============================================================================

func (m *Memory) CreateTicket(_ context.Context, t booking.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
	return nil
}

func (m *Memory) GetTicket(_ context.Context, id booking.TicketID) (*booking.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTicketLocked(id), nil
}

func (m *Memory) getTicketLocked(id booking.TicketID) *booking.Ticket {
	t, ok := m.tickets[id]
	if !ok {
		return nil
	}
	return &t
}

func (m *Memory) UpdateTicketStatus(_ context.Context, id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTicketStatusLocked(id, status, cancelledAt)
}

func (m *Memory) updateTicketStatusLocked(id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	t, ok := m.tickets[id]
	if !ok {
		return booking.ErrNotFound
	}
	t.Status = status
	if cancelledAt != nil {
		at := *cancelledAt
		t.CancelledAt = &at
	}
	m.tickets[id] = t
	return nil
}

func (m *Memory) ListTicketsByUser(_ context.Context, userID booking.UserID) ([]booking.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTicketsByUserLocked(userID), nil
}

func (m *Memory) listTicketsByUserLocked(userID booking.UserID) []booking.Ticket {
	var out []booking.Ticket
	for _, t := range m.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out
}

func (m *Memory) ListActiveTicketsByTrip(_ context.Context, tripID booking.TripID) ([]booking.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActiveTicketsByTripLocked(tripID), nil
}

func (m *Memory) listActiveTicketsByTripLocked(tripID booking.TripID) []booking.Ticket {
	var out []booking.Ticket
	for _, t := range m.tickets {
		if t.TripID == tripID && t.Status == booking.TicketActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.Before(out[j].PurchasedAt) })
	return out
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p booking.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) ListPaymentsByUser(_ context.Context, userID booking.UserID) ([]booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsByUserLocked(userID), nil
}

func (m *Memory) listPaymentsByUserLocked(userID booking.UserID) []booking.Payment {
	var out []booking.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(booking.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users       map[booking.UserID]booking.User
	buses       map[booking.BusID]booking.Bus
	seats       map[booking.SeatID]booking.Seat
	trips       map[booking.TripID]booking.Trip
	tickets     map[booking.TicketID]booking.Ticket
	ticketSeats []booking.TicketSeat
	coupons     map[booking.CouponID]booking.Coupon
	grants      map[grantKey]booking.CouponGrant
	payments    []booking.Payment
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:       make(map[booking.UserID]booking.User, len(tm.users)),
		buses:       make(map[booking.BusID]booking.Bus, len(tm.buses)),
		seats:       make(map[booking.SeatID]booking.Seat, len(tm.seats)),
		trips:       make(map[booking.TripID]booking.Trip, len(tm.trips)),
		tickets:     make(map[booking.TicketID]booking.Ticket, len(tm.tickets)),
		ticketSeats: append([]booking.TicketSeat{}, tm.ticketSeats...),
		coupons:     make(map[booking.CouponID]booking.Coupon, len(tm.coupons)),
		grants:      make(map[grantKey]booking.CouponGrant, len(tm.grants)),
		payments:    append([]booking.Payment{}, tm.payments...),
	}
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.buses {
		s.buses[k] = v
	}
	for k, v := range tm.seats {
		s.seats[k] = v
	}
	for k, v := range tm.trips {
		s.trips[k] = v
	}
	for k, v := range tm.tickets {
		s.tickets[k] = v
	}
	for k, v := range tm.coupons {
		s.coupons[k] = v
	}
	for k, v := range tm.grants {
		s.grants[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.buses = s.buses
	tm.seats = s.seats
	tm.trips = s.trips
	tm.tickets = s.tickets
	tm.ticketSeats = s.ticketSeats
	tm.coupons = s.coupons
	tm.grants = s.grants
	tm.payments = s.payments
}

// txMemoryView delegates to the parent without re-locking; the parent's
// mutex is held for the whole transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetUser(_ context.Context, id booking.UserID) (*booking.User, error) {
	return tv.parent.getUserLocked(id), nil
}

func (tv *txMemoryView) SaveUser(_ context.Context, u booking.User) error {
	tv.parent.users[u.ID] = u
	return nil
}

func (tv *txMemoryView) UpdateUserBalance(_ context.Context, id booking.UserID, balance booking.Money) error {
	return tv.parent.updateUserBalanceLocked(id, balance)
}

func (tv *txMemoryView) SaveBus(_ context.Context, b booking.Bus) error {
	tv.parent.buses[b.ID] = b
	return nil
}

func (tv *txMemoryView) SaveSeat(_ context.Context, s booking.Seat) error {
	tv.parent.seats[s.ID] = s
	return nil
}

func (tv *txMemoryView) GetSeats(_ context.Context, ids []booking.SeatID) ([]booking.Seat, error) {
	return tv.parent.getSeatsLocked(ids), nil
}

func (tv *txMemoryView) SeatsByBus(_ context.Context, busID booking.BusID) ([]booking.Seat, error) {
	return tv.parent.seatsByBusLocked(busID), nil
}

func (tv *txMemoryView) GetTrip(_ context.Context, id booking.TripID) (*booking.Trip, error) {
	return tv.parent.getTripLocked(id), nil
}

func (tv *txMemoryView) SaveTrip(_ context.Context, t booking.Trip) error {
	tv.parent.trips[t.ID] = t
	return nil
}

func (tv *txMemoryView) UpdateTripStatus(_ context.Context, id booking.TripID, status booking.TripStatus) error {
	return tv.parent.updateTripStatusLocked(id, status)
}

func (tv *txMemoryView) ListDepartedActiveTrips(_ context.Context, cutoff time.Time) ([]booking.Trip, error) {
	return tv.parent.listDepartedActiveTripsLocked(cutoff), nil
}

func (tv *txMemoryView) HeldSeats(_ context.Context, tripID booking.TripID) (map[booking.SeatID]booking.TicketID, error) {
	return tv.parent.heldSeatsLocked(tripID), nil
}

func (tv *txMemoryView) InsertTicketSeats(_ context.Context, seats []booking.TicketSeat) error {
	return tv.parent.insertTicketSeatsLocked(seats)
}

func (tv *txMemoryView) ReleaseTicketSeats(_ context.Context, ticketID booking.TicketID) (int, error) {
	return tv.parent.releaseTicketSeatsLocked(ticketID), nil
}

func (tv *txMemoryView) TicketSeats(_ context.Context, ticketID booking.TicketID) ([]booking.TicketSeat, error) {
	return tv.parent.ticketSeatsLocked(ticketID), nil
}

func (tv *txMemoryView) GetCouponByCode(_ context.Context, code string) (*booking.Coupon, error) {
	return tv.parent.getCouponByCodeLocked(code), nil
}

func (tv *txMemoryView) SaveCoupon(_ context.Context, c booking.Coupon) error {
	tv.parent.coupons[c.ID] = c
	return nil
}

func (tv *txMemoryView) IncrementCouponUsage(_ context.Context, id booking.CouponID) (bool, error) {
	return tv.parent.incrementCouponUsageLocked(id), nil
}

func (tv *txMemoryView) GetGrant(_ context.Context, userID booking.UserID, couponID booking.CouponID) (*booking.CouponGrant, error) {
	return tv.parent.getGrantLocked(userID, couponID), nil
}

func (tv *txMemoryView) SaveGrant(_ context.Context, g booking.CouponGrant) error {
	tv.parent.grants[grantKey{UserID: g.UserID, CouponID: g.CouponID}] = g
	return nil
}

func (tv *txMemoryView) MarkGrantUsed(_ context.Context, userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) (bool, error) {
	return tv.parent.markGrantUsedLocked(userID, couponID, ticketID), nil
}

func (tv *txMemoryView) CreateTicket(_ context.Context, t booking.Ticket) error {
	tv.parent.tickets[t.ID] = t
	return nil
}

func (tv *txMemoryView) GetTicket(_ context.Context, id booking.TicketID) (*booking.Ticket, error) {
	return tv.parent.getTicketLocked(id), nil
}

func (tv *txMemoryView) UpdateTicketStatus(_ context.Context, id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	return tv.parent.updateTicketStatusLocked(id, status, cancelledAt)
}

func (tv *txMemoryView) ListTicketsByUser(_ context.Context, userID booking.UserID) ([]booking.Ticket, error) {
	return tv.parent.listTicketsByUserLocked(userID), nil
}

func (tv *txMemoryView) ListActiveTicketsByTrip(_ context.Context, tripID booking.TripID) ([]booking.Ticket, error) {
	return tv.parent.listActiveTicketsByTripLocked(tripID), nil
}

func (tv *txMemoryView) AppendPayment(_ context.Context, p booking.Payment) error {
	tv.parent.payments = append(tv.parent.payments, p)
	return nil
}

func (tv *txMemoryView) ListPaymentsByUser(_ context.Context, userID booking.UserID) ([]booking.Payment, error) {
	return tv.parent.listPaymentsByUserLocked(userID), nil
}
