/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements booking.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:         Accounts with a credit balance
  buses, seats:  The fleet; seats are reusable across trips
  trips:         Scheduled departures with a per-seat price
  tickets:       Purchases, with total/discount/final price
  ticket_seats:  Seat holds; the active rows of a trip are its taken seats
  coupons:       Discount codes with expiry and global usage limit
  coupon_grants: Per-user single-use allocations of a coupon
  payments:      Immutable money ledger

APPEND-ONLY ENFORCEMENT:
  The payments table is append-only:
  - No UPDATE statements on payments
  - No DELETE statements on payments
  - Corrections via refund rows only

CONSTRAINT ENFORCEMENT:
  Invariants the engine checks in application code are backed a second time
  by the schema, so a store shared with other writers stays consistent:
  - idx_active_trip_seat: at most one active hold per (trip, seat)
  - users.credit_balance CHECK: balances never go negative
  - coupon_grants UNIQUE(user_id, coupon_id): one grant per user per coupon

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := booking.NewEngine(store, nil, booking.DefaultLimits())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/engine.go: Higher-level engine using the store
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/roadline/booking-engine/booking"
)

// Store implements booking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (credit accounts)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		credit_balance TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		CHECK (CAST(credit_balance AS REAL) >= 0)
	);

	-- Fleet
	CREATE TABLE IF NOT EXISTS buses (
		id TEXT PRIMARY KEY,
		plate TEXT NOT NULL UNIQUE,
		company TEXT NOT NULL,
		seat_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS seats (
		id TEXT PRIMARY KEY,
		bus_id TEXT NOT NULL REFERENCES buses(id),
		row INTEGER NOT NULL,
		col INTEGER NOT NULL,
		number TEXT NOT NULL,
		UNIQUE(bus_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_seats_bus ON seats(bus_id);

	-- Trips
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		bus_id TEXT NOT NULL REFERENCES buses(id),
		departure_city TEXT NOT NULL,
		arrival_city TEXT NOT NULL,
		departure_at TEXT NOT NULL,
		arrival_at TEXT NOT NULL,
		price TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_trips_status_departure
		ON trips(status, departure_at);

	-- Tickets
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		trip_id TEXT NOT NULL REFERENCES trips(id),
		status TEXT NOT NULL DEFAULT 'active',
		total_price TEXT NOT NULL,
		discount TEXT NOT NULL,
		final_price TEXT NOT NULL,
		coupon_code TEXT,
		purchased_at TEXT NOT NULL,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_trip_status ON tickets(trip_id, status);

	-- Seat holds
	CREATE TABLE IF NOT EXISTS ticket_seats (
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		trip_id TEXT NOT NULL REFERENCES trips(id),
		seat_id TEXT NOT NULL REFERENCES seats(id),
		passenger_name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- CRITICAL: a seat of a trip is held by at most one active ticket.
	-- Cancelled holds (active = 0) do not block a new purchase.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_active_trip_seat
		ON ticket_seats(trip_id, seat_id) WHERE active = 1;

	CREATE INDEX IF NOT EXISTS idx_ticket_seats_ticket ON ticket_seats(ticket_id);

	-- Coupons
	CREATE TABLE IF NOT EXISTS coupons (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE COLLATE NOCASE,
		discount_rate TEXT NOT NULL,
		usage_limit INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		expires_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS coupon_grants (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		coupon_id TEXT NOT NULL REFERENCES coupons(id),
		used INTEGER NOT NULL DEFAULT 0,
		used_ticket_id TEXT,
		UNIQUE(user_id, coupon_id)
	);

	-- Payments (append-only ledger)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		ticket_id TEXT,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		method TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query helper
// works inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db dbtx, id booking.UserID) (*booking.User, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, email, credit_balance, active, created_at
		FROM users WHERE id = ?`, id)

	var (
		u         booking.User
		balance   string
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &balance, &u.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreditBalance = booking.MustParseMoney(balance)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u booking.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, db dbtx, u booking.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, credit_balance, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			credit_balance = excluded.credit_balance,
			active = excluded.active`,
		u.ID, u.Name, u.Email, u.CreditBalance.String(), u.Active,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUserBalance(ctx context.Context, id booking.UserID, balance booking.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateUserBalance(ctx, s.db, id, balance)
}

func updateUserBalance(ctx context.Context, db dbtx, id booking.UserID, balance booking.Money) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET credit_balance = ? WHERE id = ?`,
		balance.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &booking.NotFoundError{Resource: "user", ID: string(id)}
	}
	return nil
}

// =============================================================================
// FLEET
// =============================================================================

func (s *Store) SaveBus(ctx context.Context, b booking.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBus(ctx, s.db, b)
}

func saveBus(ctx context.Context, db dbtx, b booking.Bus) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO buses (id, plate, company, seat_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plate = excluded.plate,
			company = excluded.company,
			seat_count = excluded.seat_count`,
		b.ID, b.Plate, b.Company, b.SeatCount)
	if err != nil {
		return fmt.Errorf("failed to save bus: %w", err)
	}
	return nil
}

func (s *Store) SaveSeat(ctx context.Context, seat booking.Seat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSeat(ctx, s.db, seat)
}

func saveSeat(ctx context.Context, db dbtx, seat booking.Seat) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO seats (id, bus_id, row, col, number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bus_id = excluded.bus_id,
			row = excluded.row,
			col = excluded.col,
			number = excluded.number`,
		seat.ID, seat.BusID, seat.Row, seat.Column, seat.Number)
	if err != nil {
		return fmt.Errorf("failed to save seat: %w", err)
	}
	return nil
}

func (s *Store) GetSeats(ctx context.Context, ids []booking.SeatID) ([]booking.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSeats(ctx, s.db, ids)
}

func getSeats(ctx context.Context, db dbtx, ids []booking.SeatID) ([]booking.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, bus_id, row, col, number FROM seats WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	defer rows.Close()
	return scanSeats(rows)
}

func (s *Store) SeatsByBus(ctx context.Context, busID booking.BusID) ([]booking.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return seatsByBus(ctx, s.db, busID)
}

func seatsByBus(ctx context.Context, db dbtx, busID booking.BusID) ([]booking.Seat, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, bus_id, row, col, number FROM seats WHERE bus_id = ? ORDER BY row, col`,
		busID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	defer rows.Close()
	return scanSeats(rows)
}

func scanSeats(rows *sql.Rows) ([]booking.Seat, error) {
	var seats []booking.Seat
	for rows.Next() {
		var seat booking.Seat
		if err := rows.Scan(&seat.ID, &seat.BusID, &seat.Row, &seat.Column, &seat.Number); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

// =============================================================================
// TRIPS
// =============================================================================

func (s *Store) GetTrip(ctx context.Context, id booking.TripID) (*booking.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTrip(ctx, s.db, id)
}

func getTrip(ctx context.Context, db dbtx, id booking.TripID) (*booking.Trip, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, bus_id, departure_city, arrival_city, departure_at, arrival_at, price, status
		FROM trips WHERE id = ?`, id)

	t, err := scanTrip(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTrip(scan func(dest ...any) error) (*booking.Trip, error) {
	var (
		t           booking.Trip
		departureAt string
		arrivalAt   string
		price       string
	)
	err := scan(&t.ID, &t.BusID, &t.DepartureCity, &t.ArrivalCity,
		&departureAt, &arrivalAt, &price, &t.Status)
	if err != nil {
		return nil, err
	}
	t.DepartureAt, _ = time.Parse(time.RFC3339, departureAt)
	t.ArrivalAt, _ = time.Parse(time.RFC3339, arrivalAt)
	t.Price = booking.MustParseMoney(price)
	return &t, nil
}

func (s *Store) SaveTrip(ctx context.Context, t booking.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTrip(ctx, s.db, t)
}

func saveTrip(ctx context.Context, db dbtx, t booking.Trip) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO trips (id, bus_id, departure_city, arrival_city, departure_at, arrival_at, price, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bus_id = excluded.bus_id,
			departure_city = excluded.departure_city,
			arrival_city = excluded.arrival_city,
			departure_at = excluded.departure_at,
			arrival_at = excluded.arrival_at,
			price = excluded.price,
			status = excluded.status`,
		t.ID, t.BusID, t.DepartureCity, t.ArrivalCity,
		t.DepartureAt.UTC().Format(time.RFC3339), t.ArrivalAt.UTC().Format(time.RFC3339),
		t.Price.String(), t.Status)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

func (s *Store) UpdateTripStatus(ctx context.Context, id booking.TripID, status booking.TripStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTripStatus(ctx, s.db, id, status)
}

func updateTripStatus(ctx context.Context, db dbtx, id booking.TripID, status booking.TripStatus) error {
	res, err := db.ExecContext(ctx, `UPDATE trips SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update trip status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &booking.NotFoundError{Resource: "trip", ID: string(id)}
	}
	return nil
}

func (s *Store) ListDepartedActiveTrips(ctx context.Context, cutoff time.Time) ([]booking.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDepartedActiveTrips(ctx, s.db, cutoff)
}

func listDepartedActiveTrips(ctx context.Context, db dbtx, cutoff time.Time) ([]booking.Trip, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, bus_id, departure_city, arrival_city, departure_at, arrival_at, price, status
		FROM trips
		WHERE status = 'active' AND departure_at <= ?
		ORDER BY departure_at ASC`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []booking.Trip
	for rows.Next() {
		t, err := scanTrip(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// =============================================================================
// SEAT HOLDS
// =============================================================================

func (s *Store) HeldSeats(ctx context.Context, tripID booking.TripID) (map[booking.SeatID]booking.TicketID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return heldSeats(ctx, s.db, tripID)
}

func heldSeats(ctx context.Context, db dbtx, tripID booking.TripID) (map[booking.SeatID]booking.TicketID, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT seat_id, ticket_id FROM ticket_seats WHERE trip_id = ? AND active = 1`,
		tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seat holds: %w", err)
	}
	defer rows.Close()

	held := make(map[booking.SeatID]booking.TicketID)
	for rows.Next() {
		var (
			seatID   booking.SeatID
			ticketID booking.TicketID
		)
		if err := rows.Scan(&seatID, &ticketID); err != nil {
			return nil, fmt.Errorf("failed to scan seat hold: %w", err)
		}
		held[seatID] = ticketID
	}
	return held, rows.Err()
}

func (s *Store) InsertTicketSeats(ctx context.Context, seats []booking.TicketSeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTicketSeats(ctx, s.db, seats)
}

func insertTicketSeats(ctx context.Context, db dbtx, seats []booking.TicketSeat) error {
	for _, ts := range seats {
		_, err := db.ExecContext(ctx, `
			INSERT INTO ticket_seats (ticket_id, trip_id, seat_id, passenger_name, active)
			VALUES (?, ?, ?, ?, ?)`,
			ts.TicketID, ts.TripID, ts.SeatID, ts.PassengerName, ts.Active)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &booking.ConflictError{TripID: ts.TripID, Seats: []booking.SeatID{ts.SeatID}}
			}
			return fmt.Errorf("failed to insert seat hold: %w", err)
		}
	}
	return nil
}

func (s *Store) ReleaseTicketSeats(ctx context.Context, ticketID booking.TicketID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return releaseTicketSeats(ctx, s.db, ticketID)
}

func releaseTicketSeats(ctx context.Context, db dbtx, ticketID booking.TicketID) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE ticket_seats SET active = 0 WHERE ticket_id = ? AND active = 1`,
		ticketID)
	if err != nil {
		return 0, fmt.Errorf("failed to release seat holds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) TicketSeats(ctx context.Context, ticketID booking.TicketID) ([]booking.TicketSeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ticketSeats(ctx, s.db, ticketID)
}

func ticketSeats(ctx context.Context, db dbtx, ticketID booking.TicketID) ([]booking.TicketSeat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ticket_id, trip_id, seat_id, passenger_name, active
		FROM ticket_seats WHERE ticket_id = ?`,
		ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seat holds: %w", err)
	}
	defer rows.Close()

	var out []booking.TicketSeat
	for rows.Next() {
		var ts booking.TicketSeat
		if err := rows.Scan(&ts.TicketID, &ts.TripID, &ts.SeatID, &ts.PassengerName, &ts.Active); err != nil {
			return nil, fmt.Errorf("failed to scan seat hold: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// =============================================================================
// COUPONS
// =============================================================================

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*booking.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCouponByCode(ctx, s.db, code)
}

func getCouponByCode(ctx context.Context, db dbtx, code string) (*booking.Coupon, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, code, discount_rate, usage_limit, usage_count, expires_at, active, description
		FROM coupons WHERE code = ?`, code)

	var (
		c         booking.Coupon
		rate      string
		expiresAt string
	)
	err := row.Scan(&c.ID, &c.Code, &rate, &c.UsageLimit, &c.UsageCount,
		&expiresAt, &c.Active, &c.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan coupon: %w", err)
	}
	c.DiscountRate, _ = decimal.NewFromString(rate)
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &c, nil
}

func (s *Store) SaveCoupon(ctx context.Context, c booking.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCoupon(ctx, s.db, c)
}

func saveCoupon(ctx context.Context, db dbtx, c booking.Coupon) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, discount_rate, usage_limit, usage_count, expires_at, active, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			discount_rate = excluded.discount_rate,
			usage_limit = excluded.usage_limit,
			usage_count = excluded.usage_count,
			expires_at = excluded.expires_at,
			active = excluded.active,
			description = excluded.description`,
		c.ID, c.Code, c.DiscountRate.String(), c.UsageLimit, c.UsageCount,
		c.ExpiresAt.UTC().Format(time.RFC3339), c.Active, c.Description)
	if err != nil {
		return fmt.Errorf("failed to save coupon: %w", err)
	}
	return nil
}

func (s *Store) IncrementCouponUsage(ctx context.Context, id booking.CouponID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementCouponUsage(ctx, s.db, id)
}

// incrementCouponUsage bumps the count only while below the limit; a limit
// of zero means unlimited.
func incrementCouponUsage(ctx context.Context, db dbtx, id booking.CouponID) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = ? AND (usage_limit = 0 OR usage_count < usage_limit)`,
		id)
	if err != nil {
		return false, fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetGrant(ctx context.Context, userID booking.UserID, couponID booking.CouponID) (*booking.CouponGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGrant(ctx, s.db, userID, couponID)
}

func getGrant(ctx context.Context, db dbtx, userID booking.UserID, couponID booking.CouponID) (*booking.CouponGrant, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, coupon_id, used, used_ticket_id
		FROM coupon_grants WHERE user_id = ? AND coupon_id = ?`,
		userID, couponID)

	var (
		g            booking.CouponGrant
		usedTicketID sql.NullString
	)
	err := row.Scan(&g.ID, &g.UserID, &g.CouponID, &g.Used, &usedTicketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan coupon grant: %w", err)
	}
	g.UsedTicketID = booking.TicketID(usedTicketID.String)
	return &g, nil
}

func (s *Store) SaveGrant(ctx context.Context, g booking.CouponGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveGrant(ctx, s.db, g)
}

func saveGrant(ctx context.Context, db dbtx, g booking.CouponGrant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO coupon_grants (id, user_id, coupon_id, used, used_ticket_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, coupon_id) DO UPDATE SET
			used = excluded.used,
			used_ticket_id = excluded.used_ticket_id`,
		g.ID, g.UserID, g.CouponID, g.Used, nullString(string(g.UsedTicketID)))
	if err != nil {
		return fmt.Errorf("failed to save coupon grant: %w", err)
	}
	return nil
}

func (s *Store) MarkGrantUsed(ctx context.Context, userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markGrantUsed(ctx, s.db, userID, couponID, ticketID)
}

func markGrantUsed(ctx context.Context, db dbtx, userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE coupon_grants SET used = 1, used_ticket_id = ?
		WHERE user_id = ? AND coupon_id = ? AND used = 0`,
		ticketID, userID, couponID)
	if err != nil {
		return false, fmt.Errorf("failed to mark grant used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// TICKETS
// =============================================================================

func (s *Store) CreateTicket(ctx context.Context, t booking.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createTicket(ctx, s.db, t)
}

func createTicket(ctx context.Context, db dbtx, t booking.Ticket) error {
	var cancelledAt sql.NullString
	if t.CancelledAt != nil {
		cancelledAt = sql.NullString{String: t.CancelledAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO tickets (id, user_id, trip_id, status, total_price, discount, final_price, coupon_code, purchased_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TripID, t.Status,
		t.TotalPrice.String(), t.Discount.String(), t.FinalPrice.String(),
		nullString(t.CouponCode),
		t.PurchasedAt.UTC().Format(time.RFC3339), cancelledAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id booking.TicketID) (*booking.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTicket(ctx, s.db, id)
}

func getTicket(ctx context.Context, db dbtx, id booking.TicketID) (*booking.Ticket, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, trip_id, status, total_price, discount, final_price, coupon_code, purchased_at, cancelled_at
		FROM tickets WHERE id = ?`, id)

	t, err := scanTicket(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTicket(scan func(dest ...any) error) (*booking.Ticket, error) {
	var (
		t           booking.Ticket
		total       string
		discount    string
		final       string
		couponCode  sql.NullString
		purchasedAt string
		cancelledAt sql.NullString
	)
	err := scan(&t.ID, &t.UserID, &t.TripID, &t.Status,
		&total, &discount, &final, &couponCode, &purchasedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	t.TotalPrice = booking.MustParseMoney(total)
	t.Discount = booking.MustParseMoney(discount)
	t.FinalPrice = booking.MustParseMoney(final)
	t.CouponCode = couponCode.String
	t.PurchasedAt, _ = time.Parse(time.RFC3339, purchasedAt)
	if cancelledAt.Valid {
		at, _ := time.Parse(time.RFC3339, cancelledAt.String)
		t.CancelledAt = &at
	}
	return &t, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTicketStatus(ctx, s.db, id, status, cancelledAt)
}

func updateTicketStatus(ctx context.Context, db dbtx, id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	var at sql.NullString
	if cancelledAt != nil {
		at = sql.NullString{String: cancelledAt.UTC().Format(time.RFC3339), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, cancelled_at = COALESCE(?, cancelled_at) WHERE id = ?`,
		status, at, id)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &booking.NotFoundError{Resource: "ticket", ID: string(id)}
	}
	return nil
}

func (s *Store) ListTicketsByUser(ctx context.Context, userID booking.UserID) ([]booking.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTicketsByUser(ctx, s.db, userID)
}

func listTicketsByUser(ctx context.Context, db dbtx, userID booking.UserID) ([]booking.Ticket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, trip_id, status, total_price, discount, final_price, coupon_code, purchased_at, cancelled_at
		FROM tickets WHERE user_id = ?
		ORDER BY purchased_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) ListActiveTicketsByTrip(ctx context.Context, tripID booking.TripID) ([]booking.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActiveTicketsByTrip(ctx, s.db, tripID)
}

func listActiveTicketsByTrip(ctx context.Context, db dbtx, tripID booking.TripID) ([]booking.Ticket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, trip_id, status, total_price, discount, final_price, coupon_code, purchased_at, cancelled_at
		FROM tickets WHERE trip_id = ? AND status = 'active'
		ORDER BY purchased_at ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

func collectTickets(rows *sql.Rows) ([]booking.Ticket, error) {
	var tickets []booking.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p booking.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, p)
}

func appendPayment(ctx context.Context, db dbtx, p booking.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, ticket_id, amount, type, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, nullString(string(p.TicketID)),
		p.Amount.String(), p.Type, p.Method,
		p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) ListPaymentsByUser(ctx context.Context, userID booking.UserID) ([]booking.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPaymentsByUser(ctx, s.db, userID)
}

func listPaymentsByUser(ctx context.Context, db dbtx, userID booking.UserID) ([]booking.Payment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, ticket_id, amount, type, method, created_at
		FROM payments WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []booking.Payment
	for rows.Next() {
		var (
			p         booking.Payment
			ticketID  sql.NullString
			amount    string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &ticketID, &amount, &p.Type, &p.Method, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.TicketID = booking.TicketID(ticketID.String)
		p.Amount = booking.MustParseMoney(amount)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query against the open transaction, so reads inside
// WithTx observe the transaction's own writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id booking.UserID) (*booking.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) SaveUser(ctx context.Context, u booking.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) UpdateUserBalance(ctx context.Context, id booking.UserID, balance booking.Money) error {
	return updateUserBalance(ctx, ts.tx, id, balance)
}

func (ts *txStore) SaveBus(ctx context.Context, b booking.Bus) error {
	return saveBus(ctx, ts.tx, b)
}

func (ts *txStore) SaveSeat(ctx context.Context, seat booking.Seat) error {
	return saveSeat(ctx, ts.tx, seat)
}

func (ts *txStore) GetSeats(ctx context.Context, ids []booking.SeatID) ([]booking.Seat, error) {
	return getSeats(ctx, ts.tx, ids)
}

func (ts *txStore) SeatsByBus(ctx context.Context, busID booking.BusID) ([]booking.Seat, error) {
	return seatsByBus(ctx, ts.tx, busID)
}

func (ts *txStore) GetTrip(ctx context.Context, id booking.TripID) (*booking.Trip, error) {
	return getTrip(ctx, ts.tx, id)
}

func (ts *txStore) SaveTrip(ctx context.Context, t booking.Trip) error {
	return saveTrip(ctx, ts.tx, t)
}

func (ts *txStore) UpdateTripStatus(ctx context.Context, id booking.TripID, status booking.TripStatus) error {
	return updateTripStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) ListDepartedActiveTrips(ctx context.Context, cutoff time.Time) ([]booking.Trip, error) {
	return listDepartedActiveTrips(ctx, ts.tx, cutoff)
}

func (ts *txStore) HeldSeats(ctx context.Context, tripID booking.TripID) (map[booking.SeatID]booking.TicketID, error) {
	return heldSeats(ctx, ts.tx, tripID)
}

func (ts *txStore) InsertTicketSeats(ctx context.Context, seats []booking.TicketSeat) error {
	return insertTicketSeats(ctx, ts.tx, seats)
}

func (ts *txStore) ReleaseTicketSeats(ctx context.Context, ticketID booking.TicketID) (int, error) {
	return releaseTicketSeats(ctx, ts.tx, ticketID)
}

func (ts *txStore) TicketSeats(ctx context.Context, ticketID booking.TicketID) ([]booking.TicketSeat, error) {
	return ticketSeats(ctx, ts.tx, ticketID)
}

func (ts *txStore) GetCouponByCode(ctx context.Context, code string) (*booking.Coupon, error) {
	return getCouponByCode(ctx, ts.tx, code)
}

func (ts *txStore) SaveCoupon(ctx context.Context, c booking.Coupon) error {
	return saveCoupon(ctx, ts.tx, c)
}

func (ts *txStore) IncrementCouponUsage(ctx context.Context, id booking.CouponID) (bool, error) {
	return incrementCouponUsage(ctx, ts.tx, id)
}

func (ts *txStore) GetGrant(ctx context.Context, userID booking.UserID, couponID booking.CouponID) (*booking.CouponGrant, error) {
	return getGrant(ctx, ts.tx, userID, couponID)
}

func (ts *txStore) SaveGrant(ctx context.Context, g booking.CouponGrant) error {
	return saveGrant(ctx, ts.tx, g)
}

func (ts *txStore) MarkGrantUsed(ctx context.Context, userID booking.UserID, couponID booking.CouponID, ticketID booking.TicketID) (bool, error) {
	return markGrantUsed(ctx, ts.tx, userID, couponID, ticketID)
}

func (ts *txStore) CreateTicket(ctx context.Context, t booking.Ticket) error {
	return createTicket(ctx, ts.tx, t)
}

func (ts *txStore) GetTicket(ctx context.Context, id booking.TicketID) (*booking.Ticket, error) {
	return getTicket(ctx, ts.tx, id)
}

func (ts *txStore) UpdateTicketStatus(ctx context.Context, id booking.TicketID, status booking.TicketStatus, cancelledAt *time.Time) error {
	return updateTicketStatus(ctx, ts.tx, id, status, cancelledAt)
}

func (ts *txStore) ListTicketsByUser(ctx context.Context, userID booking.UserID) ([]booking.Ticket, error) {
	return listTicketsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) ListActiveTicketsByTrip(ctx context.Context, tripID booking.TripID) ([]booking.Ticket, error) {
	return listActiveTicketsByTrip(ctx, ts.tx, tripID)
}

func (ts *txStore) AppendPayment(ctx context.Context, p booking.Payment) error {
	return appendPayment(ctx, ts.tx, p)
}

func (ts *txStore) ListPaymentsByUser(ctx context.Context, userID booking.UserID) ([]booking.Payment, error) {
	return listPaymentsByUser(ctx, ts.tx, userID)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
