package booking

import "time"

// Limits are the configurable business bounds of the engine.
type Limits struct {
	// MaxSeatsPerBooking caps how many seats one ticket may cover.
	MaxSeatsPerBooking int

	// CancelCutoff is the minimum time before departure at which a ticket
	// may still be cancelled.
	CancelCutoff time.Duration

	// MaxTopUp caps a single credit top-up.
	MaxTopUp Money
}

// DefaultLimits mirror the production defaults: 5 seats per booking,
// cancellation up to one hour before departure, top-ups of at most 10000.
func DefaultLimits() Limits {
	return Limits{
		MaxSeatsPerBooking: 5,
		CancelCutoff:       time.Hour,
		MaxTopUp:           NewMoneyFromInt(10000),
	}
}
