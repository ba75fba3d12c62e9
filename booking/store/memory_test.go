package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/booking/store"
)

func TestWithTx_SnapshotRollback(t *testing.T) {
	// An error from fn restores every table to its pre-transaction state.
	mem := store.NewTxMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveUser(ctx, booking.User{
		ID: "u1", Name: "Ada", Email: "ada@example.com",
		CreditBalance: booking.NewMoneyFromInt(100), Active: true,
	}))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s booking.Store) error {
		if err := s.UpdateUserBalance(ctx, "u1", booking.NewMoneyFromInt(1)); err != nil {
			return err
		}
		if err := s.AppendPayment(ctx, booking.Payment{ID: "p1", UserID: "u1"}); err != nil {
			return err
		}
		if err := s.InsertTicketSeats(ctx, []booking.TicketSeat{
			{TicketID: "t1", TripID: "trip-1", SeatID: "s1", PassengerName: "A", Active: true},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	user, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", user.CreditBalance.String())

	payments, err := mem.ListPaymentsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, payments)

	held, err := mem.HeldSeats(ctx, "trip-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestWithTx_CommitKeepsWrites(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s booking.Store) error {
		return s.SaveUser(ctx, booking.User{
			ID: "u1", Name: "Ada", Email: "ada@example.com",
			CreditBalance: booking.NewMoneyFromInt(5), Active: true,
		})
	})
	require.NoError(t, err)

	user, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "5.00", user.CreditBalance.String())
}

func TestWithTx_ViewSeesOwnWrites(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s booking.Store) error {
		if err := s.CreateTicket(ctx, booking.Ticket{ID: "t1", UserID: "u1", Status: booking.TicketActive}); err != nil {
			return err
		}
		ticket, err := s.GetTicket(ctx, "t1")
		if err != nil {
			return err
		}
		assert.NotNil(t, ticket)
		return nil
	})
	require.NoError(t, err)
}
