package booking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/booking/store"
)

func newLedgerSetup(t *testing.T, balance int64) (*booking.CreditLedger, *store.TxMemory, *booking.User) {
	t.Helper()
	mem := store.NewTxMemory()
	ledger := booking.NewCreditLedger(booking.FixedClock{At: testNow})

	user := booking.User{
		ID:            "u1",
		Name:          "Ada",
		Email:         "ada@example.com",
		CreditBalance: booking.NewMoneyFromInt(balance),
		Active:        true,
		CreatedAt:     testNow,
	}
	require.NoError(t, mem.SaveUser(context.Background(), user))
	return ledger, mem, &user
}

func TestLedgerDebit_UpdatesBalanceAndAppends(t *testing.T) {
	ledger, mem, user := newLedgerSetup(t, 100)
	ctx := context.Background()

	newBalance, err := ledger.Debit(ctx, mem, user, "t1", booking.NewMoneyFromInt(60))
	require.NoError(t, err)
	assert.Equal(t, "40.00", newBalance.String())
	assert.Equal(t, "40.00", user.CreditBalance.String(), "caller's copy is kept in sync")

	stored, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", stored.CreditBalance.String())

	payments, err := mem.ListPaymentsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, booking.PaymentPurchase, payments[0].Type)
	assert.Equal(t, booking.TicketID("t1"), payments[0].TicketID)
	assert.Equal(t, testNow, payments[0].CreatedAt)
}

func TestLedgerDebit_InsufficientFunds_WritesNothing(t *testing.T) {
	ledger, mem, user := newLedgerSetup(t, 30)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, mem, user, "t1", booking.NewMoneyFromInt(75))
	require.Error(t, err)

	var fundsErr *booking.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.Equal(t, "30.00", fundsErr.Balance.String())
	assert.Equal(t, "75.00", fundsErr.Required.String())
	assert.Equal(t, "45.00", fundsErr.Shortfall.String())

	stored, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "30.00", stored.CreditBalance.String())

	payments, err := mem.ListPaymentsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestLedgerDebit_ExactBalance_LeavesZero(t *testing.T) {
	ledger, mem, user := newLedgerSetup(t, 50)

	newBalance, err := ledger.Debit(context.Background(), mem, user, "t1", booking.NewMoneyFromInt(50))
	require.NoError(t, err)
	assert.True(t, newBalance.IsZero())
}

func TestLedgerDebit_ZeroAmount_StillRecorded(t *testing.T) {
	// A fully discounted ticket charges nothing but keeps its ledger trail.
	ledger, mem, user := newLedgerSetup(t, 10)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, mem, user, "t1", booking.ZeroMoney())
	require.NoError(t, err)

	payments, err := mem.ListPaymentsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.IsZero())
}

func TestLedgerCredit_RefundAndTopUp(t *testing.T) {
	ledger, mem, user := newLedgerSetup(t, 0)
	ctx := context.Background()

	newBalance, err := ledger.Credit(ctx, mem, user, "t1", booking.NewMoneyFromInt(90), booking.PaymentRefund, booking.MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, "90.00", newBalance.String())

	newBalance, err = ledger.Credit(ctx, mem, user, "", booking.NewMoneyFromInt(100), booking.PaymentTopUp, booking.MethodBankTransfer)
	require.NoError(t, err)
	assert.Equal(t, "190.00", newBalance.String())

	payments, err := mem.ListPaymentsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, booking.PaymentRefund, payments[0].Type)
	assert.Equal(t, booking.PaymentTopUp, payments[1].Type)
	assert.Empty(t, payments[1].TicketID)
}

func TestLedgerCredit_Validation(t *testing.T) {
	ledger, mem, user := newLedgerSetup(t, 0)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, mem, user, "", booking.NewMoneyFromInt(-10), booking.PaymentRefund, booking.MethodCredit)
	assert.True(t, booking.IsValidation(err), "negative credit")

	_, err = ledger.Credit(ctx, mem, user, "", booking.ZeroMoney(), booking.PaymentTopUp, booking.MethodCreditCard)
	assert.True(t, booking.IsValidation(err), "zero top-up")

	// Zero refund allowed (fully discounted ticket)
	_, err = ledger.Credit(ctx, mem, user, "t1", booking.ZeroMoney(), booking.PaymentRefund, booking.MethodCredit)
	assert.NoError(t, err)
}
