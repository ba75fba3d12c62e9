package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/booking/store"
)

func newCouponSetup(t *testing.T) (*booking.CouponValidator, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	validator := booking.NewCouponValidator(booking.FixedClock{At: testNow})

	require.NoError(t, mem.SaveCoupon(context.Background(), booking.Coupon{
		ID:           "c1",
		Code:         "WELCOME20",
		DiscountRate: decimal.NewFromInt(20),
		UsageLimit:   2,
		ExpiresAt:    testNow.Add(7 * 24 * time.Hour),
		Active:       true,
	}))
	return validator, mem
}

func TestCouponValidate_EmptyCode_IsValidUnapplied(t *testing.T) {
	validator, mem := newCouponSetup(t)

	quote, err := validator.Validate(context.Background(), mem, "u1", "")
	require.NoError(t, err)
	assert.False(t, quote.Applied)
	assert.True(t, quote.Discount(booking.NewMoneyFromInt(100)).IsZero())
}

func TestCouponValidate_CheckOrder(t *testing.T) {
	// Each case trips exactly one rule; the rules before it pass.
	validator, mem := newCouponSetup(t)
	ctx := context.Background()

	// Not found
	_, err := validator.Validate(ctx, mem, "u1", "NOPE")
	var couponErr *booking.CouponError
	require.ErrorAs(t, err, &couponErr)
	assert.Equal(t, booking.CouponNotFound, couponErr.Reason)

	// Not granted (coupon exists, active, unexpired)
	_, err = validator.Validate(ctx, mem, "u1", "WELCOME20")
	require.ErrorAs(t, err, &couponErr)
	assert.Equal(t, booking.CouponNotGranted, couponErr.Reason)

	// Granted and unused: valid
	require.NoError(t, mem.SaveGrant(ctx, booking.CouponGrant{ID: "g1", UserID: "u1", CouponID: "c1"}))
	quote, err := validator.Validate(ctx, mem, "u1", "WELCOME20")
	require.NoError(t, err)
	assert.True(t, quote.Applied)

	// Already used wins over exhausted
	marked, err := mem.MarkGrantUsed(ctx, "u1", "c1", "t1")
	require.NoError(t, err)
	require.True(t, marked)
	_, err = validator.Validate(ctx, mem, "u1", "WELCOME20")
	require.ErrorAs(t, err, &couponErr)
	assert.Equal(t, booking.CouponAlreadyUsed, couponErr.Reason)
}

func TestCouponValidate_Inactive(t *testing.T) {
	validator, mem := newCouponSetup(t)
	ctx := context.Background()

	coupon, err := mem.GetCouponByCode(ctx, "WELCOME20")
	require.NoError(t, err)
	coupon.Active = false
	require.NoError(t, mem.SaveCoupon(ctx, *coupon))

	_, err = validator.Validate(ctx, mem, "u1", "WELCOME20")
	var couponErr *booking.CouponError
	require.ErrorAs(t, err, &couponErr)
	assert.Equal(t, booking.CouponInactive, couponErr.Reason)
}

func TestCouponValidate_CaseInsensitiveCode(t *testing.T) {
	validator, mem := newCouponSetup(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveGrant(ctx, booking.CouponGrant{ID: "g1", UserID: "u1", CouponID: "c1"}))

	quote, err := validator.Validate(ctx, mem, "u1", "welcome20")
	require.NoError(t, err)
	assert.True(t, quote.Applied)
}

func TestCouponRedeem_IdempotentPerTicket(t *testing.T) {
	// Redeeming twice for the same ticket is a no-op; for a different
	// ticket it fails.
	validator, mem := newCouponSetup(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveGrant(ctx, booking.CouponGrant{ID: "g1", UserID: "u1", CouponID: "c1"}))

	quote, err := validator.Validate(ctx, mem, "u1", "WELCOME20")
	require.NoError(t, err)

	require.NoError(t, validator.Redeem(ctx, mem, quote, "u1", "t1"))
	require.NoError(t, validator.Redeem(ctx, mem, quote, "u1", "t1"))

	coupon, err := mem.GetCouponByCode(ctx, "WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, 1, coupon.UsageCount, "retry must not double-count")

	err = validator.Redeem(ctx, mem, quote, "u1", "t2")
	require.Error(t, err)
	assert.True(t, booking.IsCoupon(err))
}

func TestCouponQuote_DiscountClampedToTotal(t *testing.T) {
	quote := booking.CouponQuote{
		Applied: true,
		Coupon:  &booking.Coupon{Code: "BIG", DiscountRate: decimal.NewFromInt(100)},
	}
	total := booking.NewMoneyFromInt(80)
	assert.Equal(t, "80.00", quote.Discount(total).String())
}
