/*
coupon.go - Coupon validation and redemption

PURPOSE:
  Coupons are granted to users individually. A grant is single-use and
  stays used even if the ticket it paid for is later cancelled. Validation
  checks run in a fixed order so callers always get the most specific
  failure: existence, active flag, expiry, grant, usage limit.

DESIGN:
  Validate is read-only and safe to call outside a transaction (for the
  preview endpoint). Redeem performs the guarded writes and must run inside
  the purchase transaction; it relies on the store's conditional updates to
  stay correct under concurrent purchases.
*/
package booking

import (
	"context"
	"fmt"
	"strings"
)

// CouponQuote is the outcome of validating a coupon code for a user.
type CouponQuote struct {
	Applied bool
	Coupon  *Coupon
	Grant   *CouponGrant
}

// CouponValidator validates and redeems coupon codes.
type CouponValidator struct {
	clock Clock
}

func NewCouponValidator(clock Clock) *CouponValidator {
	return &CouponValidator{clock: clock}
}

// Validate checks a coupon code for a user. An empty code is valid and
// yields an unapplied quote. Check order is fixed: not found, inactive,
// expired, not granted, already used, exhausted.
func (v *CouponValidator) Validate(ctx context.Context, s Store, userID UserID, code string) (CouponQuote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CouponQuote{Applied: false}, nil
	}

	coupon, err := s.GetCouponByCode(ctx, code)
	if err != nil {
		return CouponQuote{}, storeErr("load coupon", err)
	}
	if coupon == nil {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponNotFound}
	}
	if !coupon.Active {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponInactive}
	}
	if v.clock.Now().After(coupon.ExpiresAt) {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponExpired}
	}

	grant, err := s.GetGrant(ctx, userID, coupon.ID)
	if err != nil {
		return CouponQuote{}, storeErr("load coupon grant", err)
	}
	if grant == nil {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponNotGranted}
	}
	if grant.Used {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponAlreadyUsed}
	}

	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return CouponQuote{}, &CouponError{Code: code, Reason: CouponExhausted}
	}

	return CouponQuote{Applied: true, Coupon: coupon, Grant: grant}, nil
}

// Redeem consumes the user's grant and counts one global use. The guarded
// store updates make this safe under concurrency: a grant already consumed
// by this very ticket is treated as success so retries stay idempotent,
// any other failure of the guards surfaces as a coupon error.
func (v *CouponValidator) Redeem(ctx context.Context, s Store, quote CouponQuote, userID UserID, ticketID TicketID) error {
	if !quote.Applied {
		return nil
	}
	coupon := quote.Coupon

	marked, err := s.MarkGrantUsed(ctx, userID, coupon.ID, ticketID)
	if err != nil {
		return storeErr("mark grant used", err)
	}
	if !marked {
		grant, err := s.GetGrant(ctx, userID, coupon.ID)
		if err != nil {
			return storeErr("reload coupon grant", err)
		}
		if grant != nil && grant.Used && grant.UsedTicketID == ticketID {
			// Already redeemed for this exact ticket.
			return nil
		}
		return &CouponError{Code: coupon.Code, Reason: CouponAlreadyUsed}
	}

	bumped, err := s.IncrementCouponUsage(ctx, coupon.ID)
	if err != nil {
		return storeErr("increment coupon usage", err)
	}
	if !bumped {
		return &CouponError{Code: coupon.Code, Reason: CouponExhausted}
	}
	return nil
}

// Discount computes the discount amount for a total at the quote's rate,
// clamped so the final price never goes below zero.
func (q CouponQuote) Discount(total Money) Money {
	if !q.Applied {
		return ZeroMoney()
	}
	d := total.ApplyRate(q.Coupon.DiscountRate)
	if total.LessThan(d) {
		return total
	}
	return d
}

func (q CouponQuote) String() string {
	if !q.Applied {
		return "no coupon"
	}
	return fmt.Sprintf("coupon %s (%s%%)", q.Coupon.Code, q.Coupon.DiscountRate.String())
}
