/*
ledger.go - Credit ledger

PURPOSE:
  All money movement goes through the CreditLedger: debits for purchases,
  credits for refunds and top-ups. Every movement updates the user's
  balance and appends an immutable Payment row in the same store view, so
  running inside a transaction makes the pair atomic.

INVARIANTS:
  - A balance never goes negative: a debit larger than the balance fails
    before any write
  - Payments are append-only; the ledger never updates or deletes one
*/
package booking

import (
	"context"

	"github.com/google/uuid"
)

// CreditLedger moves credit in and out of user accounts.
type CreditLedger struct {
	clock Clock
}

func NewCreditLedger(clock Clock) *CreditLedger {
	return &CreditLedger{clock: clock}
}

// Debit charges the user and records a payment. A charge above the current
// balance fails with InsufficientFundsError and writes nothing. A zero
// charge (fully discounted ticket) still records the payment so the ticket
// has a ledger trail.
func (l *CreditLedger) Debit(ctx context.Context, s Store, user *User, ticketID TicketID, amount Money) (Money, error) {
	if amount.IsNegative() {
		return Money{}, &ValidationError{Field: "amount", Msg: "debit amount cannot be negative"}
	}
	if user.CreditBalance.LessThan(amount) {
		return Money{}, &InsufficientFundsError{
			UserID:    user.ID,
			Balance:   user.CreditBalance,
			Required:  amount,
			Shortfall: amount.Sub(user.CreditBalance),
		}
	}
	newBalance := user.CreditBalance.Sub(amount)
	if err := s.UpdateUserBalance(ctx, user.ID, newBalance); err != nil {
		return Money{}, storeErr("update balance", err)
	}
	payment := Payment{
		ID:        PaymentID(uuid.NewString()),
		UserID:    user.ID,
		TicketID:  ticketID,
		Amount:    amount,
		Type:      PaymentPurchase,
		Method:    MethodCredit,
		CreatedAt: l.clock.Now(),
	}
	if err := s.AppendPayment(ctx, payment); err != nil {
		return Money{}, storeErr("append payment", err)
	}
	user.CreditBalance = newBalance
	return newBalance, nil
}

// Credit adds to the user's balance and records a payment of the given
// type. Refunds may be zero (a fully discounted ticket refunds nothing but
// still leaves a trail); top-ups must be strictly positive.
func (l *CreditLedger) Credit(ctx context.Context, s Store, user *User, ticketID TicketID, amount Money, typ PaymentType, method PaymentMethod) (Money, error) {
	if amount.IsNegative() {
		return Money{}, &ValidationError{Field: "amount", Msg: "credit amount cannot be negative"}
	}
	if typ == PaymentTopUp && !amount.IsPositive() {
		return Money{}, &ValidationError{Field: "amount", Msg: "top-up amount must be positive"}
	}
	newBalance := user.CreditBalance.Add(amount)
	if err := s.UpdateUserBalance(ctx, user.ID, newBalance); err != nil {
		return Money{}, storeErr("update balance", err)
	}
	payment := Payment{
		ID:        PaymentID(uuid.NewString()),
		UserID:    user.ID,
		TicketID:  ticketID,
		Amount:    amount,
		Type:      typ,
		Method:    method,
		CreatedAt: l.clock.Now(),
	}
	if err := s.AppendPayment(ctx, payment); err != nil {
		return Money{}, storeErr("append payment", err)
	}
	user.CreditBalance = newBalance
	return newBalance, nil
}
