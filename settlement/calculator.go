// Package settlement derives payment state for orders: when payment is due
// and how much of it has been settled.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/trade"
)

// Status is the derived settlement status of an order.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPartialPayment  Status = "partial_payment"
	StatusPaid            Status = "paid"
	// StatusPending means unpaid and past the due date.
	StatusPending Status = "pending"
)

var (
	ErrNonPositiveAmount = errors.New("settlement: payment amount must be greater than zero")
	ErrExceedsBalance    = errors.New("settlement: payment exceeds remaining balance")
)

// State is the settlement view of a single order.
type State struct {
	TotalPaid     decimal.Decimal
	Pending       decimal.Decimal
	Status        Status
	DueDate       *time.Time
	LastPaymentAt *time.Time
	// OnTime is only meaningful when Status is StatusPaid.
	OnTime bool
}

// Evaluate computes the settlement state of order at now.
func Evaluate(order trade.Order, siblings []trade.Order, payments []trade.PaymentEvent, now time.Time) State {
	due := DueDate(order, siblings)
	total, last := sumPayments(order.ID, payments)

	st := State{
		TotalPaid:     total,
		Pending:       order.Value.Sub(total),
		DueDate:       due,
		LastPaymentAt: last,
	}

	switch {
	case total.GreaterThanOrEqual(order.Value):
		st.Status = StatusPaid
		st.OnTime = due == nil || last == nil || !last.After(*due)
	case total.IsPositive():
		st.Status = StatusPartialPayment
	case due == nil || now.Before(*due):
		st.Status = StatusAwaitingPayment
	default:
		st.Status = StatusPending
	}
	return st
}

// CheckPayment validates a new payment of amount against an order worth
// value that already carries payments. Every write path must call it.
func CheckPayment(value decimal.Decimal, payments []trade.PaymentEvent, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	var paid decimal.Decimal
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	remaining := value.Sub(paid)
	if amount.GreaterThan(remaining) {
		return fmt.Errorf("%w: remaining %s, attempted %s", ErrExceedsBalance, remaining.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

func sumPayments(orderID string, payments []trade.PaymentEvent) (decimal.Decimal, *time.Time) {
	var (
		total decimal.Decimal
		last  *time.Time
	)
	for i := range payments {
		p := payments[i]
		if p.OrderID != orderID {
			continue
		}
		total = total.Add(p.Amount)
		if last == nil || p.RecordedAt.After(*last) {
			t := p.RecordedAt
			last = &t
		}
	}
	return total, last
}
