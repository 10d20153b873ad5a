// Package behaviour aggregates a connection's event history into settlement,
// operational and quality signals over sliding windows. Every function here
// is pure and tolerates missing timestamps.
package behaviour

import (
	"sort"
	"time"

	"tradeflow/settlement"
	"tradeflow/trade"
)

// Window is a sliding lookback ending at now. AllTime disables the cutoff.
type Window time.Duration

const (
	AllTime Window = 0
	Short   Window = Window(7 * 24 * time.Hour)
	Medium  Window = Window(30 * 24 * time.Hour)
)

// Contains reports whether t falls inside the window ending at now.
func (w Window) Contains(t, now time.Time) bool {
	if w == AllTime {
		return true
	}
	return !t.Before(now.Add(-time.Duration(w)))
}

type Settlement struct {
	OnTime  int
	Late    int
	Partial int
	// Overdue counts unpaid orders past their due date.
	Overdue int
	// Unpaid counts unpaid orders not yet due.
	Unpaid int
	// RecentOrders always uses the short window.
	RecentOrders int
}

type Operational struct {
	MeanAcceptanceHours float64
	MeanDispatchHours   float64
	// DeliveryConsistency is delivered / (delivered + in transit), 1 when nothing shipped.
	DeliveryConsistency float64
	AwaitingAcceptance  int
	StalledDispatch     int
	Delivered           int
}

type Quality struct {
	OpenIssues       int
	IssuesInWindow   int
	RecurringTypes   []trade.IssueType
	RaisedByBuyer    int
	RaisedBySupplier int
}

// Signals is the classifier input: settlement and quality over the medium
// window, operational over all time.
type Signals struct {
	Settlement  Settlement
	Operational Operational
	Quality     Quality
}

// StalledAfter is how long an accepted order may wait for dispatch before it
// counts as stalled.
const StalledAfter = 24 * time.Hour

// Aggregate computes the signal triple the health classifier consumes.
func Aggregate(h trade.History, now time.Time) Signals {
	return Signals{
		Settlement:  SettlementSignals(h, Medium, now),
		Operational: OperationalSignals(h, AllTime, now),
		Quality:     QualitySignals(h, Medium, now),
	}
}

// SettlementSignals buckets each non-declined order created in w by its
// settlement status.
func SettlementSignals(h trade.History, w Window, now time.Time) Settlement {
	var out Settlement
	orders := h.OrdersByCreation()
	for _, o := range orders {
		if o.DeclinedAt != nil {
			continue
		}
		if Short.Contains(o.CreatedAt, now) {
			out.RecentOrders++
		}
		if !w.Contains(o.CreatedAt, now) {
			continue
		}
		st := settlement.Evaluate(o, orders, h.PaymentsFor(o.ID), now)
		switch st.Status {
		case settlement.StatusPaid:
			if st.OnTime {
				out.OnTime++
			} else {
				out.Late++
			}
		case settlement.StatusPartialPayment:
			out.Partial++
		case settlement.StatusPending:
			out.Overdue++
		case settlement.StatusAwaitingPayment:
			out.Unpaid++
		}
	}
	return out
}

// OperationalSignals measures how promptly orders created in w move through
// acceptance, dispatch and delivery.
func OperationalSignals(h trade.History, w Window, now time.Time) Operational {
	var (
		out                    Operational
		acceptSum, dispatchSum float64
		acceptN, dispatchN     int
		inTransit              int
	)
	for _, o := range h.Orders {
		if o.DeclinedAt != nil || !w.Contains(o.CreatedAt, now) {
			continue
		}
		if o.AcceptedAt != nil {
			acceptSum += o.AcceptedAt.Sub(o.CreatedAt).Hours()
			acceptN++
			if o.DispatchedAt != nil {
				dispatchSum += o.DispatchedAt.Sub(*o.AcceptedAt).Hours()
				dispatchN++
			}
		}
		switch {
		case o.DeliveredAt != nil:
			out.Delivered++
		case o.DispatchedAt != nil:
			inTransit++
		case o.AcceptedAt != nil:
			if now.Sub(*o.AcceptedAt) > StalledAfter {
				out.StalledDispatch++
			}
		default:
			out.AwaitingAcceptance++
		}
	}
	if acceptN > 0 {
		out.MeanAcceptanceHours = acceptSum / float64(acceptN)
	}
	if dispatchN > 0 {
		out.MeanDispatchHours = dispatchSum / float64(dispatchN)
	}
	out.DeliveryConsistency = 1
	if shipped := out.Delivered + inTransit; shipped > 0 {
		out.DeliveryConsistency = float64(out.Delivered) / float64(shipped)
	}
	return out
}

// QualitySignals summarises issues. OpenIssues ignores w; the rest count
// issues raised inside it.
func QualitySignals(h trade.History, w Window, now time.Time) Quality {
	var out Quality
	byType := make(map[trade.IssueType]int)
	for _, i := range h.Issues {
		if i.Open() {
			out.OpenIssues++
		}
		if !w.Contains(i.CreatedAt, now) {
			continue
		}
		out.IssuesInWindow++
		byType[i.Type]++
		switch i.RaisedBy {
		case trade.RoleBuyer:
			out.RaisedByBuyer++
		case trade.RoleSupplier:
			out.RaisedBySupplier++
		}
	}
	for t, n := range byType {
		if n > 1 {
			out.RecurringTypes = append(out.RecurringTypes, t)
		}
	}
	sort.Slice(out.RecurringTypes, func(i, j int) bool { return out.RecurringTypes[i] < out.RecurringTypes[j] })
	return out
}
