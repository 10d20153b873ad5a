// Package attention builds the cross-connection worklist a business sees:
// one item per order or issue that currently needs someone to act.
package attention

import (
	"sort"
	"time"

	"tradeflow/order"
	"tradeflow/settlement"
	"tradeflow/trade"
)

type Category string

const (
	OverdueWithOpenIssue Category = "overdue_with_open_issue"
	Overdue              Category = "overdue"
	DueToday             Category = "due_today"
	Disputes             Category = "disputes"
	PendingPayment       Category = "pending_payment"
	ApprovalNeeded       Category = "approval_needed"
)

// Priority is lower for more urgent categories.
func (c Category) Priority() int {
	switch c {
	case OverdueWithOpenIssue:
		return 1
	case Overdue:
		return 2
	case DueToday:
		return 3
	case Disputes:
		return 4
	case PendingPayment:
		return 5
	case ApprovalNeeded:
		return 6
	default:
		return 99
	}
}

// DispatchGrace is how long an accepted order may sit undispatched before it
// needs attention.
const DispatchGrace = 48 * time.Hour

// Item is one worklist entry. IssueID is only set for Disputes.
type Item struct {
	Category          Category
	Priority          int
	FrictionStartedAt time.Time
	ConnectionID      string
	OrderID           string
	IssueID           string
	Pending           string
}

// Prioritize scans every history businessID participates in and returns the
// sorted worklist. Histories of other connections are ignored. loc decides
// which calendar day counts as today; nil means UTC.
func Prioritize(businessID string, histories []trade.History, now time.Time, loc *time.Location) []Item {
	if loc == nil {
		loc = time.UTC
	}
	items := make([]Item, 0, 16)
	for _, h := range histories {
		if !h.Connection.Participant(businessID) {
			continue
		}
		items = append(items, settlementItems(h, now, loc)...)
		items = append(items, disputeItems(h)...)
		items = append(items, approvalItems(h, now)...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.FrictionStartedAt.Equal(b.FrictionStartedAt) {
			return a.FrictionStartedAt.Before(b.FrictionStartedAt)
		}
		return a.ref() < b.ref()
	})
	return items
}

func (it Item) ref() string {
	if it.IssueID != "" {
		return it.IssueID
	}
	return it.OrderID
}

func settlementItems(h trade.History, now time.Time, loc *time.Location) []Item {
	var out []Item
	orders := h.OrdersByCreation()
	today := dayOf(now, loc)
	for _, o := range orders {
		if o.DeclinedAt != nil {
			continue
		}
		st := settlement.Evaluate(o, orders, h.PaymentsFor(o.ID), now)
		if !st.Pending.IsPositive() || st.DueDate == nil {
			continue
		}
		due := *st.DueDate

		var (
			cat     Category
			started = due
		)
		switch {
		case dayOf(due, loc) == today:
			cat = DueToday
		case due.Before(now):
			cat = Overdue
			if h.HasOpenIssue(o.ID) {
				cat = OverdueWithOpenIssue
			}
		default:
			cat = PendingPayment
			started = o.CreatedAt
			if o.DeliveredAt != nil {
				started = *o.DeliveredAt
			}
		}
		out = append(out, Item{
			Category:          cat,
			Priority:          cat.Priority(),
			FrictionStartedAt: started,
			ConnectionID:      h.Connection.ID,
			OrderID:           o.ID,
			Pending:           st.Pending.StringFixed(2),
		})
	}
	return out
}

func disputeItems(h trade.History) []Item {
	var out []Item
	for _, i := range h.Issues {
		if !i.Open() {
			continue
		}
		out = append(out, Item{
			Category:          Disputes,
			Priority:          Disputes.Priority(),
			FrictionStartedAt: i.CreatedAt,
			ConnectionID:      h.Connection.ID,
			OrderID:           i.OrderID,
			IssueID:           i.ID,
		})
	}
	return out
}

func approvalItems(h trade.History, now time.Time) []Item {
	var out []Item
	for _, o := range h.Orders {
		var started time.Time
		switch order.DeriveState(o) {
		case order.StatePlaced:
			started = o.CreatedAt
		case order.StateAccepted:
			if now.Sub(*o.AcceptedAt) <= DispatchGrace {
				continue
			}
			started = *o.AcceptedAt
		default:
			continue
		}
		out = append(out, Item{
			Category:          ApprovalNeeded,
			Priority:          ApprovalNeeded.Priority(),
			FrictionStartedAt: started,
			ConnectionID:      h.Connection.ID,
			OrderID:           o.ID,
		})
	}
	return out
}

type civilDay struct {
	y int
	m time.Month
	d int
}

func dayOf(t time.Time, loc *time.Location) civilDay {
	y, m, d := t.In(loc).Date()
	return civilDay{y, m, d}
}

// Friction says which groups of live friction a connection has, as seen
// through its attention items.
type Friction struct {
	Settlement  bool
	Operational bool
	Quality     bool
}

// Any reports whether any group is active.
func (f Friction) Any() bool {
	return f.Settlement || f.Operational || f.Quality
}

// FrictionFor summarises the items belonging to connectionID. Pending
// payments that are not yet due are not friction.
func FrictionFor(items []Item, connectionID string) Friction {
	var f Friction
	for _, it := range items {
		if it.ConnectionID != connectionID {
			continue
		}
		switch it.Category {
		case OverdueWithOpenIssue, Overdue, DueToday:
			f.Settlement = true
		case ApprovalNeeded:
			f.Operational = true
		case Disputes:
			f.Quality = true
		}
	}
	return f
}
