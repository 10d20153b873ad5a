package trade

import "sort"

// History is the full event log of one connection, the unit every
// aggregation in the pipeline works on.
type History struct {
	Connection Connection
	Orders     []Order
	Payments   []PaymentEvent
	Issues     []IssueReport
}

// OrdersByCreation returns the orders sorted by creation time, ties broken
// by id so the order is total.
func (h History) OrdersByCreation() []Order {
	out := make([]Order, len(h.Orders))
	copy(out, h.Orders)
	SortByCreation(out)
	return out
}

// PaymentsFor returns the payments recorded against orderID.
func (h History) PaymentsFor(orderID string) []PaymentEvent {
	var out []PaymentEvent
	for _, p := range h.Payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

// IssuesFor returns the issues raised against orderID.
func (h History) IssuesFor(orderID string) []IssueReport {
	var out []IssueReport
	for _, i := range h.Issues {
		if i.OrderID == orderID {
			out = append(out, i)
		}
	}
	return out
}

// HasOpenIssue reports whether orderID has any unresolved issue.
func (h History) HasOpenIssue(orderID string) bool {
	for _, i := range h.Issues {
		if i.OrderID == orderID && i.Open() {
			return true
		}
	}
	return false
}

// SortByCreation sorts orders in place by creation time then id.
func SortByCreation(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
