package settlement

import (
	"time"

	"tradeflow/trade"
)

const day = 24 * time.Hour

// DueDate resolves when payment for order falls due. siblings is the full
// order list of the connection; only bill-to-bill terms read it, but every
// caller supplies it so the signature stays uniform across term kinds.
// A nil result means the due date cannot be resolved yet.
func DueDate(order trade.Order, siblings []trade.Order) *time.Time {
	switch order.Terms.Kind {
	case trade.TermAdvanceRequired:
		t := order.CreatedAt
		return &t
	case trade.TermPaymentOnDelivery:
		return copyTime(order.DeliveredAt)
	case trade.TermDaysAfterDelivery:
		if order.DeliveredAt == nil {
			return nil
		}
		days := min(order.Terms.Days, trade.MaxTermDays)
		t := order.DeliveredAt.Add(time.Duration(days) * day)
		return &t
	case trade.TermBillToBill:
		next := nextLiveOrder(order, siblings)
		if next == nil {
			return nil
		}
		return copyTime(next.DeliveredAt)
	default:
		return nil
	}
}

// nextLiveOrder finds the first non-declined order created after order.
func nextLiveOrder(order trade.Order, siblings []trade.Order) *trade.Order {
	sorted := make([]trade.Order, 0, len(siblings)+1)
	seen := false
	for _, s := range siblings {
		if s.ID == order.ID {
			seen = true
		}
		sorted = append(sorted, s)
	}
	if !seen {
		sorted = append(sorted, order)
	}
	trade.SortByCreation(sorted)

	after := false
	for i := range sorted {
		if sorted[i].ID == order.ID {
			after = true
			continue
		}
		if !after || sorted[i].DeclinedAt != nil {
			continue
		}
		return &sorted[i]
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
