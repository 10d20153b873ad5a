package issue

import "tradeflow/trade"

// RaiseParams captures a participant reporting a problem with an order.
type RaiseParams struct {
	OrderID     string
	ActorID     string
	Type        trade.IssueType
	Severity    trade.Severity
	Description string
}
