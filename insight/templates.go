package insight

import (
	"fmt"
	"strings"

	"tradeflow/behaviour"
)

// Group ties a template to the friction flag that can suppress it.
type Group string

const (
	GroupSettlement  Group = "settlement"
	GroupOperational Group = "operational"
	GroupQuality     Group = "quality"
)

// Template is one candidate sentence. Positive templates are withheld while
// their group has live friction.
type Template struct {
	Key      string
	Group    Group
	Positive bool
	Applies  func(behaviour.Signals) bool
	Render   func(behaviour.Signals) string
}

// Templates is the candidate table in positional preference order.
var Templates = []Template{
	{
		Key:   "settlement.overdue",
		Group: GroupSettlement,
		Applies: func(s behaviour.Signals) bool {
			return s.Settlement.Overdue >= 1
		},
		Render: func(s behaviour.Signals) string {
			return plural(s.Settlement.Overdue, "payment is", "payments are") + " overdue"
		},
	},
	{
		Key:   "settlement.partial",
		Group: GroupSettlement,
		Applies: func(s behaviour.Signals) bool {
			return s.Settlement.Partial >= 2
		},
		Render: func(s behaviour.Signals) string {
			return fmt.Sprintf("%d orders are only partly paid", s.Settlement.Partial)
		},
	},
	{
		Key:   "settlement.late",
		Group: GroupSettlement,
		Applies: func(s behaviour.Signals) bool {
			return s.Settlement.Late > 0 && s.Settlement.Late >= s.Settlement.OnTime
		},
		Render: func(behaviour.Signals) string {
			return "Payments have mostly arrived after the due date this month"
		},
	},
	{
		Key:      "settlement.on_time",
		Group:    GroupSettlement,
		Positive: true,
		Applies: func(s behaviour.Signals) bool {
			return s.Settlement.OnTime >= 2 && s.Settlement.Late == 0 && s.Settlement.Overdue == 0
		},
		Render: func(behaviour.Signals) string {
			return "Payments usually arrive on time"
		},
	},
	{
		Key:   "operational.slow_acceptance",
		Group: GroupOperational,
		Applies: func(s behaviour.Signals) bool {
			return s.Operational.MeanAcceptanceHours > 48
		},
		Render: func(s behaviour.Signals) string {
			return fmt.Sprintf("Orders take about %.0f hours to be accepted", s.Operational.MeanAcceptanceHours)
		},
	},
	{
		Key:   "operational.stalled_dispatch",
		Group: GroupOperational,
		Applies: func(s behaviour.Signals) bool {
			return s.Operational.StalledDispatch >= 1
		},
		Render: func(s behaviour.Signals) string {
			return plural(s.Operational.StalledDispatch, "accepted order has", "accepted orders have") + " waited over a day for dispatch"
		},
	},
	{
		Key:      "operational.quick_acceptance",
		Group:    GroupOperational,
		Positive: true,
		Applies: func(s behaviour.Signals) bool {
			return s.Operational.MeanAcceptanceHours > 0 && s.Operational.MeanAcceptanceHours <= 24
		},
		Render: func(behaviour.Signals) string {
			return "Orders are usually accepted within a day"
		},
	},
	{
		Key:      "operational.reliable_delivery",
		Group:    GroupOperational,
		Positive: true,
		Applies: func(s behaviour.Signals) bool {
			return s.Operational.Delivered >= 3 && s.Operational.DeliveryConsistency >= 0.9
		},
		Render: func(behaviour.Signals) string {
			return "Dispatched orders are reliably delivered"
		},
	},
	{
		Key:   "quality.recurring",
		Group: GroupQuality,
		Applies: func(s behaviour.Signals) bool {
			return len(s.Quality.RecurringTypes) > 0
		},
		Render: func(s behaviour.Signals) string {
			names := make([]string, len(s.Quality.RecurringTypes))
			for i, t := range s.Quality.RecurringTypes {
				names[i] = strings.ReplaceAll(string(t), "_", " ")
			}
			return "Recurring issues: " + strings.Join(names, ", ")
		},
	},
	{
		Key:   "quality.open_issues",
		Group: GroupQuality,
		Applies: func(s behaviour.Signals) bool {
			return s.Quality.OpenIssues >= 1
		},
		Render: func(s behaviour.Signals) string {
			return plural(s.Quality.OpenIssues, "issue is", "issues are") + " still open"
		},
	},
	{
		Key:      "quality.clean",
		Group:    GroupQuality,
		Positive: true,
		Applies: func(s behaviour.Signals) bool {
			return s.Quality.IssuesInWindow == 0 && s.Quality.OpenIssues == 0 && s.Operational.Delivered >= 1
		},
		Render: func(behaviour.Signals) string {
			return "No quality issues reported in the last 30 days"
		},
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
