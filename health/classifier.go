// Package health labels a connection from its behaviour signals.
package health

import "tradeflow/behaviour"

type State string

const (
	UnderStress    State = "under_stress"
	FrictionRising State = "friction_rising"
	Active         State = "active"
	Stable         State = "stable"
)

// Valid reports whether s is one of the four labels.
func (s State) Valid() bool {
	switch s {
	case UnderStress, FrictionRising, Active, Stable:
		return true
	}
	return false
}

// Classify applies the rules most severe first; the first match wins. The
// thresholds are business rules and are not configurable.
func Classify(sig behaviour.Signals) State {
	overdue := sig.Settlement.Overdue
	open := sig.Quality.OpenIssues

	switch {
	case overdue >= 2, open >= 3, overdue >= 1 && open >= 2:
		return UnderStress
	case overdue == 1,
		sig.Settlement.Partial >= 2,
		open >= 1,
		sig.Operational.MeanAcceptanceHours > 48,
		sig.Operational.MeanDispatchHours > 72:
		return FrictionRising
	case sig.Settlement.RecentOrders >= 1:
		return Active
	default:
		return Stable
	}
}
