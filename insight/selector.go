// Package insight picks at most two short sentences describing a
// connection's recent behaviour.
package insight

import (
	"tradeflow/attention"
	"tradeflow/behaviour"
	"tradeflow/trade"
)

// MaxInsights caps how many sentences Select returns.
const MaxInsights = 2

type Insight struct {
	Key   string
	Group Group
	Text  string
}

// Select renders the applicable templates for viewer. A positive template
// is dropped while its group has friction so the two never contradict each
// other. With more than two candidates left, the viewer's role decides the
// pair.
func Select(sig behaviour.Signals, friction attention.Friction, viewer trade.Role) []Insight {
	return selectFrom(Templates, sig, friction, viewer)
}

func selectFrom(table []Template, sig behaviour.Signals, friction attention.Friction, viewer trade.Role) []Insight {
	var candidates []Template
	for _, t := range table {
		if t.Positive && suppressed(t.Group, friction) {
			continue
		}
		if t.Applies(sig) {
			candidates = append(candidates, t)
		}
	}

	picked := candidates
	if len(candidates) > MaxInsights {
		picked = pair(candidates, viewer)
	}

	out := make([]Insight, 0, len(picked))
	for _, t := range picked {
		out = append(out, Insight{Key: t.Key, Group: t.Group, Text: t.Render(sig)})
	}
	return out
}

func suppressed(g Group, f attention.Friction) bool {
	switch g {
	case GroupSettlement:
		return f.Settlement
	case GroupOperational:
		return f.Operational
	case GroupQuality:
		return f.Quality
	}
	return false
}

// pair applies the role preference, falling back to the first two.
func pair(candidates []Template, viewer trade.Role) []Template {
	switch viewer {
	case trade.RoleBuyer:
		if i := firstOf(candidates, GroupSettlement); i >= 0 {
			for j := range candidates {
				if j != i {
					return []Template{candidates[i], candidates[j]}
				}
			}
		}
	case trade.RoleSupplier:
		op, q := firstOf(candidates, GroupOperational), firstOf(candidates, GroupQuality)
		if op >= 0 && q >= 0 {
			return []Template{candidates[op], candidates[q]}
		}
	}
	return candidates[:MaxInsights]
}

func firstOf(candidates []Template, g Group) int {
	for i, t := range candidates {
		if t.Group == g {
			return i
		}
	}
	return -1
}
