package main

import (
	"time"

	"tradeflow/attention"
	"tradeflow/auth"
	"tradeflow/insight"
	"tradeflow/order"
	"tradeflow/overview"
	"tradeflow/trade"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	BusinessID string `json:"businessId"`
	CreatedAt  string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, BusinessID: u.BusinessID, CreatedAt: formatTime(u.CreatedAt)}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type termsPayload struct {
	Kind string `json:"kind"`
	Days int    `json:"days,omitempty"`
}

func (p termsPayload) toTerm() trade.PaymentTerm {
	return trade.PaymentTerm{Kind: trade.TermKind(p.Kind), Days: p.Days}
}

func toTermsPayload(t trade.PaymentTerm) termsPayload {
	return termsPayload{Kind: string(t.Kind), Days: t.Days}
}

type connectionResponse struct {
	ID         string        `json:"id"`
	BuyerID    string        `json:"buyerId"`
	SupplierID string        `json:"supplierId"`
	Terms      *termsPayload `json:"terms"`
	Health     string        `json:"health"`
	CreatedAt  string        `json:"createdAt"`
}

func toConnectionResponse(c trade.Connection) connectionResponse {
	resp := connectionResponse{
		ID:         c.ID,
		BuyerID:    c.BuyerID,
		SupplierID: c.SupplierID,
		Health:     c.Health,
		CreatedAt:  formatTime(c.CreatedAt),
	}
	if c.Terms != nil {
		t := toTermsPayload(*c.Terms)
		resp.Terms = &t
	}
	return resp
}

type orderResponse struct {
	ID           string       `json:"id"`
	ConnectionID string       `json:"connectionId"`
	Description  string       `json:"description"`
	Value        string       `json:"value"`
	Terms        termsPayload `json:"terms"`
	State        string       `json:"state"`
	CreatedBy    string       `json:"createdBy"`
	CreatedAt    string       `json:"createdAt"`
	AcceptedAt   *string      `json:"acceptedAt"`
	DispatchedAt *string      `json:"dispatchedAt"`
	DeliveredAt  *string      `json:"deliveredAt"`
	DeclinedAt   *string      `json:"declinedAt"`
}

func toOrderResponse(o trade.Order) orderResponse {
	return orderResponse{
		ID:           o.ID,
		ConnectionID: o.ConnectionID,
		Description:  o.Description,
		Value:        o.Value.StringFixed(2),
		Terms:        toTermsPayload(o.Terms),
		State:        string(order.DeriveState(o)),
		CreatedBy:    o.CreatedBy,
		CreatedAt:    formatTime(o.CreatedAt),
		AcceptedAt:   formatOptional(o.AcceptedAt),
		DispatchedAt: formatOptional(o.DispatchedAt),
		DeliveredAt:  formatOptional(o.DeliveredAt),
		DeclinedAt:   formatOptional(o.DeclinedAt),
	}
}

type paymentResponse struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"orderId"`
	Amount     string  `json:"amount"`
	RecordedBy string  `json:"recordedBy"`
	RecordedAt string  `json:"recordedAt"`
	DisputedAt *string `json:"disputedAt"`
	AcceptedAt *string `json:"acceptedAt"`
}

func toPaymentResponse(p trade.PaymentEvent) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount.StringFixed(2),
		RecordedBy: p.RecordedBy,
		RecordedAt: formatTime(p.RecordedAt),
		DisputedAt: formatOptional(p.DisputedAt),
		AcceptedAt: formatOptional(p.AcceptedAt),
	}
}

type issueResponse struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"orderId"`
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	RaisedBy    string  `json:"raisedBy"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	ResolvedAt  *string `json:"resolvedAt"`
}

func toIssueResponse(i trade.IssueReport) issueResponse {
	return issueResponse{
		ID:          i.ID,
		OrderID:     i.OrderID,
		Type:        string(i.Type),
		Severity:    string(i.Severity),
		RaisedBy:    string(i.RaisedBy),
		Description: i.Description,
		Status:      string(i.Status),
		CreatedAt:   formatTime(i.CreatedAt),
		ResolvedAt:  formatOptional(i.ResolvedAt),
	}
}

type settlementResponse struct {
	OrderID       string  `json:"orderId"`
	Status        string  `json:"status"`
	TotalPaid     string  `json:"totalPaid"`
	Pending       string  `json:"pending"`
	DueDate       *string `json:"dueDate"`
	LastPaymentAt *string `json:"lastPaymentAt"`
	OnTime        bool    `json:"onTime"`
}

func toSettlementResponse(s overview.OrderSettlement) settlementResponse {
	return settlementResponse{
		OrderID:       s.Order.ID,
		Status:        string(s.State.Status),
		TotalPaid:     s.State.TotalPaid.StringFixed(2),
		Pending:       s.State.Pending.StringFixed(2),
		DueDate:       formatOptional(s.State.DueDate),
		LastPaymentAt: formatOptional(s.State.LastPaymentAt),
		OnTime:        s.State.OnTime,
	}
}

type attentionResponse struct {
	Category          string `json:"category"`
	Priority          int    `json:"priority"`
	FrictionStartedAt string `json:"frictionStartedAt"`
	ConnectionID      string `json:"connectionId"`
	OrderID           string `json:"orderId,omitempty"`
	IssueID           string `json:"issueId,omitempty"`
	Pending           string `json:"pending,omitempty"`
}

func toAttentionResponse(it attention.Item) attentionResponse {
	return attentionResponse{
		Category:          string(it.Category),
		Priority:          it.Priority,
		FrictionStartedAt: formatTime(it.FrictionStartedAt),
		ConnectionID:      it.ConnectionID,
		OrderID:           it.OrderID,
		IssueID:           it.IssueID,
		Pending:           it.Pending,
	}
}

type insightResponse struct {
	Key   string `json:"key"`
	Group string `json:"group"`
	Text  string `json:"text"`
}

func toInsightResponse(in insight.Insight) insightResponse {
	return insightResponse{Key: in.Key, Group: string(in.Group), Text: in.Text}
}

type settlementSignals struct {
	OnTime       int `json:"onTime"`
	Late         int `json:"late"`
	Partial      int `json:"partial"`
	Overdue      int `json:"overdue"`
	Unpaid       int `json:"unpaid"`
	RecentOrders int `json:"recentOrders"`
}

type operationalSignals struct {
	MeanAcceptanceHours float64 `json:"meanAcceptanceHours"`
	MeanDispatchHours   float64 `json:"meanDispatchHours"`
	DeliveryConsistency float64 `json:"deliveryConsistency"`
	AwaitingAcceptance  int     `json:"awaitingAcceptance"`
	StalledDispatch     int     `json:"stalledDispatch"`
	Delivered           int     `json:"delivered"`
}

type qualitySignals struct {
	OpenIssues       int      `json:"openIssues"`
	IssuesInWindow   int      `json:"issuesInWindow"`
	RecurringTypes   []string `json:"recurringTypes"`
	RaisedByBuyer    int      `json:"raisedByBuyer"`
	RaisedBySupplier int      `json:"raisedBySupplier"`
}

type signalsResponse struct {
	ConnectionID string             `json:"connectionId"`
	Health       string             `json:"health"`
	Settlement   settlementSignals  `json:"settlement"`
	Operational  operationalSignals `json:"operational"`
	Quality      qualitySignals     `json:"quality"`
}

func toSignalsResponse(r overview.Report) signalsResponse {
	st, op, q := r.Signals.Settlement, r.Signals.Operational, r.Signals.Quality
	recurring := make([]string, 0, len(q.RecurringTypes))
	for _, t := range q.RecurringTypes {
		recurring = append(recurring, string(t))
	}
	return signalsResponse{
		ConnectionID: r.ConnectionID,
		Health:       string(r.Health),
		Settlement: settlementSignals{
			OnTime:       st.OnTime,
			Late:         st.Late,
			Partial:      st.Partial,
			Overdue:      st.Overdue,
			Unpaid:       st.Unpaid,
			RecentOrders: st.RecentOrders,
		},
		Operational: operationalSignals{
			MeanAcceptanceHours: op.MeanAcceptanceHours,
			MeanDispatchHours:   op.MeanDispatchHours,
			DeliveryConsistency: op.DeliveryConsistency,
			AwaitingAcceptance:  op.AwaitingAcceptance,
			StalledDispatch:     op.StalledDispatch,
			Delivered:           op.Delivered,
		},
		Quality: qualitySignals{
			OpenIssues:       q.OpenIssues,
			IssuesInWindow:   q.IssuesInWindow,
			RecurringTypes:   recurring,
			RaisedByBuyer:    q.RaisedByBuyer,
			RaisedBySupplier: q.RaisedBySupplier,
		},
	}
}
