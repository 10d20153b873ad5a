package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tradeflow/auth"
	"tradeflow/connection"
	"tradeflow/issue"
	"tradeflow/order"
	"tradeflow/payment"
	"tradeflow/trade"
)

func mapItems[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleAttention(w http.ResponseWriter, r *http.Request) {
	items, err := s.overviewService.Attention(r.Context(), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(items, toAttentionResponse)))
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.connectionService.ListForBusiness(r.Context(), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(conns, toConnectionResponse)))
}

type createConnectionRequest struct {
	CounterpartyID string        `json:"counterpartyId"`
	Role           string        `json:"role"`
	Terms          *termsPayload `json:"terms"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	params := connection.CreateParams{
		ActorID:        businessIDFrom(r.Context()),
		CounterpartyID: req.CounterpartyID,
		ActorRole:      trade.Role(req.Role),
	}
	if req.Terms != nil {
		t := req.Terms.toTerm()
		params.Terms = &t
	}
	c, err := s.connectionService.Create(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionResponse(c))
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	c, err := s.connectionService.Get(r.Context(), chi.URLParam(r, "connectionID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(c))
}

func (s *Server) handleSetTerms(w http.ResponseWriter, r *http.Request) {
	var req termsPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.connectionService.SetTerms(r.Context(), connection.SetTermsParams{
		ConnectionID: chi.URLParam(r, "connectionID"),
		ActorID:      businessIDFrom(r.Context()),
		Terms:        req.toTerm(),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(c))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.List(r.Context(), chi.URLParam(r, "connectionID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(orders, toOrderResponse)))
}

type createOrderRequest struct {
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := s.orderService.Create(r.Context(), order.CreateParams{
		ConnectionID: chi.URLParam(r, "connectionID"),
		ActorID:      businessIDFrom(r.Context()),
		Description:  req.Description,
		Value:        req.Value,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	got, err := s.overviewService.Insights(r.Context(), businessIDFrom(r.Context()), chi.URLParam(r, "connectionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(got, toInsightResponse)))
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	rep, err := s.overviewService.Signals(r.Context(), businessIDFrom(r.Context()), chi.URLParam(r, "connectionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignalsResponse(rep))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orderService.Get(r.Context(), chi.URLParam(r, "orderID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

var transitions = map[string]order.Transition{
	"accept":   order.TransitionAccept,
	"decline":  order.TransitionDecline,
	"dispatch": order.TransitionDispatch,
	"deliver":  order.TransitionDeliver,
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	t, ok := transitions[chi.URLParam(r, "transition")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown order action")
		return
	}
	o, err := s.orderService.Transition(r.Context(), chi.URLParam(r, "orderID"), businessIDFrom(r.Context()), t)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := s.overviewService.Settlement(r.Context(), businessIDFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(st))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	ps, err := s.paymentService.ListByOrder(r.Context(), chi.URLParam(r, "orderID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(ps, toPaymentResponse)))
}

type recordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.paymentService.Record(r.Context(), payment.RecordParams{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: businessIDFrom(r.Context()),
		Amount:  req.Amount,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (s *Server) handleDisputePayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.paymentService.Dispute(r.Context(), chi.URLParam(r, "paymentID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleAcceptPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.paymentService.Accept(r.Context(), chi.URLParam(r, "paymentID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	is, err := s.issueService.ListByOrder(r.Context(), chi.URLParam(r, "orderID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapItems(is, toIssueResponse)))
}

type raiseIssueRequest struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

func (s *Server) handleRaiseIssue(w http.ResponseWriter, r *http.Request) {
	var req raiseIssueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rep, err := s.issueService.Raise(r.Context(), issue.RaiseParams{
		OrderID:     chi.URLParam(r, "orderID"),
		ActorID:     businessIDFrom(r.Context()),
		Type:        trade.IssueType(req.Type),
		Severity:    trade.Severity(req.Severity),
		Description: req.Description,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIssueResponse(rep))
}

func (s *Server) handleResolveIssue(w http.ResponseWriter, r *http.Request) {
	rep, err := s.issueService.Resolve(r.Context(), chi.URLParam(r, "issueID"), businessIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIssueResponse(rep))
}
