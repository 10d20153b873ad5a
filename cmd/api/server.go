package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tradeflow/attention"
	"tradeflow/auth"
	"tradeflow/connection"
	"tradeflow/insight"
	"tradeflow/issue"
	"tradeflow/order"
	"tradeflow/overview"
	"tradeflow/payment"
	"tradeflow/settlement"
	"tradeflow/trade"
)

type ctxKey string

const (
	ctxKeyUserID     ctxKey = "user_id"
	ctxKeyBusinessID ctxKey = "business_id"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Claims, error)
}

type connectionService interface {
	Create(ctx context.Context, params connection.CreateParams) (trade.Connection, error)
	SetTerms(ctx context.Context, params connection.SetTermsParams) (trade.Connection, error)
	Get(ctx context.Context, id, actorID string) (trade.Connection, error)
	ListForBusiness(ctx context.Context, businessID string) ([]trade.Connection, error)
}

type orderService interface {
	Create(ctx context.Context, params order.CreateParams) (trade.Order, error)
	Transition(ctx context.Context, orderID, actorID string, t order.Transition) (trade.Order, error)
	Get(ctx context.Context, orderID, actorID string) (trade.Order, error)
	List(ctx context.Context, connectionID, actorID string) ([]trade.Order, error)
}

type paymentService interface {
	Record(ctx context.Context, params payment.RecordParams) (trade.PaymentEvent, error)
	Dispute(ctx context.Context, paymentID, actorID string) (trade.PaymentEvent, error)
	Accept(ctx context.Context, paymentID, actorID string) (trade.PaymentEvent, error)
	ListByOrder(ctx context.Context, orderID, actorID string) ([]trade.PaymentEvent, error)
}

type issueService interface {
	Raise(ctx context.Context, params issue.RaiseParams) (trade.IssueReport, error)
	Resolve(ctx context.Context, issueID, actorID string) (trade.IssueReport, error)
	ListByOrder(ctx context.Context, orderID, actorID string) ([]trade.IssueReport, error)
}

type overviewService interface {
	Attention(ctx context.Context, businessID string) ([]attention.Item, error)
	Insights(ctx context.Context, businessID, connectionID string) ([]insight.Insight, error)
	Settlement(ctx context.Context, businessID, orderID string) (overview.OrderSettlement, error)
	Signals(ctx context.Context, businessID, connectionID string) (overview.Report, error)
}

// Server holds the services the HTTP handlers delegate to.
type Server struct {
	authService       authService
	connectionService connectionService
	orderService      orderService
	paymentService    paymentService
	issueService      issueService
	overviewService   overviewService
	logger            *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Routes builds the chi router for the public API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/attention", s.handleAttention)

			r.Get("/connections", s.handleListConnections)
			r.Post("/connections", s.handleCreateConnection)
			r.Get("/connections/{connectionID}", s.handleConnection)
			r.Put("/connections/{connectionID}/terms", s.handleSetTerms)
			r.Get("/connections/{connectionID}/orders", s.handleListOrders)
			r.Post("/connections/{connectionID}/orders", s.handleCreateOrder)
			r.Get("/connections/{connectionID}/insights", s.handleInsights)
			r.Get("/connections/{connectionID}/signals", s.handleSignals)

			r.Get("/orders/{orderID}", s.handleOrder)
			r.Post("/orders/{orderID}/{transition}", s.handleTransition)
			r.Get("/orders/{orderID}/settlement", s.handleSettlement)
			r.Get("/orders/{orderID}/payments", s.handleListPayments)
			r.Post("/orders/{orderID}/payments", s.handleRecordPayment)
			r.Get("/orders/{orderID}/issues", s.handleListIssues)
			r.Post("/orders/{orderID}/issues", s.handleRaiseIssue)

			r.Post("/payments/{paymentID}/dispute", s.handleDisputePayment)
			r.Post("/payments/{paymentID}/accept", s.handleAcceptPayment)
			r.Post("/issues/{issueID}/resolve", s.handleResolveIssue)
		})
	})
	return r
}

// requireAuth resolves the bearer token into the acting user and business.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyBusinessID, claims.BusinessID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func businessIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyBusinessID).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trade.ErrInvalidTerms),
		errors.Is(err, connection.ErrInvalidParty),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, issue.ErrInvalid),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, connection.ErrForbidden),
		errors.Is(err, order.ErrForbidden),
		errors.Is(err, payment.ErrForbidden),
		errors.Is(err, issue.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, connection.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, issue.ErrNotFound),
		errors.Is(err, overview.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, connection.ErrAlreadyExists),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrNotMonotonic),
		errors.Is(err, issue.ErrBadStatus),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, order.ErrTermsRequired),
		errors.Is(err, settlement.ErrNonPositiveAmount),
		errors.Is(err, settlement.ErrExceedsBalance),
		errors.Is(err, payment.ErrOrderDeclined):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with its mapped status. Unexpected errors
// are logged and hidden from the caller.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
