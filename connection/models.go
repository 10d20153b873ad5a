package connection

import "tradeflow/trade"

// CreateParams captures a request to open a connection with a counterparty.
type CreateParams struct {
	ActorID        string
	CounterpartyID string
	// ActorRole is the role the requesting business takes.
	ActorRole trade.Role
	// Terms may only be set up front when the actor is the supplier.
	Terms *trade.PaymentTerm
}

// SetTermsParams captures a supplier updating the connection's payment terms.
type SetTermsParams struct {
	ConnectionID string
	ActorID      string
	Terms        trade.PaymentTerm
}

// DefaultHealth is the label a connection carries before its first recompute.
const DefaultHealth = "stable"
