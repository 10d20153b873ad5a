// Package trade holds the entities shared by every stage of the derivation
// pipeline. The types mirror the event store tables and carry no JSON
// annotations so presentation layers can shape their own payloads.
package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the part a business plays inside a connection.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
)

// Valid reports whether r is one of the two connection roles.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSupplier
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSupplier
	}
	return RoleBuyer
}

// Connection is a buyer–supplier pairing.
type Connection struct {
	ID         string
	BuyerID    string
	SupplierID string
	// Terms stays nil until the supplier sets them; orders cannot be created before.
	Terms     *PaymentTerm
	Health    string
	CreatedAt time.Time
}

// RoleOf returns the role businessID plays, or false when it is not a participant.
func (c Connection) RoleOf(businessID string) (Role, bool) {
	switch {
	case businessID == "":
		return "", false
	case businessID == c.BuyerID:
		return RoleBuyer, true
	case businessID == c.SupplierID:
		return RoleSupplier, true
	default:
		return "", false
	}
}

// Participant reports whether businessID is the buyer or the supplier.
func (c Connection) Participant(businessID string) bool {
	_, ok := c.RoleOf(businessID)
	return ok
}

// Counterparty returns the other participant's id.
func (c Connection) Counterparty(businessID string) string {
	if businessID == c.BuyerID {
		return c.SupplierID
	}
	return c.BuyerID
}

// Order is a single transaction placed under a connection. Its lifecycle
// state is derived from which timestamps are present and never stored.
type Order struct {
	ID           string
	ConnectionID string
	Description  string
	Value        decimal.Decimal
	Terms        PaymentTerm
	CreatedBy    string
	CreatedAt    time.Time
	AcceptedAt   *time.Time
	DispatchedAt *time.Time
	DeliveredAt  *time.Time
	DeclinedAt   *time.Time
}

// PaymentEvent is a self-reported payment against an order.
type PaymentEvent struct {
	ID         string
	OrderID    string
	Amount     decimal.Decimal
	RecordedBy string
	RecordedAt time.Time
	DisputedAt *time.Time
	AcceptedAt *time.Time
}

type IssueType string

const (
	IssueDamagedGoods         IssueType = "damaged_goods"
	IssueShortSupply          IssueType = "short_supply"
	IssueWrongItem            IssueType = "wrong_item"
	IssueQualityBelowStandard IssueType = "quality_below_standard"
	IssuePriceMismatch        IssueType = "price_mismatch"
	IssueBillingError         IssueType = "billing_error"
)

// Valid reports whether t belongs to the closed issue type set.
func (t IssueType) Valid() bool {
	switch t {
	case IssueDamagedGoods, IssueShortSupply, IssueWrongItem,
		IssueQualityBelowStandard, IssuePriceMismatch, IssueBillingError:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// IssueReport is a quality or billing problem raised against an order.
type IssueReport struct {
	ID          string
	OrderID     string
	Type        IssueType
	Severity    Severity
	RaisedBy    Role
	Description string
	Status      IssueStatus
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Open reports whether the issue still awaits resolution.
func (i IssueReport) Open() bool {
	return i.Status != IssueResolved
}
