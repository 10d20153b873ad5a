package trade

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TermKind tags the payment term variant.
type TermKind string

const (
	TermAdvanceRequired   TermKind = "advance_required"
	TermPaymentOnDelivery TermKind = "payment_on_delivery"
	TermBillToBill        TermKind = "bill_to_bill"
	TermDaysAfterDelivery TermKind = "days_after_delivery"
)

// MaxTermDays bounds days-after-delivery terms to ten years.
const MaxTermDays = 3650

// ErrInvalidTerms is returned for malformed payment term variants.
var ErrInvalidTerms = errors.New("trade: invalid payment terms")

// PaymentTerm is a closed variant. Days is only meaningful for
// TermDaysAfterDelivery and must then be positive.
type PaymentTerm struct {
	Kind TermKind
	Days int
}

func AdvanceRequired() PaymentTerm   { return PaymentTerm{Kind: TermAdvanceRequired} }
func PaymentOnDelivery() PaymentTerm { return PaymentTerm{Kind: TermPaymentOnDelivery} }
func BillToBill() PaymentTerm        { return PaymentTerm{Kind: TermBillToBill} }

func DaysAfterDelivery(days int) PaymentTerm {
	return PaymentTerm{Kind: TermDaysAfterDelivery, Days: days}
}

// Validate checks the variant is one of the four known shapes.
func (t PaymentTerm) Validate() error {
	switch t.Kind {
	case TermAdvanceRequired, TermPaymentOnDelivery, TermBillToBill:
		if t.Days != 0 {
			return fmt.Errorf("%w: %s takes no days", ErrInvalidTerms, t.Kind)
		}
		return nil
	case TermDaysAfterDelivery:
		if t.Days <= 0 {
			return fmt.Errorf("%w: days after delivery must be positive, got %d", ErrInvalidTerms, t.Days)
		}
		if t.Days > MaxTermDays {
			return fmt.Errorf("%w: days after delivery must be at most %d, got %d", ErrInvalidTerms, MaxTermDays, t.Days)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTerms, t.Kind)
	}
}

func (t PaymentTerm) String() string {
	if t.Kind == TermDaysAfterDelivery {
		return fmt.Sprintf("%s(%d)", t.Kind, t.Days)
	}
	return string(t.Kind)
}

type termJSON struct {
	Kind TermKind `json:"kind"`
	Days int      `json:"days,omitempty"`
}

// MarshalJSON encodes the snapshot stored on orders and connections.
func (t PaymentTerm) MarshalJSON() ([]byte, error) {
	return json.Marshal(termJSON{Kind: t.Kind, Days: t.Days})
}

// UnmarshalJSON decodes and validates a stored term.
func (t *PaymentTerm) UnmarshalJSON(data []byte) error {
	var raw termJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("trade: decode payment terms: %w", err)
	}
	decoded := PaymentTerm{Kind: raw.Kind, Days: raw.Days}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*t = decoded
	return nil
}
