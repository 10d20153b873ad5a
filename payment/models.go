package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoAcceptAfter is how long the non-recording party has to respond before
// a payment is accepted on their behalf.
const AutoAcceptAfter = 48 * time.Hour

// RecordParams captures a participant self-reporting a payment.
type RecordParams struct {
	OrderID string
	ActorID string
	Amount  decimal.Decimal
}
