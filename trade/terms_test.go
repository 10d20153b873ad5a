package trade

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPaymentTermValidate(t *testing.T) {
	cases := []struct {
		name string
		term PaymentTerm
		ok   bool
	}{
		{"advance", AdvanceRequired(), true},
		{"on delivery", PaymentOnDelivery(), true},
		{"bill to bill", BillToBill(), true},
		{"net 30", DaysAfterDelivery(30), true},
		{"net at limit", DaysAfterDelivery(MaxTermDays), true},
		{"net zero", DaysAfterDelivery(0), false},
		{"net negative", DaysAfterDelivery(-5), false},
		{"net past limit", DaysAfterDelivery(MaxTermDays + 1), false},
		{"net huge", DaysAfterDelivery(200000), false},
		{"days on advance", PaymentTerm{Kind: TermAdvanceRequired, Days: 3}, false},
		{"unknown kind", PaymentTerm{Kind: "barter"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.term.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidTerms) {
				t.Fatalf("expected ErrInvalidTerms, got %v", err)
			}
		})
	}
}

func TestPaymentTermUnmarshalRejectsLongTerms(t *testing.T) {
	var term PaymentTerm
	err := json.Unmarshal([]byte(`{"kind":"days_after_delivery","days":200000}`), &term)
	if !errors.Is(err, ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms, got %v", err)
	}
}
