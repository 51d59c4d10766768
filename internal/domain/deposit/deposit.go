// Package deposit checks that a batch of M-Pesa payments adds up to the bank
// deposit they are reconciled against.
//
// Paybill collections reach the bank as one swept deposit, so a bulk
// reconciliation under a shared bank reference should cover payments whose
// total equals the deposit. A shortfall usually means a payment was left out
// of the batch; an excess means one belongs to a different deposit.
package deposit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance absorbs rounding in bank exports.
var Tolerance = decimal.RequireFromString("0.02")

// Validation contains the result of checking a batch against a deposit.
type Validation struct {
	// Valid is true if the payments sum to the deposit
	Valid bool `json:"valid"`

	// PaymentsSum is the sum of the batch's payment amounts
	PaymentsSum decimal.Decimal `json:"payments_sum"`

	// ExpectedSum is what the payments should sum to
	ExpectedSum decimal.Decimal `json:"expected_sum"`

	// Difference is PaymentsSum minus ExpectedSum
	Difference decimal.Decimal `json:"difference"`

	// Reason explains why validation failed (empty if valid)
	Reason string `json:"reason,omitempty"`
}

// Validate checks that payment amounts sum to the deposit.
//
// fees is what the bank or the paybill operator withheld before crediting
// the account, so the check passes when:
//
//	sum(amounts) ≈ depositAmount + fees
func Validate(amounts []decimal.Decimal, depositAmount, fees decimal.Decimal) *Validation {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	sum = sum.Round(2)
	expected := depositAmount.Add(fees).Round(2)
	diff := sum.Sub(expected)

	v := &Validation{
		PaymentsSum: sum,
		ExpectedSum: expected,
		Difference:  diff,
	}

	if diff.Abs().LessThanOrEqual(Tolerance) {
		v.Valid = true
		return v
	}

	if diff.IsNegative() {
		v.Reason = fmt.Sprintf("payments (KES %s) are less than the deposit (KES %s), missing KES %s, likely a payment is not in the batch",
			sum.StringFixed(2), expected.StringFixed(2), diff.Neg().StringFixed(2))
	} else {
		v.Reason = fmt.Sprintf("payments (KES %s) exceed the deposit (KES %s) by KES %s, possibly a payment from another deposit",
			sum.StringFixed(2), expected.StringFixed(2), diff.StringFixed(2))
	}
	return v
}

// ValidateSimple checks a batch against a deposit with nothing withheld.
func ValidateSimple(amounts []decimal.Decimal, depositAmount decimal.Decimal) *Validation {
	return Validate(amounts, depositAmount, decimal.Zero)
}
