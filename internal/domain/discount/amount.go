package discount

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FeeAmount computes the signed fee registered on the cart for a rule.
// The amount is a negative adjustment: -(subtotal * percent / 100), rounded
// to 2 decimal places. A zero percent or zero subtotal yields a zero amount,
// which is still a valid fee entry.
//
// Percent is not validated here; the admin surface constrains it to >= 1.
func FeeAmount(subtotal decimal.Decimal, percent int64) decimal.Decimal {
	amount := subtotal.Mul(decimal.NewFromInt(percent)).Div(hundred)
	return amount.Round(2).Neg()
}
