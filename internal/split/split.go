// Package split validates how an expense total is divided among the
// participants before it is committed to the ledger.
package split

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avoronov/splitbot/internal/receipt"
)

// Epsilon absorbs rounding noise when comparing share sums to the total.
var Epsilon = decimal.RequireFromString("0.01")

// ImbalanceError reports a share column whose sum does not match the total.
// It is user-correctable: the caller should re-prompt rather than abort the
// session.
type ImbalanceError struct {
	Column string
	Want   decimal.Decimal
	Got    decimal.Decimal
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("%s shares sum to %s, expected %s", e.Column, e.Got, e.Want)
}

// Validate checks the split invariant for a candidate. Equal mode needs no
// computation here; the ledger divides the total among group members itself.
// Exact mode requires both paid and owed columns to sum to the total within
// Epsilon.
func Validate(total decimal.Decimal, option receipt.SplitOption, users []receipt.UserShare) error {
	switch option {
	case receipt.SplitEqual:
		return nil
	case receipt.SplitExact:
	default:
		return fmt.Errorf("unknown split option %q", option)
	}

	if len(users) == 0 {
		return fmt.Errorf("exact split requires at least one user share")
	}

	paid := decimal.Zero
	owed := decimal.Zero
	for _, u := range users {
		if u.PaidShare.IsNegative() || u.OwedShare.IsNegative() {
			return fmt.Errorf("negative share for user %d", u.UserID)
		}
		paid = paid.Add(u.PaidShare)
		owed = owed.Add(u.OwedShare)
	}

	if paid.Sub(total).Abs().GreaterThan(Epsilon) {
		return &ImbalanceError{Column: "paid", Want: total, Got: paid}
	}
	if owed.Sub(total).Abs().GreaterThan(Epsilon) {
		return &ImbalanceError{Column: "owed", Want: total, Got: owed}
	}
	return nil
}
