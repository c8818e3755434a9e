package coupon

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote computes the discount a coupon grants against an order subtotal.
//
// It is pure: it never mutates the coupon, and in particular never touches
// the usage counter. Consuming a use happens atomically with order
// persistence via Repository.ConsumeUse.
//
// The returned amount is rounded to 2 decimal places.
func Quote(c Coupon, customerID string, subtotal decimal.Decimal, now time.Time) (Discount, error) {
	var d Discount

	if c.Status != StatusActive {
		return d, ErrNotFound
	}

	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return d, ErrExpired
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return d, ErrExpired
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return d, ErrExpired
	}

	if c.UsageLimit > 0 && c.Used >= c.UsageLimit {
		return d, ErrLimitReached
	}

	if subtotal.LessThan(c.Minimum) {
		return d, &MinimumNotMetError{Minimum: c.Minimum}
	}

	if len(c.EligibleCustomers) > 0 && !slices.Contains(c.EligibleCustomers, customerID) {
		return d, ErrNotEligible
	}

	var amount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		amount = subtotal.Mul(c.Amount).Div(hundred)
		if c.Maximum.IsPositive() && amount.GreaterThan(c.Maximum) {
			amount = c.Maximum
		}
	case TypeFixed:
		amount = c.Amount
		if c.Maximum.IsPositive() && amount.GreaterThan(c.Maximum) {
			amount = c.Maximum
		}
		// A fixed discount never exceeds the subtotal, so the net total
		// cannot go negative from the coupon alone.
		if amount.GreaterThan(subtotal) {
			amount = subtotal
		}
	default:
		return d, ErrNotFound
	}

	return Discount{Code: c.Code, Amount: amount.Round(2)}, nil
}
