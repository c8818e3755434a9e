package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the order subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed discounts a fixed amount, never more than the subtotal itself.
	TypeFixed Type = "fixed"
)

// Status is the lifecycle state of a coupon. Only ACTIVE coupons are
// redeemable.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusBlocked  Status = "BLOCKED"
	StatusInactive Status = "INACTIVE"
)

var (
	// ErrNotFound is returned when no redeemable coupon exists for a code.
	// Inactive, blocked and unknown codes are indistinguishable to callers.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when the current time is outside the coupon's
	// validity window or past its expiry.
	ErrExpired = errors.New("coupon expired")
	// ErrLimitReached is returned when the coupon has exhausted its usage limit.
	ErrLimitReached = errors.New("coupon usage limit reached")
	// ErrNotEligible is returned when the coupon carries a customer allow-list
	// and the ordering customer is not on it.
	ErrNotEligible = errors.New("customer not eligible for coupon")
)

// MinimumNotMetError indicates the order subtotal is below the coupon's
// minimum purchase amount.
type MinimumNotMetError struct {
	Minimum decimal.Decimal
}

func (e *MinimumNotMetError) Error() string {
	return "coupon minimum purchase amount is " + e.Minimum.String()
}

// Coupon is a discount code with eligibility rules and a usage cap.
// Codes are stored upper-cased and matched case-insensitively.
type Coupon struct {
	Code              string
	Type              Type
	Amount            decimal.Decimal
	Minimum           decimal.Decimal // minimum subtotal to qualify, zero = none
	Maximum           decimal.Decimal // cap on the computed discount, zero = uncapped
	UsageLimit        int             // zero = unlimited
	Used              int
	StartsAt          *time.Time
	EndsAt            *time.Time
	ExpiresAt         *time.Time
	Status            Status
	EligibleCustomers []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Discount is the result of a successful coupon application.
type Discount struct {
	Code   string
	Amount decimal.Decimal
}

// NormalizeCode canonicalizes a user-supplied coupon code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of coupons.
//
// ConsumeUse increments the usage counter with a store-side guard: the
// increment succeeds only while used < limit (or the limit is zero). The
// order store adapters invoke it inside the same atomic unit as order
// creation, so concurrent checkouts cannot redeem past the limit. It returns
// ErrLimitReached when the guard rejects the increment.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	ConsumeUse(ctx context.Context, code string) error
	Upsert(ctx context.Context, c Coupon) error
}
