// Package order holds the order aggregate and the settlement service that
// assembles, prices and persists orders.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketbay/settlement/internal/domain/catalog"
)

var (
	// ErrNotFound is returned when no order exists for an id.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when a checkout request carries no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrStatusConflict is returned when a status update lost a race with a
	// concurrent transition on the same order.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// LineItemNotFoundError indicates a cart line referenced a catalog entry
// that does not exist. The whole checkout fails; no partial order is priced
// or persisted.
type LineItemNotFoundError struct {
	Ref catalog.LineRef
}

func (e *LineItemNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Ref)
}

// InvalidQuantityError indicates a cart line with a non-positive quantity.
type InvalidQuantityError struct {
	Ref catalog.LineRef
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for %s", e.Ref)
}

// Address is a postal address snapshot owned by the order that references it.
type Address struct {
	ID         string
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// PaymentSummary records the declared payment method and amount. Settlement
// does not process payment; it only records what the caller declared.
type PaymentSummary struct {
	Method string
	Amount decimal.Decimal
	Status string
}

// OrderItem is one product-or-variant quantity entry within an order. Name,
// prices and image are denormalized snapshots captured at order time, so
// later catalog edits never retroactively change historical orders.
type OrderItem struct {
	ID        string
	ProductID string
	VariantID string
	Name      string
	UnitPrice decimal.Decimal
	SalePrice decimal.Decimal // zero when the item was not on sale
	Image     string
	Quantity  int
}

// LineDiscount is the per-line price-vs-sale-price delta times quantity,
// zero when there is no effective sale price.
func (i OrderItem) LineDiscount() decimal.Decimal {
	if i.SalePrice.IsPositive() && i.SalePrice.LessThan(i.UnitPrice) {
		return i.UnitPrice.Sub(i.SalePrice).Mul(decimal.NewFromInt(int64(i.Quantity)))
	}
	return decimal.Zero
}

// Order is a persisted, priced, auditable order.
//
// Pricing invariant, maintained by the assembler and never independently
// mutated:
//
//	TotalWithDiscount = Total - ItemsTotalDiscount - CouponAppliedDiscount
//	NetTotal          = TotalWithDiscount + DeliveryCharge
type Order struct {
	ID                    string
	CustomerID            string
	Status                Status
	DeliveryCharge        decimal.Decimal
	DeliveryOption        string
	Total                 decimal.Decimal
	ItemsTotalDiscount    decimal.Decimal
	CouponAppliedDiscount decimal.Decimal
	TotalWithDiscount     decimal.Decimal
	NetTotal              decimal.Decimal
	CouponCode            string // empty when no coupon was applied
	Billing               *Address
	Shipping              *Address
	Payment               *PaymentSummary
	Items                 []OrderItem
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Repository is the dual-backend order store port.
//
// Create persists the order, its items and its address snapshots in one
// atomic unit; when o.CouponCode is set it also consumes one coupon use
// inside that unit. A failure at any step leaves no partial state.
//
// UpdateStatus applies a transition guarded by the expected current status
// and returns ErrStatusConflict when the guard misses.
//
// Get and List apply the legacy billing fallback on read: orders persisted
// before the billing field existed come back with billing equal to shipping.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter, p Page) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	Delete(ctx context.Context, id string) error
}
