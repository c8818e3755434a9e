package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketbay/settlement/internal/domain/catalog"
	"github.com/marketbay/settlement/internal/domain/coupon"
)

// CartLine is one requested line in a checkout.
type CartLine struct {
	Ref      catalog.LineRef
	Quantity int
}

// CreateOrderRequest holds the input for a checkout.
type CreateOrderRequest struct {
	CustomerID     string
	Lines          []CartLine
	Shipping       Address
	Billing        *Address // nil shares the shipping address
	CouponCode     string
	DeliveryCharge decimal.Decimal
	DeliveryOption string
	Payment        *PaymentSummary
}

// Service assembles orders: it resolves cart lines against the catalog,
// prices them, applies an optional coupon, and persists the aggregate
// through the configured store adapter.
type Service struct {
	catalog catalog.Resolver
	coupons coupon.Repository
	orders  Repository
	now     func() time.Time
}

// NewService creates an order Service with the required ports.
func NewService(cat catalog.Resolver, coupons coupon.Repository, orders Repository) *Service {
	return &Service{
		catalog: cat,
		coupons: coupons,
		orders:  orders,
		now:     time.Now,
	}
}

// CreateOrder turns a cart plus an optional coupon into a persisted, priced
// order. All business-rule checks run before any write; a rejection at any
// step aborts the whole checkout with no partial state.
//
// A cart line that does not resolve against the catalog fails the checkout
// with LineItemNotFoundError rather than being silently dropped from pricing.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	refs := make([]catalog.LineRef, len(req.Lines))
	for i, line := range req.Lines {
		if err := line.Ref.Validate(); err != nil {
			return nil, err
		}
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{Ref: line.Ref}
		}
		refs[i] = line.Ref
	}

	snapshots, err := s.catalog.Resolve(ctx, refs)
	if err != nil {
		return nil, errors.Wrap(err, "resolve cart lines")
	}

	// Freeze catalog data onto the items and compute the pricing figures.
	// Total uses list prices; the sale-price delta accumulates separately
	// as the items discount.
	items := make([]OrderItem, len(req.Lines))
	total := decimal.Zero
	itemsDiscount := decimal.Zero
	for i, line := range req.Lines {
		snap, ok := snapshots[line.Ref]
		if !ok {
			return nil, &LineItemNotFoundError{Ref: line.Ref}
		}

		items[i] = OrderItem{
			ID:        uuid.New().String(),
			ProductID: line.Ref.ProductID,
			VariantID: line.Ref.VariantID,
			Name:      snap.Name,
			UnitPrice: snap.Price,
			SalePrice: snap.SalePrice,
			Image:     snap.Image,
			Quantity:  line.Quantity,
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		total = total.Add(snap.Price.Mul(qty))
		itemsDiscount = itemsDiscount.Add(items[i].LineDiscount())
	}

	// Coupon rejection aborts the checkout before anything is written. The
	// usage counter is consumed by the store inside the creation unit, not
	// here.
	couponDiscount := decimal.Zero
	couponCode := ""
	if req.CouponCode != "" {
		code := coupon.NormalizeCode(req.CouponCode)
		c, err := s.coupons.FindByCode(ctx, code)
		if err != nil {
			return nil, errors.Wrapf(err, "coupon %s", code)
		}
		d, err := coupon.Quote(*c, req.CustomerID, total, s.now())
		if err != nil {
			return nil, err
		}
		couponDiscount = d.Amount
		couponCode = c.Code
	}

	totalWithDiscount := total.Sub(itemsDiscount).Sub(couponDiscount)
	netTotal := totalWithDiscount.Add(req.DeliveryCharge)

	shipping := req.Shipping
	shipping.ID = uuid.New().String()
	billing := req.Billing
	if billing != nil {
		b := *billing
		b.ID = uuid.New().String()
		billing = &b
	}

	now := s.now()
	o := &Order{
		ID:                    uuid.New().String(),
		CustomerID:            req.CustomerID,
		Status:                StatusPending,
		DeliveryCharge:        req.DeliveryCharge,
		DeliveryOption:        req.DeliveryOption,
		Total:                 total,
		ItemsTotalDiscount:    itemsDiscount,
		CouponAppliedDiscount: couponDiscount,
		TotalWithDiscount:     totalWithDiscount,
		NetTotal:              netTotal,
		CouponCode:            couponCode,
		Billing:               billing,
		Shipping:              &shipping,
		Payment:               req.Payment,
		Items:                 items,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	o.Billing = ResolveBilling(o.Billing, o.Shipping)
	return o, nil
}

// Get fetches an order with its items. The store applies the legacy billing
// fallback on read.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// List returns a page of orders matching the filter.
func (s *Service) List(ctx context.Context, f Filter, p Page) ([]Order, error) {
	return s.orders.List(ctx, f, p.Normalize())
}

// UpdateStatus applies a lifecycle transition. Transitions out of terminal
// states, skipped steps and cancellation past PENDING are all rejected with
// IllegalTransitionError.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !o.Status.CanTransition(next) {
		return nil, &IllegalTransitionError{From: o.Status, To: next}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, next); err != nil {
		return nil, err
	}

	o.Status = next
	o.UpdatedAt = s.now()
	return o, nil
}

// Delete removes an order and everything it owns: items, address snapshots
// and invoices all cascade.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.orders.Delete(ctx, id)
}
