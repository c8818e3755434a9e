package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/marketbay/settlement/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order,
// items, addresses and the coupon usage increment share one transaction; a
// failure at any step rolls back all of it.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const insertAddressSQL = `INSERT INTO addresses (id, name, phone, line1, line2, city, region, postal_code, country)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertOrderSQL = `INSERT INTO orders (id, customer_id, status, delivery_charge, delivery_option,
	total, items_total_discount, coupon_applied_discount, total_with_discount, net_total,
	coupon_code, billing_address_id, shipping_address_id,
	payment_method, payment_amount, payment_status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, variant_id, name,
	unit_price, sale_price, image, quantity)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Create persists the order aggregate. When the order references a coupon,
// the guarded usage increment runs in the same transaction, so a coupon that
// hit its limit between validation and commit aborts the whole checkout.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.Shipping == nil {
		return errors.New("order requires a shipping address")
	}
	if err := insertAddress(ctx, tx, o.Shipping); err != nil {
		return err
	}

	// A nil billing address shares the shipping row; the column stays NULL
	// and reads resolve the fallback.
	var billingID *string
	if o.Billing != nil {
		if err := insertAddress(ctx, tx, o.Billing); err != nil {
			return err
		}
		billingID = &o.Billing.ID
	}

	var couponCode *string
	if o.CouponCode != "" {
		couponCode = &o.CouponCode
	}

	var payMethod, payStatus *string
	var payAmount any
	if o.Payment != nil {
		payMethod = &o.Payment.Method
		payStatus = &o.Payment.Status
		payAmount = o.Payment.Amount
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.CustomerID, o.Status, o.DeliveryCharge, o.DeliveryOption,
		o.Total, o.ItemsTotalDiscount, o.CouponAppliedDiscount, o.TotalWithDiscount, o.NetTotal,
		couponCode, billingID, o.Shipping.ID,
		payMethod, payAmount, payStatus, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(insertItemSQL,
			item.ID, o.ID, nilIfEmpty(item.ProductID), nilIfEmpty(item.VariantID),
			item.Name, item.UnitPrice, item.SalePrice, item.Image, item.Quantity,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order items: %w", err)
	}

	if o.CouponCode != "" {
		if err := consumeUse(ctx, tx, o.CouponCode); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %q: %w", o.ID, err)
	}
	return nil
}

func insertAddress(ctx context.Context, tx pgx.Tx, a *order.Address) error {
	_, err := tx.Exec(ctx, insertAddressSQL,
		a.ID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country,
	)
	if err != nil {
		return fmt.Errorf("inserting address %q: %w", a.ID, err)
	}
	return nil
}

const orderColumns = `o.id, o.customer_id, o.status, o.delivery_charge, o.delivery_option,
	o.total, o.items_total_discount, o.coupon_applied_discount, o.total_with_discount, o.net_total,
	COALESCE(o.coupon_code, ''), o.billing_address_id, o.shipping_address_id,
	o.payment_method, o.payment_amount, o.payment_status, o.created_at, o.updated_at`

// Get fetches one order with its items, applying the legacy billing fallback
// on read.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}

	orders, err := r.collectOrders(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return &orders[0], nil
}

// List returns a page of orders matching the filter, newest first, items and
// addresses attached.
func (r *OrderRepository) List(ctx context.Context, f order.Filter, p order.Page) ([]order.Order, error) {
	query, args := buildListQuery(f, p)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	return r.collectOrders(ctx, rows)
}

func buildListQuery(f order.Filter, p order.Page) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}

	if len(f.Statuses) > 0 {
		statuses := lo.Map(f.Statuses, func(s order.Status, _ int) string { return string(s) })
		conds = append(conds, fmt.Sprintf("o.status = ANY($%d)", arg(statuses)))
	}
	if f.CustomerID != "" {
		conds = append(conds, fmt.Sprintf("o.customer_id = $%d", arg(f.CustomerID)))
	}
	if f.PaymentMethod != "" {
		conds = append(conds, fmt.Sprintf("o.payment_method = $%d", arg(f.PaymentMethod)))
	}
	if f.CreatedFrom != nil {
		conds = append(conds, fmt.Sprintf("o.created_at >= $%d", arg(*f.CreatedFrom)))
	}
	if f.CreatedTo != nil {
		conds = append(conds, fmt.Sprintf("o.created_at <= $%d", arg(*f.CreatedTo)))
	}
	if f.ContainsProductID != "" {
		n := arg(f.ContainsProductID)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id AND (oi.product_id = $%d OR oi.variant_id = $%d))", n, n))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders o`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d",
		arg(p.Limit), arg(p.Offset)))

	return sb.String(), args
}

// collectOrders scans order rows and batch-loads their addresses and items.
func (r *OrderRepository) collectOrders(ctx context.Context, rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	var (
		result      []order.Order
		billingIDs  []*string
		shippingIDs []string
	)
	for rows.Next() {
		var (
			o                    order.Order
			billingID            *string
			shippingID           string
			payMethod, payStatus *string
			payAmount            *decimal.Decimal
		)
		err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.DeliveryCharge, &o.DeliveryOption,
			&o.Total, &o.ItemsTotalDiscount, &o.CouponAppliedDiscount, &o.TotalWithDiscount, &o.NetTotal,
			&o.CouponCode, &billingID, &shippingID,
			&payMethod, &payAmount, &payStatus, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning order row: %w", err)
		}

		if payMethod != nil {
			o.Payment = &order.PaymentSummary{Method: *payMethod}
			if payAmount != nil {
				o.Payment.Amount = *payAmount
			}
			if payStatus != nil {
				o.Payment.Status = *payStatus
			}
		}

		billingIDs = append(billingIDs, billingID)
		shippingIDs = append(shippingIDs, shippingID)
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order rows: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	addrIDs := make([]string, 0, len(result)*2)
	addrIDs = append(addrIDs, shippingIDs...)
	for _, id := range billingIDs {
		if id != nil {
			addrIDs = append(addrIDs, *id)
		}
	}

	addresses, err := r.loadAddresses(ctx, lo.Uniq(addrIDs))
	if err != nil {
		return nil, err
	}

	items, err := r.loadItems(ctx, lo.Map(result, func(o order.Order, _ int) string { return o.ID }))
	if err != nil {
		return nil, err
	}

	for i := range result {
		shipping := addresses[shippingIDs[i]]
		result[i].Shipping = shipping
		var billing *order.Address
		if billingIDs[i] != nil {
			billing = addresses[*billingIDs[i]]
		}
		result[i].Billing = order.ResolveBilling(billing, shipping)
		result[i].Items = items[result[i].ID]
	}

	return result, nil
}

const selectAddressesSQL = `SELECT id, name, phone, line1, line2, city, region, postal_code, country
	FROM addresses WHERE id = ANY($1)`

func (r *OrderRepository) loadAddresses(ctx context.Context, ids []string) (map[string]*order.Address, error) {
	rows, err := r.pool.Query(ctx, selectAddressesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*order.Address, len(ids))
	for rows.Next() {
		var a order.Address
		err := rows.Scan(&a.ID, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.Country)
		if err != nil {
			return nil, fmt.Errorf("scanning address row: %w", err)
		}
		out[a.ID] = &a
	}
	return out, rows.Err()
}

const selectItemsSQL = `SELECT id, order_id, COALESCE(product_id, ''), COALESCE(variant_id, ''),
	name, unit_price, sale_price, image, quantity
	FROM order_items WHERE order_id = ANY($1)`

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]order.OrderItem, error) {
	rows, err := r.pool.Query(ctx, selectItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("querying order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]order.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			item    order.OrderItem
			orderID string
		)
		err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.VariantID,
			&item.Name, &item.UnitPrice, &item.SalePrice, &item.Image, &item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("scanning order item row: %w", err)
		}
		out[orderID] = append(out[orderID], item)
	}
	return out, rows.Err()
}

const updateStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
	WHERE id = $1 AND status = $2`

// UpdateStatus applies a transition guarded by the expected current status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, from, to)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStatusConflict
	}
	return nil
}

// Delete removes an order and everything it owns. Items and invoices cascade
// via foreign keys; address snapshots are removed explicitly since the FK
// points the other way.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shippingID string
	var billingID *string
	err = tx.QueryRow(ctx,
		`SELECT shipping_address_id, billing_address_id FROM orders WHERE id = $1`, id).
		Scan(&shippingID, &billingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("querying order %q: %w", id, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}

	addrIDs := []string{shippingID}
	if billingID != nil && *billingID != shippingID {
		addrIDs = append(addrIDs, *billingID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM addresses WHERE id = ANY($1)`, addrIDs); err != nil {
		return fmt.Errorf("deleting order addresses: %w", err)
	}

	return tx.Commit(ctx)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
