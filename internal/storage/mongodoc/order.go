package mongodoc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on the document store. The
// order document and its subordinate item documents are written in one
// atomic batch via a session transaction; there is no read-before-write
// inside the batch, so every stored figure is precomputed by the domain.
type OrderRepository struct {
	client  *mongo.Client
	orders  *mongo.Collection
	items   *mongo.Collection
	coupons *mongo.Collection
}

// NewOrderRepository returns an OrderRepository over the given database.
func NewOrderRepository(client *mongo.Client, db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		client:  client,
		orders:  db.Collection(colOrders),
		items:   db.Collection(colOrderItems),
		coupons: db.Collection(colCoupons),
	}
}

type addressDoc struct {
	ID         string `bson:"id"`
	Name       string `bson:"name,omitempty"`
	Phone      string `bson:"phone,omitempty"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city,omitempty"`
	Region     string `bson:"region,omitempty"`
	PostalCode string `bson:"postal_code,omitempty"`
	Country    string `bson:"country,omitempty"`
}

type paymentDoc struct {
	Method string               `bson:"method"`
	Amount primitive.Decimal128 `bson:"amount"`
	Status string               `bson:"status,omitempty"`
}

type orderDoc struct {
	ID                    string               `bson:"_id"`
	CustomerID            string               `bson:"customer_id"`
	Status                string               `bson:"status"`
	DeliveryCharge        primitive.Decimal128 `bson:"delivery_charge"`
	DeliveryOption        string               `bson:"delivery_option,omitempty"`
	Total                 primitive.Decimal128 `bson:"total"`
	ItemsTotalDiscount    primitive.Decimal128 `bson:"items_total_discount"`
	CouponAppliedDiscount primitive.Decimal128 `bson:"coupon_applied_discount"`
	TotalWithDiscount     primitive.Decimal128 `bson:"total_with_discount"`
	NetTotal              primitive.Decimal128 `bson:"net_total"`
	CouponCode            string               `bson:"coupon_code,omitempty"`
	Billing               *addressDoc          `bson:"billing_address,omitempty"`
	Shipping              *addressDoc          `bson:"shipping_address"`
	Payment               *paymentDoc          `bson:"payment,omitempty"`
	// ProductRefs denormalizes the item references onto the order document
	// so "orders containing product X" filters without a join.
	ProductRefs []string  `bson:"product_refs"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type itemDoc struct {
	ID        string               `bson:"_id"`
	OrderID   string               `bson:"order_id"`
	ProductID string               `bson:"product_id,omitempty"`
	VariantID string               `bson:"variant_id,omitempty"`
	Name      string               `bson:"name"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	SalePrice primitive.Decimal128 `bson:"sale_price"`
	Image     string               `bson:"image,omitempty"`
	Quantity  int                  `bson:"quantity"`
}

func toAddressDoc(a *order.Address) *addressDoc {
	if a == nil {
		return nil
	}
	return &addressDoc{
		ID: a.ID, Name: a.Name, Phone: a.Phone, Line1: a.Line1, Line2: a.Line2,
		City: a.City, Region: a.Region, PostalCode: a.PostalCode, Country: a.Country,
	}
}

func fromAddressDoc(d *addressDoc) *order.Address {
	if d == nil {
		return nil
	}
	return &order.Address{
		ID: d.ID, Name: d.Name, Phone: d.Phone, Line1: d.Line1, Line2: d.Line2,
		City: d.City, Region: d.Region, PostalCode: d.PostalCode, Country: d.Country,
	}
}

// Create writes the order document and its item documents in one atomic
// batch. When the order references a coupon, the guarded usage increment
// joins the batch, so over-redemption aborts the whole write.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.Shipping == nil {
		return errors.New("order requires a shipping address")
	}

	doc := orderDoc{
		ID:                    o.ID,
		CustomerID:            o.CustomerID,
		Status:                string(o.Status),
		DeliveryCharge:        money(o.DeliveryCharge),
		DeliveryOption:        o.DeliveryOption,
		Total:                 money(o.Total),
		ItemsTotalDiscount:    money(o.ItemsTotalDiscount),
		CouponAppliedDiscount: money(o.CouponAppliedDiscount),
		TotalWithDiscount:     money(o.TotalWithDiscount),
		NetTotal:              money(o.NetTotal),
		CouponCode:            o.CouponCode,
		Billing:               toAddressDoc(o.Billing),
		Shipping:              toAddressDoc(o.Shipping),
		CreatedAt:             o.CreatedAt.UTC(),
		UpdatedAt:             o.UpdatedAt.UTC(),
	}
	if o.Payment != nil {
		doc.Payment = &paymentDoc{
			Method: o.Payment.Method,
			Amount: money(o.Payment.Amount),
			Status: o.Payment.Status,
		}
	}

	itemDocs := make([]any, len(o.Items))
	for i, item := range o.Items {
		itemDocs[i] = itemDoc{
			ID:        item.ID,
			OrderID:   o.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: money(item.UnitPrice),
			SalePrice: money(item.SalePrice),
			Image:     item.Image,
			Quantity:  item.Quantity,
		}
		if item.VariantID != "" {
			doc.ProductRefs = append(doc.ProductRefs, item.VariantID)
		} else {
			doc.ProductRefs = append(doc.ProductRefs, item.ProductID)
		}
	}
	doc.ProductRefs = lo.Uniq(doc.ProductRefs)

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if _, err := r.orders.InsertOne(sc, doc); err != nil {
			return nil, fmt.Errorf("inserting order %q: %w", o.ID, err)
		}
		if _, err := r.items.InsertMany(sc, itemDocs); err != nil {
			return nil, fmt.Errorf("inserting order items: %w", err)
		}
		if o.CouponCode != "" {
			res := r.coupons.FindOneAndUpdate(sc,
				consumeUseFilter(o.CouponCode),
				bson.M{
					"$inc": bson.M{"used": 1},
					"$set": bson.M{"updated_at": time.Now().UTC()},
				},
			)
			if err := res.Err(); err != nil {
				if errors.Is(err, mongo.ErrNoDocuments) {
					return nil, coupon.ErrLimitReached
				}
				return nil, fmt.Errorf("consuming coupon use %q: %w", o.CouponCode, err)
			}
		}
		return nil, nil
	})
	return err
}

// Get fetches one order with its items, applying the legacy billing
// fallback: documents written before the billing field existed come back
// with billing equal to shipping.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDoc
	err := r.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}

	o, err := r.hydrate(ctx, doc)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) hydrate(ctx context.Context, doc orderDoc) (*order.Order, error) {
	o, err := docToOrder(doc)
	if err != nil {
		return nil, err
	}

	cursor, err := r.items.Find(ctx, bson.M{"order_id": doc.ID})
	if err != nil {
		return nil, fmt.Errorf("querying items for order %q: %w", doc.ID, err)
	}
	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading items for order %q: %w", doc.ID, err)
	}

	o.Items = make([]order.OrderItem, 0, len(docs))
	for _, d := range docs {
		item, err := docToItem(d)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}

func docToOrder(doc orderDoc) (*order.Order, error) {
	o := &order.Order{
		ID:             doc.ID,
		CustomerID:     doc.CustomerID,
		Status:         order.Status(doc.Status),
		DeliveryOption: doc.DeliveryOption,
		CouponCode:     doc.CouponCode,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}

	var err error
	if o.DeliveryCharge, err = amount(doc.DeliveryCharge); err != nil {
		return nil, err
	}
	if o.Total, err = amount(doc.Total); err != nil {
		return nil, err
	}
	if o.ItemsTotalDiscount, err = amount(doc.ItemsTotalDiscount); err != nil {
		return nil, err
	}
	if o.CouponAppliedDiscount, err = amount(doc.CouponAppliedDiscount); err != nil {
		return nil, err
	}
	if o.TotalWithDiscount, err = amount(doc.TotalWithDiscount); err != nil {
		return nil, err
	}
	if o.NetTotal, err = amount(doc.NetTotal); err != nil {
		return nil, err
	}

	shipping := fromAddressDoc(doc.Shipping)
	o.Shipping = shipping
	o.Billing = order.ResolveBilling(fromAddressDoc(doc.Billing), shipping)

	if doc.Payment != nil {
		amt, err := amount(doc.Payment.Amount)
		if err != nil {
			return nil, err
		}
		o.Payment = &order.PaymentSummary{
			Method: doc.Payment.Method,
			Amount: amt,
			Status: doc.Payment.Status,
		}
	}
	return o, nil
}

func docToItem(d itemDoc) (order.OrderItem, error) {
	unit, err := amount(d.UnitPrice)
	if err != nil {
		return order.OrderItem{}, err
	}
	sale, err := amount(d.SalePrice)
	if err != nil {
		return order.OrderItem{}, err
	}
	return order.OrderItem{
		ID:        d.ID,
		ProductID: d.ProductID,
		VariantID: d.VariantID,
		Name:      d.Name,
		UnitPrice: unit,
		SalePrice: sale,
		Image:     d.Image,
		Quantity:  d.Quantity,
	}, nil
}

func buildListFilter(f order.Filter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": lo.Map(f.Statuses,
			func(s order.Status, _ int) string { return string(s) })}
	}
	if f.CustomerID != "" {
		filter["customer_id"] = f.CustomerID
	}
	if f.PaymentMethod != "" {
		filter["payment.method"] = f.PaymentMethod
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		created := bson.M{}
		if f.CreatedFrom != nil {
			created["$gte"] = *f.CreatedFrom
		}
		if f.CreatedTo != nil {
			created["$lte"] = *f.CreatedTo
		}
		filter["created_at"] = created
	}
	if f.ContainsProductID != "" {
		filter["product_refs"] = f.ContainsProductID
	}
	return filter
}

// List returns a page of orders matching the filter, newest first.
//
// The sorted query needs an index covering the filter plus created_at; when
// the store rejects the sort (no suitable index and the sort spills past the
// memory limit), the adapter degrades gracefully: it refetches unsorted and
// sorts in memory instead of failing the request.
func (r *OrderRepository) List(ctx context.Context, f order.Filter, p order.Page) ([]order.Order, error) {
	filter := buildListFilter(f)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(p.Offset)).
		SetLimit(int64(p.Limit))

	docs, err := r.findOrders(ctx, filter, opts)
	if err != nil {
		if !isSortFailure(err) {
			return nil, err
		}
		docs, err = r.findOrders(ctx, filter, options.Find())
		if err != nil {
			return nil, err
		}
		docs = pageInMemory(docs, p)
	}

	out := make([]order.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := r.hydrate(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func (r *OrderRepository) findOrders(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]orderDoc, error) {
	cursor, err := r.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading order documents: %w", err)
	}
	return docs, nil
}

// isSortFailure detects the server rejecting an unindexed sort.
func isSortFailure(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// 292 QueryExceededMemoryLimitNoDiskUseAllowed
		return cmdErr.Code == 292 || cmdErr.HasErrorMessage("Sort exceeded memory limit")
	}
	return false
}

// pageInMemory is the degraded path: sort newest first and slice the page.
func pageInMemory(docs []orderDoc, p order.Page) []orderDoc {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	if p.Offset >= len(docs) {
		return nil
	}
	docs = docs[p.Offset:]
	if len(docs) > p.Limit {
		docs = docs[:p.Limit]
	}
	return docs
}

// UpdateStatus applies a transition guarded by the expected current status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	res, err := r.orders.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return order.ErrStatusConflict
	}
	return nil
}

// Delete removes the order document, its items and its invoices in one
// atomic batch.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		res, err := r.orders.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return nil, fmt.Errorf("deleting order %q: %w", id, err)
		}
		if res.DeletedCount == 0 {
			return nil, order.ErrNotFound
		}
		if _, err := r.items.DeleteMany(sc, bson.M{"order_id": id}); err != nil {
			return nil, fmt.Errorf("deleting items for order %q: %w", id, err)
		}
		invoices := r.orders.Database().Collection(colInvoices)
		if _, err := invoices.DeleteMany(sc, bson.M{"order_id": id}); err != nil {
			return nil, fmt.Errorf("deleting invoices for order %q: %w", id, err)
		}
		return nil, nil
	})
	return err
}
