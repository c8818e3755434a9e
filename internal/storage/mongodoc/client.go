// Package mongodoc is the document-store order adapter, used while order
// data migrates off the relational store. The order is one document, its
// items live in a subordinate collection, and both are written in a single
// atomic batch. All pricing figures are computed by the domain before the
// batch starts; nothing is read back mid-batch.
package mongodoc

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	colOrders     = "orders"
	colOrderItems = "order_items"
	colCoupons    = "coupons"
	colInvoices   = "invoices"
	colCounters   = "counters"
	colProducts   = "products"
	colVariants   = "product_variants"
)

// Connect opens a client and verifies connectivity.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client, nil
}

// money converts to Decimal128 for storage. Monetary values are never stored
// as binary floating point.
func money(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// d.String() is always a valid decimal literal.
		panic(fmt.Sprintf("decimal %q not representable as Decimal128: %v", d, err))
	}
	return v
}

// amount converts a stored Decimal128 back to a decimal.
func amount(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing stored amount %q: %w", v, err)
	}
	return d, nil
}
