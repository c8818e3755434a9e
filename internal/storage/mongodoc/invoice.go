package mongodoc

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketbay/settlement/internal/domain/invoice"
)

var (
	_ invoice.Repository = (*InvoiceRepository)(nil)
	_ invoice.Sequencer  = (*InvoiceRepository)(nil)
)

// InvoiceRepository implements invoice persistence and the per-day sequence
// on the document store.
type InvoiceRepository struct {
	invoices *mongo.Collection
	counters *mongo.Collection
}

// NewInvoiceRepository returns an InvoiceRepository over the given database.
func NewInvoiceRepository(db *mongo.Database) *InvoiceRepository {
	return &InvoiceRepository{
		invoices: db.Collection(colInvoices),
		counters: db.Collection(colCounters),
	}
}

type invoiceDoc struct {
	ID        string    `bson:"_id"`
	OrderID   string    `bson:"order_id"`
	Number    string    `bson:"invoice_number"`
	Type      string    `bson:"invoice_type"`
	PrintedBy string    `bson:"printed_by,omitempty"`
	PrintedAt time.Time `bson:"printed_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Next returns the next invoice sequence for the given day via an upserted
// $inc on a per-day counter document. The increment is a single atomic
// operation, so concurrent mints each observe a distinct value; this is the
// replacement for counting existing invoices, which races.
func (r *InvoiceRepository) Next(ctx context.Context, day time.Time) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "invoices-" + day.Format("20060102")},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("advancing invoice counter: %w", err)
	}
	return doc.Seq, nil
}

// Insert persists an invoice. Invoices are immutable; there is no update.
func (r *InvoiceRepository) Insert(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.invoices.InsertOne(ctx, invoiceDoc{
		ID:        inv.ID,
		OrderID:   inv.OrderID,
		Number:    inv.Number,
		Type:      string(inv.Type),
		PrintedBy: inv.PrintedBy,
		PrintedAt: inv.PrintedAt.UTC(),
		CreatedAt: inv.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("inserting invoice %q: %w", inv.Number, err)
	}
	return nil
}

// ListByOrder returns all invoices printed for an order, oldest first.
func (r *InvoiceRepository) ListByOrder(ctx context.Context, orderID string) ([]invoice.Invoice, error) {
	cursor, err := r.invoices.Find(ctx, bson.M{"order_id": orderID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying invoices for order %q: %w", orderID, err)
	}

	var docs []invoiceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading invoice documents: %w", err)
	}

	out := make([]invoice.Invoice, len(docs))
	for i, d := range docs {
		out[i] = invoice.Invoice{
			ID:        d.ID,
			OrderID:   d.OrderID,
			Number:    d.Number,
			Type:      invoice.Type(d.Type),
			PrintedBy: d.PrintedBy,
			PrintedAt: d.PrintedAt,
			CreatedAt: d.CreatedAt,
		}
	}
	return out, nil
}
