package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbay/settlement/internal/domain/invoice"
)

var (
	_ invoice.Repository = (*InvoiceRepository)(nil)
	_ invoice.Sequencer  = (*InvoiceRepository)(nil)
)

// InvoiceRepository implements invoice persistence and the per-day sequence
// backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

const nextSequenceSQL = `INSERT INTO invoice_counters (day, seq) VALUES ($1, 1)
	ON CONFLICT (day) DO UPDATE SET seq = invoice_counters.seq + 1
	RETURNING seq`

// Next returns the next invoice sequence for the given day. The upsert makes
// the increment atomic: concurrent mints on the same day each observe a
// distinct value, unlike the count-then-insert it replaces.
func (r *InvoiceRepository) Next(ctx context.Context, day time.Time) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, nextSequenceSQL, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("advancing invoice counter: %w", err)
	}
	return seq, nil
}

const insertInvoiceSQL = `INSERT INTO invoices (id, order_id, invoice_number, invoice_type,
	printed_by, printed_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Insert persists an invoice. Invoices are immutable; there is no update.
func (r *InvoiceRepository) Insert(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.pool.Exec(ctx, insertInvoiceSQL,
		inv.ID, inv.OrderID, inv.Number, inv.Type, inv.PrintedBy, inv.PrintedAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting invoice %q: %w", inv.Number, err)
	}
	return nil
}

const listInvoicesSQL = `SELECT id, order_id, invoice_number, invoice_type, printed_by, printed_at, created_at
	FROM invoices WHERE order_id = $1 ORDER BY created_at`

// ListByOrder returns all invoices printed for an order, oldest first.
func (r *InvoiceRepository) ListByOrder(ctx context.Context, orderID string) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, listInvoicesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying invoices for order %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []invoice.Invoice
	for rows.Next() {
		var inv invoice.Invoice
		err := rows.Scan(&inv.ID, &inv.OrderID, &inv.Number, &inv.Type,
			&inv.PrintedBy, &inv.PrintedAt, &inv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice row: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
