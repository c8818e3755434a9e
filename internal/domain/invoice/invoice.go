// Package invoice mints human-readable invoices against persisted orders.
package invoice

import (
	"context"
	"fmt"
	"time"
)

// Type tags which copy of the invoice was printed.
type Type string

const (
	TypeAdmin    Type = "ADMIN"
	TypeCustomer Type = "CUSTOMER"
)

// ParseType validates an invoice type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeAdmin, TypeCustomer:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown invoice type %q", s)
}

// Invoice is an immutable print record against one order. An order may have
// several invoices (an ADMIN and a CUSTOMER copy, reprints). Invoices are
// created on demand and never mutated or deleted.
type Invoice struct {
	ID        string
	OrderID   string
	Number    string
	Type      Type
	PrintedBy string
	PrintedAt time.Time
	CreatedAt time.Time
}

// Sequencer hands out the next invoice sequence number for a calendar day.
//
// Implementations MUST be atomic increments (a counter row or counter
// document), not count-then-insert: two concurrent mints observing the same
// count would otherwise produce duplicate invoice numbers.
type Sequencer interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}

// Repository persists invoices.
type Repository interface {
	Insert(ctx context.Context, inv *Invoice) error
	ListByOrder(ctx context.Context, orderID string) ([]Invoice, error)
}

// FormatNumber renders the canonical invoice number: INV-YYYYMMDD-NNNN with
// a 4-digit zero-padded sequence that resets daily starting at 0001.
func FormatNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", day.Format("20060102"), seq)
}
