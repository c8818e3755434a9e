package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/marketbay/settlement/internal/domain/order"
)

// OrderGetter is the narrow slice of the order store the invoice service
// needs: existence checks before minting.
type OrderGetter interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Service mints invoices against persisted orders.
type Service struct {
	orders   OrderGetter
	invoices Repository
	seq      Sequencer
	now      func() time.Time
}

// NewService creates an invoice Service with the required ports.
func NewService(orders OrderGetter, invoices Repository, seq Sequencer) *Service {
	return &Service{
		orders:   orders,
		invoices: invoices,
		seq:      seq,
		now:      time.Now,
	}
}

// Create mints an invoice for an existing order. The sequence comes from the
// atomic per-day counter, so concurrent mints on the same day always get
// distinct numbers.
func (s *Service) Create(ctx context.Context, orderID string, typ Type, printedBy string) (*Invoice, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n, err := s.seq.Next(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "next invoice sequence")
	}

	inv := &Invoice{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Number:    FormatNumber(now, n),
		Type:      typ,
		PrintedBy: printedBy,
		PrintedAt: now,
		CreatedAt: now,
	}

	if err := s.invoices.Insert(ctx, inv); err != nil {
		return nil, errors.Wrap(err, "insert invoice")
	}

	return inv, nil
}

// ListByOrder returns all invoices printed for an order.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]Invoice, error) {
	return s.invoices.ListByOrder(ctx, orderID)
}
