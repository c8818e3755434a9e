// Package catalog defines the read-only port to the product catalog.
//
// The catalog itself is owned by another system; settlement only needs to
// resolve a product or variant reference to its current price and display
// data at the instant an order is placed.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyRef is returned when a line reference names neither a product nor
// a variant.
var ErrEmptyRef = errors.New("line reference requires a product or variant id")

// ErrAmbiguousRef is returned when a line reference names both a product and
// a variant.
var ErrAmbiguousRef = errors.New("line reference must name either a product or a variant, not both")

// LineRef identifies the catalog entry behind a cart line. Exactly one of
// ProductID or VariantID is set.
type LineRef struct {
	ProductID string
	VariantID string
}

// Validate checks the mutual-exclusion rule on the reference.
func (r LineRef) Validate() error {
	switch {
	case r.ProductID == "" && r.VariantID == "":
		return ErrEmptyRef
	case r.ProductID != "" && r.VariantID != "":
		return ErrAmbiguousRef
	}
	return nil
}

func (r LineRef) String() string {
	if r.VariantID != "" {
		return fmt.Sprintf("variant %s", r.VariantID)
	}
	return fmt.Sprintf("product %s", r.ProductID)
}

// Snapshot is the catalog data frozen onto an order item at order time.
// SalePrice is zero when the entry is not on sale.
type Snapshot struct {
	Name      string
	Price     decimal.Decimal
	SalePrice decimal.Decimal
	Image     string
}

// Resolver resolves line references in a single batch. References that do
// not resolve are absent from the returned map; the caller decides whether
// that is fatal.
type Resolver interface {
	Resolve(ctx context.Context, refs []LineRef) (map[LineRef]Snapshot, error)
}
