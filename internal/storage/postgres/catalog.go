package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbay/settlement/internal/domain/catalog"
)

var _ catalog.Resolver = (*CatalogRepository)(nil)

// CatalogRepository resolves products and variants to their current pricing
// snapshot. The catalog tables are owned by another system; this adapter
// only reads them.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

const selectProductsSQL = `SELECT id, name, price, sale_price, image
	FROM products WHERE id = ANY($1)`

const selectVariantsSQL = `SELECT id, name, price, sale_price, image
	FROM product_variants WHERE id = ANY($1)`

// Resolve batch-fetches the referenced products and variants. Unresolved
// references are simply absent from the result map.
func (r *CatalogRepository) Resolve(ctx context.Context, refs []catalog.LineRef) (map[catalog.LineRef]catalog.Snapshot, error) {
	var productIDs, variantIDs []string
	for _, ref := range refs {
		if ref.VariantID != "" {
			variantIDs = append(variantIDs, ref.VariantID)
		} else {
			productIDs = append(productIDs, ref.ProductID)
		}
	}

	out := make(map[catalog.LineRef]catalog.Snapshot, len(refs))

	if len(productIDs) > 0 {
		if err := r.resolveInto(ctx, selectProductsSQL, productIDs, out, false); err != nil {
			return nil, err
		}
	}
	if len(variantIDs) > 0 {
		if err := r.resolveInto(ctx, selectVariantsSQL, variantIDs, out, true); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (r *CatalogRepository) resolveInto(ctx context.Context, query string, ids []string,
	out map[catalog.LineRef]catalog.Snapshot, variant bool,
) error {
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("querying catalog entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			snap catalog.Snapshot
		)
		if err := rows.Scan(&id, &snap.Name, &snap.Price, &snap.SalePrice, &snap.Image); err != nil {
			return fmt.Errorf("scanning catalog row: %w", err)
		}

		ref := catalog.LineRef{ProductID: id}
		if variant {
			ref = catalog.LineRef{VariantID: id}
		}
		out[ref] = snap
	}
	return rows.Err()
}
