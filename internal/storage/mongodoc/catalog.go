package mongodoc

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/marketbay/settlement/internal/domain/catalog"
)

var _ catalog.Resolver = (*CatalogRepository)(nil)

// CatalogRepository resolves products and variants to their current pricing
// snapshot from the document store.
type CatalogRepository struct {
	products *mongo.Collection
	variants *mongo.Collection
}

// NewCatalogRepository returns a CatalogRepository over the given database.
func NewCatalogRepository(db *mongo.Database) *CatalogRepository {
	return &CatalogRepository{
		products: db.Collection(colProducts),
		variants: db.Collection(colVariants),
	}
}

type catalogDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	SalePrice primitive.Decimal128 `bson:"sale_price"`
	Image     string               `bson:"image,omitempty"`
}

// Resolve batch-fetches the referenced products and variants. Unresolved
// references are absent from the result map.
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
		if err := resolveInto(ctx, r.products, productIDs, out, false); err != nil {
			return nil, err
		}
	}
	if len(variantIDs) > 0 {
		if err := resolveInto(ctx, r.variants, variantIDs, out, true); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func resolveInto(ctx context.Context, col *mongo.Collection, ids []string,
	out map[catalog.LineRef]catalog.Snapshot, variant bool,
) error {
	cursor, err := col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("querying catalog entries: %w", err)
	}

	var docs []catalogDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("reading catalog documents: %w", err)
	}

	for _, d := range docs {
		price, err := amount(d.Price)
		if err != nil {
			return err
		}
		sale, err := amount(d.SalePrice)
		if err != nil {
			return err
		}

		ref := catalog.LineRef{ProductID: d.ID}
		if variant {
			ref = catalog.LineRef{VariantID: d.ID}
		}
		out[ref] = catalog.Snapshot{Name: d.Name, Price: price, SalePrice: sale, Image: d.Image}
	}
	return nil
}
