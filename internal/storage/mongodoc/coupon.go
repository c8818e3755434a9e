package mongodoc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketbay/settlement/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository on the document store.
type CouponRepository struct {
	col *mongo.Collection
}

// NewCouponRepository returns a CouponRepository over the given database.
func NewCouponRepository(db *mongo.Database) *CouponRepository {
	return &CouponRepository{col: db.Collection(colCoupons)}
}

type couponDoc struct {
	Code              string               `bson:"_id"`
	Type              string               `bson:"discount_type"`
	Amount            primitive.Decimal128 `bson:"amount"`
	Minimum           primitive.Decimal128 `bson:"minimum"`
	Maximum           primitive.Decimal128 `bson:"maximum"`
	UsageLimit        int                  `bson:"usage_limit"`
	Used              int                  `bson:"used"`
	StartsAt          *time.Time           `bson:"starts_at,omitempty"`
	EndsAt            *time.Time           `bson:"ends_at,omitempty"`
	ExpiresAt         *time.Time           `bson:"expires_at,omitempty"`
	Status            string               `bson:"status"`
	EligibleCustomers []string             `bson:"eligible_customers,omitempty"`
	CreatedAt         time.Time            `bson:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

func (d couponDoc) toDomain() (*coupon.Coupon, error) {
	amt, err := amount(d.Amount)
	if err != nil {
		return nil, err
	}
	min, err := amount(d.Minimum)
	if err != nil {
		return nil, err
	}
	max, err := amount(d.Maximum)
	if err != nil {
		return nil, err
	}
	return &coupon.Coupon{
		Code:              d.Code,
		Type:              coupon.Type(d.Type),
		Amount:            amt,
		Minimum:           min,
		Maximum:           max,
		UsageLimit:        d.UsageLimit,
		Used:              d.Used,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		ExpiresAt:         d.ExpiresAt,
		Status:            coupon.Status(d.Status),
		EligibleCustomers: d.EligibleCustomers,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	err := r.col.FindOne(ctx, bson.M{"_id": coupon.NormalizeCode(code)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return doc.toDomain()
}

// consumeUseFilter guards the increment: the document must be active and
// still under its usage limit. $inc against this filter is a single atomic
// operation, so concurrent checkouts cannot both redeem the last use.
func consumeUseFilter(code string) bson.M {
	return bson.M{
		"_id":    code,
		"status": string(coupon.StatusActive),
		"$or": bson.A{
			bson.M{"usage_limit": 0},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used", "$usage_limit"}}},
		},
	}
}

// ConsumeUse atomically increments the usage counter. Runs inside the order
// creation batch when invoked via session context.
func (r *CouponRepository) ConsumeUse(ctx context.Context, code string) error {
	res := r.col.FindOneAndUpdate(ctx,
		consumeUseFilter(code),
		bson.M{
			"$inc": bson.M{"used": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return coupon.ErrLimitReached
		}
		return fmt.Errorf("consuming coupon use %q: %w", code, err)
	}
	return nil
}

// Upsert creates or replaces a coupon definition, preserving the usage
// counter of an existing document.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"discount_type":      string(c.Type),
			"amount":             money(c.Amount),
			"minimum":            money(c.Minimum),
			"maximum":            money(c.Maximum),
			"usage_limit":        c.UsageLimit,
			"starts_at":          c.StartsAt,
			"ends_at":            c.EndsAt,
			"expires_at":         c.ExpiresAt,
			"status":             string(c.Status),
			"eligible_customers": c.EligibleCustomers,
			"updated_at":         now,
		},
		"$setOnInsert": bson.M{
			"used":       c.Used,
			"created_at": now,
		},
	}

	_, err := r.col.UpdateByID(ctx, coupon.NormalizeCode(c.Code), update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}
