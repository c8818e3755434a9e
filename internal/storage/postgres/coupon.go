package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbay/settlement/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const findCouponSQL = `SELECT code, discount_type, amount, minimum, maximum,
	usage_limit, used, starts_at, ends_at, expires_at, status,
	eligible_customers, created_at, updated_at
	FROM coupons WHERE code = UPPER($1)`

// FindByCode looks up a coupon by its code, case-insensitively. The status
// check happens in the domain so a blocked coupon and a missing one reject
// the same way.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	row := r.pool.QueryRow(ctx, findCouponSQL, code)

	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.Type, &c.Amount, &c.Minimum, &c.Maximum,
		&c.UsageLimit, &c.Used, &c.StartsAt, &c.EndsAt, &c.ExpiresAt, &c.Status,
		&c.EligibleCustomers, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	return &c, nil
}

const consumeUseSQL = `UPDATE coupons
	SET used = used + 1, updated_at = now()
	WHERE code = $1 AND status = 'ACTIVE'
	  AND (usage_limit = 0 OR used < usage_limit)`

// ConsumeUse atomically increments the usage counter. The WHERE guard makes
// the limit check and the increment one statement, so concurrent checkouts
// cannot both slip past the limit.
func (r *CouponRepository) ConsumeUse(ctx context.Context, code string) error {
	return consumeUse(ctx, r.pool, code)
}

// execer covers both pgxpool.Pool and pgx.Tx so the order repository can
// consume a coupon use inside its creation transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// consumeUse runs the guarded increment on any pgx executor.
func consumeUse(ctx context.Context, e execer, code string) error {
	tag, err := e.Exec(ctx, consumeUseSQL, code)
	if err != nil {
		return fmt.Errorf("consuming coupon use %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrLimitReached
	}
	return nil
}

const upsertCouponSQL = `INSERT INTO coupons (code, discount_type, amount, minimum,
	maximum, usage_limit, used, starts_at, ends_at, expires_at, status, eligible_customers)
	VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (code) DO UPDATE SET
		discount_type = EXCLUDED.discount_type,
		amount = EXCLUDED.amount,
		minimum = EXCLUDED.minimum,
		maximum = EXCLUDED.maximum,
		usage_limit = EXCLUDED.usage_limit,
		starts_at = EXCLUDED.starts_at,
		ends_at = EXCLUDED.ends_at,
		expires_at = EXCLUDED.expires_at,
		status = EXCLUDED.status,
		eligible_customers = EXCLUDED.eligible_customers,
		updated_at = now()`

// Upsert creates or replaces a coupon definition. The usage counter is only
// seeded on insert; an update never resets it.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, c.Type, c.Amount, c.Minimum, c.Maximum,
		c.UsageLimit, c.Used, c.StartsAt, c.EndsAt, c.ExpiresAt, c.Status,
		c.EligibleCustomers,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}
