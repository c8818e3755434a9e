// Command seed-db loads the demo catalog and a couple of coupons into
// PostgreSQL so the API can be exercised locally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/storage/postgres"
)

type variantJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"salePrice"`
	Image     string          `json:"image"`
}

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"salePrice"`
	Image     string          `json:"image"`
	Variants  []variantJSON   `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

const (
	upsertProductSQL = `
INSERT INTO products (id, name, price, sale_price, image)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    price = EXCLUDED.price,
    sale_price = EXCLUDED.sale_price,
    image = EXCLUDED.image`

	upsertVariantSQL = `
INSERT INTO product_variants (id, product_id, name, price, sale_price, image)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    product_id = EXCLUDED.product_id,
    name = EXCLUDED.name,
    price = EXCLUDED.price,
    sale_price = EXCLUDED.sale_price,
    image = EXCLUDED.image`
)

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.SalePrice, p.Image,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		for _, v := range p.Variants {
			if _, err := pool.Exec(ctx, upsertVariantSQL,
				v.ID, p.ID, v.Name, v.Price, v.SalePrice, v.Image,
			); err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.ID)
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("variants", len(p.Variants)),
		)
	}

	return nil
}

func seedCoupons(ctx context.Context, repo coupon.Repository) error {
	slog.Info("seeding demo coupons")

	coupons := []coupon.Coupon{
		{
			Code:    "WELCOME10",
			Type:    coupon.TypePercentage,
			Amount:  decimal.NewFromInt(10),
			Maximum: decimal.NewFromInt(15),
			Status:  coupon.StatusActive,
		},
		{
			Code:       "FLAT25",
			Type:       coupon.TypeFixed,
			Amount:     decimal.NewFromInt(25),
			Minimum:    decimal.NewFromInt(100),
			UsageLimit: 500,
			Status:     coupon.StatusActive,
		},
	}

	for _, c := range coupons {
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("type", string(c.Type)))
	}

	return nil
}
