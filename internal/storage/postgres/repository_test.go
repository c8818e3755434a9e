//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marketbay/settlement/internal/domain/catalog"
	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/domain/invoice"
	"github.com/marketbay/settlement/internal/domain/order"
	"github.com/marketbay/settlement/internal/storage/postgres"
)

type repositorySuite struct {
	suite.Suite

	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool

	catalog  *postgres.CatalogRepository
	coupons  *postgres.CouponRepository
	orders   *postgres.OrderRepository
	invoices *postgres.InvoiceRepository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(repositorySuite))
}

func (s *repositorySuite) SetupSuite() {
	ctx := s.T().Context()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("settlement"),
		tcpostgres.WithUsername("settlement"),
		tcpostgres.WithPassword("settlement"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = postgres.NewPool(ctx, connStr)
	s.Require().NoError(err)
	s.Require().NoError(postgres.RunMigrations(ctx, s.pool))

	s.catalog = postgres.NewCatalogRepository(s.pool)
	s.coupons = postgres.NewCouponRepository(s.pool)
	s.orders = postgres.NewOrderRepository(s.pool)
	s.invoices = postgres.NewInvoiceRepository(s.pool)
}

func (s *repositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *repositorySuite) SetupTest() {
	ctx := s.T().Context()
	for _, table := range []string{"invoices", "invoice_counters", "order_items", "orders", "addresses", "coupons", "product_variants", "products"} {
		_, err := s.pool.Exec(ctx, "DELETE FROM "+table)
		s.Require().NoError(err)
	}
}

func (s *repositorySuite) seedProduct(id string, price, salePrice string) {
	_, err := s.pool.Exec(s.T().Context(),
		`INSERT INTO products (id, name, price, sale_price) VALUES ($1, $2, $3, $4)`,
		id, gofakeit.ProductName(), price, salePrice)
	s.Require().NoError(err)
}

func (s *repositorySuite) seedVariant(id, productID string, price string) {
	_, err := s.pool.Exec(s.T().Context(),
		`INSERT INTO product_variants (id, product_id, name, price, sale_price) VALUES ($1, $2, $3, $4, 0)`,
		id, productID, gofakeit.ProductName(), price)
	s.Require().NoError(err)
}

func randomAddress() *order.Address {
	return &order.Address{
		ID:         uuid.New().String(),
		Name:       gofakeit.Name(),
		Phone:      gofakeit.Phone(),
		Line1:      gofakeit.Street(),
		City:       gofakeit.City(),
		PostalCode: gofakeit.Zip(),
		Country:    gofakeit.CountryAbr(),
	}
}

func randomOrder(customerID string) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	total := decimal.NewFromInt(100)
	return &order.Order{
		ID:                uuid.New().String(),
		CustomerID:        customerID,
		Status:            order.StatusPending,
		Total:             total,
		TotalWithDiscount: total,
		NetTotal:          total,
		Shipping:          randomAddress(),
		Items: []order.OrderItem{
			{
				ID:        uuid.New().String(),
				ProductID: "prod-a",
				Name:      "Widget",
				UnitPrice: decimal.NewFromInt(100),
				Quantity:  1,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *repositorySuite) TestCreateAndGetOrder() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	o := randomOrder("cust-1")
	o.Billing = randomAddress()
	o.Payment = &order.PaymentSummary{
		Method: "card",
		Amount: decimal.NewFromInt(100),
		Status: "captured",
	}

	s.Require().NoError(s.orders.Create(ctx, o))

	got, err := s.orders.Get(ctx, o.ID)
	s.Require().NoError(err)

	s.Equal(o.CustomerID, got.CustomerID)
	s.Equal(order.StatusPending, got.Status)
	s.True(got.Total.Equal(o.Total))
	s.Require().Len(got.Items, 1)
	s.Equal("Widget", got.Items[0].Name)
	s.Require().NotNil(got.Billing)
	s.Equal(o.Billing.Line1, got.Billing.Line1)
	s.Require().NotNil(got.Payment)
	s.Equal("card", got.Payment.Method)
}

func (s *repositorySuite) TestGet_BillingFallsBackToShipping() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	o := randomOrder("cust-1") // no billing address
	s.Require().NoError(s.orders.Create(ctx, o))

	got, err := s.orders.Get(ctx, o.ID)
	s.Require().NoError(err)

	s.Require().NotNil(got.Billing)
	s.Equal(got.Shipping.Line1, got.Billing.Line1)
}

func (s *repositorySuite) TestGet_NotFound() {
	_, err := s.orders.Get(s.T().Context(), uuid.New().String())
	s.ErrorIs(err, order.ErrNotFound)
}

func (s *repositorySuite) TestCreate_CouponAtLimitAbortsWholeOrder() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	s.Require().NoError(s.coupons.Upsert(ctx, coupon.Coupon{
		Code:       "LASTONE",
		Type:       coupon.TypeFixed,
		Amount:     decimal.NewFromInt(5),
		UsageLimit: 1,
		Status:     coupon.StatusActive,
	}))

	first := randomOrder("cust-1")
	first.CouponCode = "LASTONE"
	s.Require().NoError(s.orders.Create(ctx, first))

	second := randomOrder("cust-2")
	second.CouponCode = "LASTONE"
	err := s.orders.Create(ctx, second)
	s.Require().ErrorIs(err, coupon.ErrLimitReached)

	// The failed checkout must leave no partial rows behind.
	var count int
	s.Require().NoError(s.pool.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE id = $1`, second.ID).Scan(&count))
	s.Zero(count)
	s.Require().NoError(s.pool.QueryRow(ctx,
		`SELECT count(*) FROM order_items WHERE order_id = $1`, second.ID).Scan(&count))
	s.Zero(count)

	var used int
	s.Require().NoError(s.pool.QueryRow(ctx,
		`SELECT used FROM coupons WHERE code = 'LASTONE'`).Scan(&used))
	s.Equal(1, used)
}

func (s *repositorySuite) TestCreate_ConcurrentCouponConsumption() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	const limit = 5
	const attempts = 20

	s.Require().NoError(s.coupons.Upsert(ctx, coupon.Coupon{
		Code:       "SCARCE",
		Type:       coupon.TypeFixed,
		Amount:     decimal.NewFromInt(5),
		UsageLimit: limit,
		Status:     coupon.StatusActive,
	}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := randomOrder(gofakeit.UUID())
			o.CouponCode = "SCARCE"
			if err := s.orders.Create(ctx, o); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(limit, succeeded)

	var used int
	s.Require().NoError(s.pool.QueryRow(ctx,
		`SELECT used FROM coupons WHERE code = 'SCARCE'`).Scan(&used))
	s.Equal(limit, used)
}

func (s *repositorySuite) TestList_Filters() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	o1 := randomOrder("cust-1")
	s.Require().NoError(s.orders.Create(ctx, o1))

	o2 := randomOrder("cust-2")
	o2.Items[0].ProductID = ""
	o2.Items[0].VariantID = "var-x"
	s.Require().NoError(s.orders.Create(ctx, o2))
	s.Require().NoError(s.orders.UpdateStatus(ctx, o2.ID, order.StatusPending, order.StatusProcessing))

	byCustomer, err := s.orders.List(ctx, order.Filter{CustomerID: "cust-1"}, order.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(byCustomer, 1)
	s.Equal(o1.ID, byCustomer[0].ID)

	byStatus, err := s.orders.List(ctx, order.Filter{Statuses: []order.Status{order.StatusProcessing}}, order.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(byStatus, 1)
	s.Equal(o2.ID, byStatus[0].ID)

	// Contains-product matches both product and variant references.
	byProduct, err := s.orders.List(ctx, order.Filter{ContainsProductID: "var-x"}, order.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(byProduct, 1)
	s.Equal(o2.ID, byProduct[0].ID)

	all, err := s.orders.List(ctx, order.Filter{}, order.Page{Limit: 10})
	s.Require().NoError(err)
	s.Len(all, 2)
	ids := lo.Map(all, func(o order.Order, _ int) string { return o.ID })
	s.Contains(ids, o1.ID)
	s.Contains(ids, o2.ID)
}

func (s *repositorySuite) TestUpdateStatus_Guard() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	o := randomOrder("cust-1")
	s.Require().NoError(s.orders.Create(ctx, o))

	s.Require().NoError(s.orders.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusProcessing))

	// Stale expectation loses the race.
	err := s.orders.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled)
	s.ErrorIs(err, order.ErrStatusConflict)

	got, err := s.orders.Get(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(order.StatusProcessing, got.Status)
}

func (s *repositorySuite) TestDelete_Cascades() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "100", "0")

	o := randomOrder("cust-1")
	s.Require().NoError(s.orders.Create(ctx, o))

	inv := &invoice.Invoice{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Number:    "INV-20250615-0001",
		Type:      invoice.TypeAdmin,
		PrintedAt: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.invoices.Insert(ctx, inv))

	s.Require().NoError(s.orders.Delete(ctx, o.ID))

	_, err := s.orders.Get(ctx, o.ID)
	s.ErrorIs(err, order.ErrNotFound)

	for _, q := range []string{
		`SELECT count(*) FROM order_items WHERE order_id = $1`,
		`SELECT count(*) FROM invoices WHERE order_id = $1`,
	} {
		var count int
		s.Require().NoError(s.pool.QueryRow(ctx, q, o.ID).Scan(&count))
		s.Zero(count)
	}
}

func (s *repositorySuite) TestCouponFindByCode() {
	ctx := s.T().Context()

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Microsecond)
	want := coupon.Coupon{
		Code:              "SAVE10",
		Type:              coupon.TypePercentage,
		Amount:            decimal.NewFromInt(10),
		Maximum:           decimal.NewFromInt(15),
		UsageLimit:        100,
		ExpiresAt:         &expires,
		Status:            coupon.StatusActive,
		EligibleCustomers: []string{"cust-1"},
	}
	s.Require().NoError(s.coupons.Upsert(ctx, want))

	// Lookup is case-insensitive.
	got, err := s.coupons.FindByCode(ctx, "save10")
	s.Require().NoError(err)
	s.Equal("SAVE10", got.Code)
	s.Equal(coupon.TypePercentage, got.Type)
	s.True(got.Amount.Equal(want.Amount))
	s.True(got.Maximum.Equal(want.Maximum))
	s.Equal(100, got.UsageLimit)
	s.Equal([]string{"cust-1"}, got.EligibleCustomers)
	s.Require().NotNil(got.ExpiresAt)
	s.WithinDuration(expires, *got.ExpiresAt, time.Second)

	_, err = s.coupons.FindByCode(ctx, "NOPE")
	s.ErrorIs(err, coupon.ErrNotFound)
}

func (s *repositorySuite) TestInvoiceSequence_ConcurrentDistinct() {
	ctx := s.T().Context()

	const n = 25
	day := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := s.invoices.Next(ctx, day)
			if assert.NoError(s.T(), err) {
				seqs <- seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		s.False(seen[seq], "duplicate sequence %d", seq)
		seen[seq] = true
	}
	s.Len(seen, n)

	// A different day starts over at 1.
	next, err := s.invoices.Next(ctx, day.AddDate(0, 0, 1))
	s.Require().NoError(err)
	s.EqualValues(1, next)
}

func (s *repositorySuite) TestCatalogResolve() {
	ctx := s.T().Context()
	s.seedProduct("prod-a", "249.00", "219.00")
	s.seedVariant("var-b", "prod-a", "269.00")

	refs := []catalog.LineRef{
		{ProductID: "prod-a"},
		{VariantID: "var-b"},
		{ProductID: "prod-missing"},
	}

	snapshots, err := s.catalog.Resolve(ctx, refs)
	s.Require().NoError(err)

	s.Require().Len(snapshots, 2)
	prod, ok := snapshots[catalog.LineRef{ProductID: "prod-a"}]
	s.Require().True(ok)
	s.True(prod.Price.Equal(decimal.RequireFromString("249.00")))
	s.True(prod.SalePrice.Equal(decimal.RequireFromString("219.00")))

	_, ok = snapshots[catalog.LineRef{VariantID: "var-b"}]
	s.True(ok)

	_, ok = snapshots[catalog.LineRef{ProductID: "prod-missing"}]
	s.False(ok, "unresolved refs are absent, the caller decides fatality")
}
