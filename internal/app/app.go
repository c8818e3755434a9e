// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable settlement API.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/marketbay/settlement/internal/domain/catalog"
	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/domain/invoice"
	"github.com/marketbay/settlement/internal/domain/order"
	"github.com/marketbay/settlement/internal/handler"
	"github.com/marketbay/settlement/internal/storage/mongodoc"
	"github.com/marketbay/settlement/internal/storage/postgres"
	"github.com/marketbay/settlement/pkg/health"
	"github.com/marketbay/settlement/pkg/httpmiddleware"
)

// repositories bundles the storage ports for one backend together with its
// readiness check and teardown.
type repositories struct {
	catalog  catalog.Resolver
	coupons  coupon.Repository
	orders   order.Repository
	invoices invoice.Repository
	seq      invoice.Sequencer

	ping  health.CheckFunc
	close func()
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend),
	)

	repos, err := openBackend(ctx, cfg)
	if err != nil {
		return errors.Wrapf(err, "open %s backend", cfg.Backend)
	}
	defer repos.close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Backend, 5*time.Second, repos.ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService := order.NewService(repos.catalog, repos.coupons, repos.orders)
	invoiceService := invoice.NewService(repos.orders, repos.invoices, repos.seq)

	// HTTP handlers.
	h := handler.NewHandler(orderService, invoiceService)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("settlement-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// openBackend builds the repository set for the configured backend.
func openBackend(ctx context.Context, cfg *Config) (*repositories, error) {
	switch cfg.Backend {
	case BackendPostgres:
		return openPostgres(ctx, cfg.DatabaseURL)
	case BackendMongo:
		return openMongo(ctx, cfg.Mongo)
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openPostgres(ctx context.Context, databaseURL string) (*repositories, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	return &repositories{
		catalog:  postgres.NewCatalogRepository(pool),
		coupons:  postgres.NewCouponRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
		invoices: invoiceRepo,
		seq:      invoiceRepo,
		ping:     pool.Ping,
		close:    pool.Close,
	}, nil
}

func openMongo(ctx context.Context, cfg MongoConfig) (*repositories, error) {
	client, err := mongodoc.Connect(ctx, cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}
	db := client.Database(cfg.Database)

	invoiceRepo := mongodoc.NewInvoiceRepository(db)
	return &repositories{
		catalog:  mongodoc.NewCatalogRepository(db),
		coupons:  mongodoc.NewCouponRepository(db),
		orders:   mongodoc.NewOrderRepository(client, db),
		invoices: invoiceRepo,
		seq:      invoiceRepo,
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		close: func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		},
	}, nil
}
