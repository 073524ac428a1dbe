package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/pricing"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN, logger); err != nil {
			return err
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start(context.Background())

	promos, err := pricing.ParsePromoCodes(cfg.PromoCodes)
	if err != nil {
		return err
	}
	cat := catalog.NewPostgres(db)
	resolver := catalog.NewResolver(cat)
	carts := cart.NewService(cart.NewRedisStore(rdb, cfg.CartTTL), cat, resolver, logger.Named("cart"))
	engine := pricing.NewEngine(promos)

	repo := &orders.Repo{DB: db}
	notifier := notify.Multi{
		notify.Log{Logger: logger.Named("events")},
		&notify.Kafka{Producer: prod, ServiceName: cfg.ServiceName},
	}
	// checkout removes consumed cart lines itself, under the cart lock
	factory, err := orders.NewFactory(orders.FactoryDeps{
		Repo:     repo,
		Notifier: notifier,
		Logger:   logger.Named("orders"),
	})
	if err != nil {
		return err
	}
	machine, err := orders.NewStateMachine(orders.MachineDeps{
		Repo:     repo,
		Notifier: notifier,
		Stock:    &orders.ReservationRepo{DB: db},
		Logger:   logger.Named("orders"),
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(logger.Named("http"))
	(&httpx.CatalogHandler{Products: cat, Combos: resolver}).Register(router)
	(&httpx.CartsHandler{Carts: carts, Pricing: engine}).Register(router)
	(&httpx.OrdersHandler{
		Repo:    repo,
		Factory: factory,
		Machine: machine,
		Carts:   carts,
		Pricing: engine,
		Redis:   rdb,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		prod.Close()      // stop accepting -> flush & close writer
		prod.WaitClosed() // drain
		return err
	})
	return g.Wait()
}
