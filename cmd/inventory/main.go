package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
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
		logger.Fatal("inventory exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName+"-inventory")
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// reserved & rejected go to their own topics through one producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start(context.Background())

	svc := &inventory.Service{
		Repo:        &orders.ReservationRepo{DB: db},
		Redis:       rdb,
		Producer:    prod,
		ServiceName: cfg.ServiceName + "-inventory",
		Logger:      logger.Named("inventory"),
	}

	dlq := kafkax.NewDeadLetter(cfg.KafkaBrokers, cfg.InventoryDLQ)
	defer dlq.Close()

	topics := []string{orders.TopicOrderCreated, orders.TopicOrderCancelled}
	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		Group:      cfg.InventoryGroup,
		Topics:     topics,
		Workers:    cfg.InventoryWorkers,
		DeadLetter: dlq.Park,
	}, logger.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("inventory consumer started",
			zap.String("group", cfg.InventoryGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.InventoryWorkers))
		return cons.Start(gctx, svc.Handle)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down consumer")
		prod.Close()
		prod.WaitClosed()
		return nil
	})
	return g.Wait()
}
