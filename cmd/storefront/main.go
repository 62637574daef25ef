package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/storefront/internal/config"
	"github.com/sakashimaa/storefront/internal/db"
	"github.com/sakashimaa/storefront/internal/discovery"
	"github.com/sakashimaa/storefront/internal/kafka"
	"github.com/sakashimaa/storefront/internal/metrics"
	"github.com/sakashimaa/storefront/internal/outbox"
	"github.com/sakashimaa/storefront/internal/rabbitmq"
	"github.com/sakashimaa/storefront/internal/repository"
	"github.com/sakashimaa/storefront/internal/service"
	grpctransport "github.com/sakashimaa/storefront/internal/transport/grpc"
	httptransport "github.com/sakashimaa/storefront/internal/transport/http"
	"github.com/sakashimaa/storefront/internal/transport/http/handler"
	kafkatransport "github.com/sakashimaa/storefront/internal/transport/kafka"
	"github.com/sakashimaa/storefront/internal/utils"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const serviceName = "storefront"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: cfg.Logger.Level,
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = utils.InitTracer(ctx, utils.TracerConfig{
			ServiceName: serviceName,
			Endpoint:    cfg.Tracing.Endpoint,
			Env:         cfg.Env,
		})
		if err != nil {
			logger.Fatal("Error init tracer", zap.Error(err))
		}
	} else {
		utils.SetPropagator()
	}

	pool, err := db.NewPostgresDB(ctx, db.PoolConfig{
		URL:      cfg.Postgres.URL,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		logger.Fatal("Error creating postgres pool", zap.Error(err))
	}

	if err := db.RunMigrations(cfg.Postgres.URL); err != nil {
		logger.Fatal("Error running migrations", zap.Error(err))
	}

	m := metrics.New(true)

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Port,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics serving failed", zap.Error(err))
		}
	}()

	txRunner := db.NewTxRunner(pool, logger)
	productRepository := repository.NewProductRepository(pool, logger)
	orderRepository := repository.NewOrderRepository(pool, logger)
	userRepository := repository.NewUserRepository(pool, logger)
	outboxRepository := outbox.NewRepository(pool, logger)

	var catalogService service.CatalogService = service.NewCatalogService(
		productRepository,
		txRunner,
		outboxRepository,
		cfg.Kafka.ProductTopic,
		logger,
	)

	orderOpts := []service.OrderServiceOption{
		service.WithTransactions(txRunner),
		service.WithOutbox(outboxRepository, cfg.Kafka.OrderTopic),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() {
			_ = rdb.Close()
		}()

		cached := service.NewCachedCatalogService(catalogService, rdb, cfg.Redis.CacheTTL, logger)
		catalogService = cached
		orderOpts = append(orderOpts, service.WithStockListener(cached))
	}

	orderService := metrics.InstrumentOrders(
		service.NewOrderService(productRepository, orderRepository, logger, orderOpts...),
		m,
	)
	userService := service.NewUserService(userRepository, logger)

	var workers sync.WaitGroup

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("Error creating outbox publisher", zap.Error(err))
	}

	if publisher != nil {
		processor := outbox.NewProcessor(
			txRunner,
			outboxRepository,
			outbox.NewBreakerPublisher("outbox-"+cfg.Outbox.Publisher, metrics.InstrumentPublisher(publisher, m), logger),
			cfg.Outbox.BatchSize,
			cfg.Outbox.Interval,
			logger,
		)

		workers.Add(1)
		go func() {
			defer workers.Done()
			processor.Start(ctx)
		}()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		restockConsumer := kafkatransport.NewRestockConsumer(
			catalogService,
			outbox.NewDeduplicator(pool, txRunner, logger),
			logger,
		)

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := restockConsumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.RestockTopics); err != nil {
				logger.Error("Error starting restock consumer", zap.Error(err))
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		logger.Fatal("Error listening gRPC", zap.String("addr", cfg.GRPC.Port), zap.Error(err))
	}

	grpcServer := grpctransport.NewServer(serviceName, logger)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("Error serving gRPC", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: handler.TooManyRequests,
	}))

	httptransport.RegisterRoutes(app, &httptransport.Handlers{
		Health:  handler.NewHealthHandler(pool, logger),
		Order:   handler.NewOrderHandler(orderService, cfg.HTTP.Timeout, logger),
		Product: handler.NewProductHandler(catalogService, cfg.HTTP.Timeout, logger),
		User:    handler.NewUserHandler(userService, cfg.HTTP.Timeout, logger),
	})

	go func() {
		logger.Info("HTTP service listening", zap.String("addr", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening HTTP", zap.String("addr", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	var consul *discovery.ConsulClient
	if cfg.Consul.Addr != "" {
		consul = register(cfg, logger)
	}

	logger.Info("storefront started", zap.String("env", cfg.Env))

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if consul != nil {
		if err := consul.Deregister(cfg.Consul.ServiceID); err != nil {
			logger.Warn("Error deregistering from consul", zap.Error(err))
		}
	}

	grpcServer.Stop()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	workers.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping metrics server", zap.Error(err))
	}

	if closePublisher != nil {
		if err := closePublisher(); err != nil {
			logger.Warn("Error closing outbox publisher", zap.Error(err))
		}
	}

	pool.Close()
	logger.Info("Closed db pool")

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping telemetry", zap.Error(err))
		}
	}
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (outbox.Publisher, func() error, error) {
	switch cfg.Outbox.Publisher {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return nil, nil, err
		}
		return producer, producer.Close, nil
	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return publisher, publisher.Close, nil
	default:
		logger.Warn("Outbox publishing disabled, events stay in the outbox table")
		return nil, nil, nil
	}
}

func register(cfg *config.Config, logger *zap.Logger) *discovery.ConsulClient {
	port, err := discovery.PortFromAddr(cfg.HTTP.Port)
	if err != nil {
		logger.Warn("Skipping consul registration", zap.Error(err))
		return nil
	}

	client, err := discovery.NewConsulClient(cfg.Consul.Addr, logger)
	if err != nil {
		logger.Warn("Consul unavailable, continuing without registration", zap.Error(err))
		return nil
	}

	err = client.Register(discovery.ServiceConfig{
		Name: serviceName,
		ID:   cfg.Consul.ServiceID,
		Host: cfg.Consul.ServiceHost,
		Port: port,
		Tags: []string{"http", cfg.Env},
	})
	if err != nil {
		logger.Warn("Consul registration failed", zap.Error(err))
		return nil
	}

	return client
}
