package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP API and the low stock worker",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return err
		}
		logger.Info("Migrations applied")
	}

	var producer broker.Publisher = broker.NewLogProducer()
	if cfg.Kafka.Enabled {
		kafkaProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer kafkaProducer.Close()
		producer = kafkaProducer
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	eventPublisher := broker.NewEventPublisher(producer)

	inventoryService := service.NewInventoryService(db)
	orderService := service.NewOrderService(db, eventPublisher, service.OrderOptions{
		DefaultPageSize: cfg.Business.DefaultPageSize,
		MaxPageSize:     cfg.Business.MaxPageSize,
		RestockOnCancel: cfg.Business.RestockOnCancel,
	})

	handler := api.NewHandler(orderService, inventoryService, auth.NewVerifier(cfg.Auth.JWTSecret, db)).
		WithReadinessCheck("database", db.Ping)

	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

		handler.WithRateLimiter(redisClient, cfg.Business.RateLimitRequests, cfg.Business.RateLimitWindow).
			WithReadinessCheck("redis", redisClient.Ping)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(c.Context)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		lowStock := worker.NewLowStockWorker(consumer, db, inventoryService, eventPublisher, cfg.Business.LowStockThreshold)

		g.Go(func() error {
			defer lowStock.Stop()
			if err := lowStock.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("low stock worker: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}
