package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/kit-ledger/internal/adapter/handler"
	"github.com/rl1809/kit-ledger/internal/adapter/messaging"
	"github.com/rl1809/kit-ledger/internal/adapter/storage"
	"github.com/rl1809/kit-ledger/internal/config"
	"github.com/rl1809/kit-ledger/internal/core/service"
	"github.com/rl1809/kit-ledger/internal/logger"
	"github.com/rl1809/kit-ledger/internal/metrics"
	"github.com/rl1809/kit-ledger/internal/port"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.ServiceName, cfg.Log.Level, cfg.Log.Pretty)

	if err := run(cfg); err != nil {
		zlog.Fatal().Err(err).Msg("server stopped")
	}
	zlog.Info().Msg("server stopped")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			return errors.Wrap(err, "init tracing")
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				zlog.Error().Err(err).Msg("failed to shutdown tracer provider")
			}
		}()
	}

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return errors.Wrap(err, "open mysql")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping mysql")
	}
	zlog.Info().Msg("connected to mysql")

	if cfg.MySQL.Migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
	}

	gormDB, err := storage.OpenGorm(db)
	if err != nil {
		return err
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	zlog.Info().Msg("connected to redis")

	// Events
	var events port.EventPublisher = messaging.LogPublisher{}
	if cfg.Kafka.Enabled {
		publisher := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer publisher.Close()
		events = publisher
		zlog.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing ledger events to kafka")
	}

	deps := service.Deps{
		DB: storage.NewMySQLAdapter(db),
		Cache: storage.NewRedisAdapter(rdb,
			storage.WithIdempotencyTTL(cfg.Checkout.IdempotencyTTL),
			storage.WithSnapshotTTL(cfg.Redis.StockSnapshotTTL),
		),
		Patches: storage.NewGormPatchCatalog(gormDB),
		Events:  events,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	}
	orders := service.NewOrderService(deps)
	lifecycle := service.NewLifecycleService(deps)
	inventory := service.NewInventoryService(deps)

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryInterceptor))
	handler.RegisterLedgerServer(grpcServer, handler.NewGRPCHandler(orders, lifecycle, inventory))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}

	// HTTP
	router := handler.NewHTTPHandler(orders, lifecycle, inventory, cfg.Checkout.PlaceTimeout).Routes()
	router.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
