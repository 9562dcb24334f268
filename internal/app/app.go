// Package app собирает сервис: хранилище, доменные сервисы, gRPC/HTTP API и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/eshop/internal/health"
	"github.com/vladislavdragonenkov/eshop/internal/messaging/kafka"
	grpcsvc "github.com/vladislavdragonenkov/eshop/internal/service/grpc"
	"github.com/vladislavdragonenkov/eshop/internal/service/httpapi"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/eshop/internal/version"
)

const (
	shutdownTimeout  = 5 * time.Second
	outboxMaxPending = 1000
)

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := initTracing(ctx, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Ошибка уже залогирована, без Kafka сервис продолжает работу.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		deps.Close(ctx)
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		deps.Close(ctx)
		return err
	}

	grpcServer, healthServer := newGRPCServer(deps, logger)
	httpServer := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Tx:       deps.Tx,
			Checkout: deps.Checkout,
			Orders:   deps.Orders,
			Catalog:  deps.Catalog,
			Linker:   deps.Linker,
			Guard:    deps.Guard,
			Logger:   logger.WithField("component", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthHandler := healthcheck.NewHandler(version.Version())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", deps.Store.Ping))
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.OutboxRepo, outboxMaxPending))
	metricsServer := newMetricsServer(cfg.MetricsAddr, healthHandler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", grpcLis.Addr().String()).Info("gRPC server listening")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", httpLis.Addr().String()).Info("HTTP API listening")
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics and health checks listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Метрики не критичны для обработки заказов.
			logger.WithError(err).Warn("metrics server failed")
		}
		return nil
	})

	cleanup := idempotency.NewCleanupWorker(deps.IdempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize))
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	if producer != nil {
		worker := outbox.NewWorker(deps.OutboxRepo, kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("component", "outbox")),
			outbox.WithDeadLetterSink(kafka.NewDeadLetterPublisher(producer, kafka.TopicOrderEventsDLQ)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay))
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	consumer, err := initPaymentConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, deps.Orders, producer, logger)
	if err == nil && consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			logger.WithError(err).Warn("payment consumer not started")
			consumer = nil
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(httpServer, logger)
		shutdownHTTP(metricsServer, logger)
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("payment consumer stop failed")
			}
		}
		return nil
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	deps.Close(closeCtx)
	closeKafka(producer, logger)
	if shutdownTracing != nil {
		if tErr := shutdownTracing(closeCtx); tErr != nil {
			logger.WithError(tErr).Warn("tracer provider shutdown failed")
		}
	}
	return err
}

// newGRPCServer регистрирует админский сервис, health и reflection с метриками go-grpc-prometheus.
func newGRPCServer(deps *Dependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	admin := grpcsvc.NewAdminService(deps.Checkout, deps.Orders, deps.Catalog, deps.Guard, logger.WithField("component", "grpc-admin"))
	grpcsvc.RegisterAdminServiceServer(server, admin)
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing gRPC stop")
		server.Stop()
	}
}

// newMetricsServer отдаёт /metrics для Prometheus и health-пробы.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
