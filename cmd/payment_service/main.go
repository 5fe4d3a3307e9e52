package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	httpadapter "github.com/partsmarket/golang_services/internal/payment_service/adapters/http"
	"github.com/partsmarket/golang_services/internal/payment_service/bootstrap"
	"github.com/partsmarket/golang_services/internal/payment_service/redirect"
	"github.com/partsmarket/golang_services/internal/payment_service/repository/postgres"
	"github.com/partsmarket/golang_services/internal/platform/config"
	"github.com/partsmarket/golang_services/internal/platform/logger"
	"github.com/partsmarket/golang_services/internal/platform/tracing"
)

const (
	serviceName        = "payment-service"
	defaultMetricsPort = 9095
	shutdownTimeout    = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	metricsPort := cfg.PaymentServiceMetricsPort
	if metricsPort == 0 {
		metricsPort = defaultMetricsPort
		appLogger.Info("Payment service metrics port not configured, using default", "port", metricsPort)
	}
	appLogger.Info("Payment service starting...",
		"grpc_port", cfg.PaymentServiceGRPCPort,
		"http_port", cfg.PaymentServiceHTTPPort,
		"metrics_port", metricsPort,
		"store_driver", cfg.StoreDriver,
		"gateway", cfg.GatewayProvider,
		"log_level", cfg.LogLevel,
	)

	shutdownTracing, err := tracing.Init(serviceName, cfg.JaegerEndpoint, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	components, err := bootstrap.Build(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialise payment service", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	if components.DB != nil {
		if err := postgres.Migrate(mainCtx, components.DB); err != nil {
			appLogger.Error("Failed to apply database schema", "error", err)
			os.Exit(1)
		}
	}

	renderer, err := redirect.NewRenderer(cfg.NativeAppScheme, cfg.HandoffDelay)
	if err != nil {
		appLogger.Error("Failed to load return page template", "error", err)
		os.Exit(1)
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- gRPC server (health + reflection) ---
	grpcMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerHandlingTimeHistogram(),
	)
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		appLogger.Warn("Failed to register gRPC Prometheus metrics", "error", err)
	}

	grpcServer := gRPC.NewServer(
		gRPC.StatsHandler(otelgrpc.NewServerHandler()),
		gRPC.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		gRPC.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	grpcListenAddress := fmt.Sprintf(":%d", cfg.PaymentServiceGRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}

	g.Go(func() error {
		appLogger.Info("Payment service gRPC server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		appLogger.Info("gRPC server shut down gracefully.")
		return nil
	})

	// --- Public HTTP server ---
	router := httpadapter.NewRouter(httpadapter.RouterDeps{
		Checkout:  httpadapter.NewCheckoutHandler(components.Checkout, components.Catalog, appLogger),
		Reconcile: httpadapter.NewReconcileHandler(components.Reconciler, renderer, appLogger),
		Credits:   httpadapter.NewCreditsHandler(components.Credits, appLogger),
		JWTSecret: cfg.JWTAccessSecret,
		Logger:    appLogger,
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PaymentServiceHTTPPort),
		Handler: router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: components.HTTPWriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr, "write_timeout", httpServer.WriteTimeout)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	// --- Housekeeping loop ---
	g.Go(func() error {
		return components.Housekeeper.Run(groupCtx)
	})

	// --- Graceful shutdown ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")
		healthServer.Shutdown()

		shutdownCtx, cancelShutdownTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdownTimeout()

		var shutdownErrors error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		appLogger.Info("gRPC server has finished GracefulStop.")

		if err := shutdownTracing(shutdownCtx); err != nil {
			appLogger.Warn("Tracer provider shutdown failed", "error", err)
		}
		return shutdownErrors
	})

	appLogger.Info("Payment service is ready and running.")
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
		}
	}

	appLogger.Info("Payment service shut down successfully.")
}
