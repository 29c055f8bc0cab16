// Package main is the entry point for the payment API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/paycore/internal/api"
	"github.com/onnwee/paycore/internal/config"
	"github.com/onnwee/paycore/internal/gateway"
	"github.com/onnwee/paycore/internal/health"
	"github.com/onnwee/paycore/internal/idempotency"
	"github.com/onnwee/paycore/internal/middleware"
	"github.com/onnwee/paycore/internal/payment"
	"github.com/onnwee/paycore/internal/tracing"
	"github.com/onnwee/paycore/internal/user"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Paycore API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	logger.Info("configuration loaded")
	for k, v := range cfg.LogSummary() {
		logger.Debug("config", k, v)
	}

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "paycore-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)

	// Metrics
	registry := prometheus.NewRegistry()
	paymentMetrics := payment.NewMetrics()
	gatewayMetrics := gateway.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	if err := gatewayMetrics.Register(registry); err != nil {
		logger.Error("failed to register gateway metrics", "error", err)
		os.Exit(1)
	}

	// Wire components: store -> ledger, gateway client, repositories,
	// then the two services sharing one transition authority.
	ledger := idempotency.NewLedger(
		idempotency.NewRedisStore(redisClient),
		time.Duration(cfg.IdempotencyTTLHours)*time.Hour,
		idempotency.DefaultClaimTTL,
	)
	gatewayClient := gateway.NewHTTPClient(gateway.Config{
		BaseURL:   cfg.GatewayBaseURL,
		ShopID:    cfg.GatewayShopID,
		SecretKey: cfg.GatewaySecretKey,
		Timeout:   time.Duration(cfg.GatewayTimeoutSeconds) * time.Second,
	}, logger, gatewayMetrics)

	paymentRepo := payment.NewPostgresRepository(db, logger)
	userRepo := user.NewPostgresRepository(db)

	service := payment.NewService(paymentRepo, userRepo, ledger, gatewayClient, logger, paymentMetrics)
	reconciler := payment.NewReconciler(paymentRepo, gatewayClient, logger, paymentMetrics)

	paymentHandlers := api.NewPaymentHandlers(service)
	webhookHandlers := api.NewWebhookHandlers(reconciler)
	healthHandlers := api.NewHealthHandlers(map[string]health.Checker{
		"database": health.NewDBChecker(db),
		"redis":    health.NewRedisChecker(redisClient),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", paymentHandlers.HandleCreatePayment)
	mux.HandleFunc("GET /payments/{id}", paymentHandlers.HandleGetPayment)
	mux.HandleFunc("POST /webhooks/gateway", webhookHandlers.HandleGatewayWebhook)
	mux.HandleFunc("GET /health", healthHandlers.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Apply middleware: RequestID -> Logging
	handler := middleware.RequestID(middleware.Logging(logger)(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracing", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("failed to close redis client", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}

	logger.Info("server stopped")
}
