package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ecomtools/marketplace-payments/internal/messaging"
	"github.com/ecomtools/marketplace-payments/internal/orders"
	"github.com/ecomtools/marketplace-payments/internal/payments"
	"github.com/ecomtools/marketplace-payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payments", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("payments", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("PAYMENT_API_KEY")
	if apiKey == "" {
		logger.Error("PAYMENT_API_KEY environment variable is required")
		os.Exit(1)
	}

	apiURL := os.Getenv("PAYMENT_API_URL")
	if apiURL == "" {
		apiURL = "https://api.mollie.com"
	}

	webhookBaseURL := os.Getenv("WEBHOOK_BASE_URL")
	if webhookBaseURL == "" {
		logger.Error("WEBHOOK_BASE_URL environment variable is required")
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	gatewayClient := payments.NewGatewayClient(apiURL, apiKey, webhookBaseURL+"/payments/webhook", httpClient)

	var producer *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		producer = messaging.NewProducer(strings.Split(kafkaBrokers, ","), messaging.TopicPaymentSettled)
		defer func() { _ = producer.Close() }()
	}

	repo := orders.NewRepository(db)

	var publisher payments.EventPublisher
	if producer != nil {
		publisher = producer
	}
	service := payments.NewService(repo, gatewayClient, publisher, logger)

	paymentHandler := payments.NewHandler(service, logger)
	orderHandler := orders.NewHandler(repo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/create", telemetry.WithHTTPRoute(paymentHandler.HandleCreate))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(paymentHandler.HandleWebhook))
	mux.HandleFunc("GET /payments/{id}", telemetry.WithHTTPRoute(paymentHandler.HandleGet))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /orders/user/{userId}", telemetry.WithHTTPRoute(orderHandler.HandleListByUser))
	mux.HandleFunc("GET /orders/seller/{sellerId}", telemetry.WithHTTPRoute(orderHandler.HandleListBySeller))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "payments",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting payments service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
