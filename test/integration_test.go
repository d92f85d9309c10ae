//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ecomtools/marketplace-payments/internal/domain"
	"github.com/ecomtools/marketplace-payments/internal/messaging"
	"github.com/ecomtools/marketplace-payments/internal/orders"
	"github.com/ecomtools/marketplace-payments/internal/payments"
	"github.com/ecomtools/marketplace-payments/internal/worker"
)

// fakeProvider is an in-memory stand-in for the remote payment
// processor, with test-settable payment statuses.
type fakeProvider struct {
	mu     sync.Mutex
	seq    int
	status map[string]string
	method map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		status: make(map[string]string),
		method: make(map[string]string),
	}
}

func (p *fakeProvider) setStatus(paymentID, status, method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[paymentID] = status
	p.method[paymentID] = method
}

func (p *fakeProvider) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v2/payments", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount      payments.Amount   `json:"amount"`
			Description string            `json:"description"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.seq++
		paymentID := fmt.Sprintf("tr_%d", p.seq)
		p.status[paymentID] = "open"
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          paymentID,
			"status":      "open",
			"amount":      req.Amount,
			"description": req.Description,
			"metadata":    req.Metadata,
			"_links":      map[string]any{"checkout": map[string]string{"href": "https://pay/" + paymentID}},
		})
	})

	mux.HandleFunc("GET /v2/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		paymentID := r.PathValue("id")

		p.mu.Lock()
		status, ok := p.status[paymentID]
		method := p.method[paymentID]
		p.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     paymentID,
			"status": status,
		}
		if method != "" {
			resp["method"] = method
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestPaymentLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	provider := newFakeProvider()
	providerServer := provider.server()
	defer providerServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewRepository(db)
	gatewayClient := payments.NewGatewayClient(providerServer.URL, "test_key", "https://shop.example/payments/webhook", providerServer.Client())
	service := payments.NewService(repo, gatewayClient, nil, logger)
	paymentHandler := payments.NewHandler(service, logger)
	orderHandler := orders.NewHandler(repo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/create", paymentHandler.HandleCreate)
	mux.HandleFunc("POST /payments/webhook", paymentHandler.HandleWebhook)
	mux.HandleFunc("GET /payments/{id}", paymentHandler.HandleGet)
	mux.HandleFunc("GET /orders/{id}", orderHandler.HandleGet)
	mux.HandleFunc("GET /orders/user/{userId}", orderHandler.HandleListByUser)

	// 1. Initiate the payment.
	reqBody := `{"amount": 49.99, "description": "Order #1", "redirectUrl": "https://shop/return", "userId": "user-1", "items": [{"productId": "p1", "qty": 1}]}`
	req := httptest.NewRequest(http.MethodPost, "/payments/create", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created payments.CreatePaymentResult
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.CheckoutURL != "https://pay/"+created.PaymentID {
		t.Errorf("unexpected checkout URL %s", created.CheckoutURL)
	}

	// 2. The order is pending and linked to the remote payment.
	order, err := repo.GetByID(ctx, created.OrderID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if order == nil {
		t.Fatal("order not found")
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected status pending, got %s", order.Status)
	}
	if order.PaymentID != created.PaymentID {
		t.Fatalf("expected payment id %s, got %s", created.PaymentID, order.PaymentID)
	}
	if order.Amount != 49.99 {
		t.Fatalf("expected amount 49.99, got %v", order.Amount)
	}

	// 3. The provider settles the payment and notifies us.
	provider.setStatus(created.PaymentID, "paid", "ideal")

	webhook := func() {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"id": "`+created.PaymentID+`"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected webhook status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"received":true`) {
			t.Fatalf("expected acknowledgment, got %s", rec.Body.String())
		}
	}
	webhook()

	order, err = repo.GetByID(ctx, created.OrderID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid, got %s", order.Status)
	}
	if order.PaymentMethod != "ideal" {
		t.Errorf("expected method ideal, got %s", order.PaymentMethod)
	}
	if len(order.PaymentDetails) == 0 {
		t.Error("expected payment details to be stored")
	}

	// 4. Replayed webhooks converge to the same state.
	webhook()
	webhook()

	replayed, err := repo.GetByID(ctx, created.OrderID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if replayed.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid after replays, got %s", replayed.Status)
	}
	if replayed.PaymentMethod != order.PaymentMethod {
		t.Errorf("payment method changed across replays: %s vs %s", replayed.PaymentMethod, order.PaymentMethod)
	}

	// 5. A webhook for an unknown payment is acknowledged and mutates nothing.
	provider.setStatus("tr_ghost", "paid", "ideal")
	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"id": "tr_ghost"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	ghost, err := repo.GetByPaymentID(ctx, "tr_ghost")
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if ghost != nil {
		t.Error("expected no order for unknown payment")
	}

	// 6. The order shows up under its user.
	req = httptest.NewRequest(http.MethodGet, "/orders/user/user-1", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var userOrders []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&userOrders); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(userOrders) != 1 || userOrders[0].ID != created.OrderID {
		t.Errorf("unexpected user orders: %+v", userOrders)
	}
}

func TestRepository(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := orders.NewRepository(db)

	t.Run("rejects orders missing required fields", func(t *testing.T) {
		err := repo.Create(ctx, &domain.Order{UserID: "user-1", Amount: 10, Status: domain.OrderStatusPending})
		var validationErr *domain.ValidationError
		if !errors.As(err, &validationErr) || validationErr.Field != "description" {
			t.Errorf("expected description validation error, got %v", err)
		}
	})

	t.Run("returns nil for unknown ids", func(t *testing.T) {
		order, err := repo.GetByID(ctx, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order != nil {
			t.Errorf("expected nil, got %+v", order)
		}
	})

	t.Run("update by payment id no-ops for unlinked payments", func(t *testing.T) {
		order, err := repo.UpdatePaymentStatus(ctx, "tr_nobody", domain.OrderStatusPaid, []byte(`{"status":"paid"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order != nil {
			t.Errorf("expected nil, got %+v", order)
		}
	})

	t.Run("partial update merges fields", func(t *testing.T) {
		order := &domain.Order{
			UserID:      "user-2",
			Amount:      15.50,
			Description: "Order #2",
			Status:      domain.OrderStatusPending,
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		paymentID := "tr_merge"
		updated, err := repo.UpdateByID(ctx, order.ID, domain.OrderUpdate{PaymentID: &paymentID})
		if err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		if updated.PaymentID != paymentID {
			t.Errorf("expected payment id %s, got %s", paymentID, updated.PaymentID)
		}
		if updated.Description != "Order #2" {
			t.Errorf("untouched field changed: %s", updated.Description)
		}
		if updated.Status != domain.OrderStatusPending {
			t.Errorf("untouched status changed: %s", updated.Status)
		}
	})

	t.Run("payment method only set when paid", func(t *testing.T) {
		order := &domain.Order{
			UserID:      "user-3",
			Amount:      20,
			Description: "Order #3",
			Status:      domain.OrderStatusPending,
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		paymentID := "tr_failed"
		if _, err := repo.UpdateByID(ctx, order.ID, domain.OrderUpdate{PaymentID: &paymentID}); err != nil {
			t.Fatalf("failed to link: %v", err)
		}

		updated, err := repo.UpdatePaymentStatus(ctx, paymentID, domain.OrderStatusFailed, []byte(`{"status":"failed","method":"ideal"}`))
		if err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		if updated.Status != domain.OrderStatusFailed {
			t.Errorf("expected status failed, got %s", updated.Status)
		}
		if updated.PaymentMethod != "" {
			t.Errorf("expected no payment method for failed payment, got %s", updated.PaymentMethod)
		}
	})

	t.Run("lists orders by seller", func(t *testing.T) {
		order := &domain.Order{
			UserID:      "user-4",
			SellerID:    "seller-1",
			Amount:      30,
			Description: "Order #4",
			Status:      domain.OrderStatusPending,
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		listed, err := repo.ListBySellerID(ctx, "seller-1")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != order.ID {
			t.Errorf("unexpected seller orders: %+v", listed)
		}
	})
}

func TestSettlementPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	received := make(chan map[string]string, 1)
	emailServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var email map[string]string
		if err := json.NewDecoder(r.Body).Decode(&email); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- email
		w.WriteHeader(http.StatusOK)
	}))
	defer emailServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer := messaging.NewProducer(brokers, messaging.TopicPaymentSettled)
	defer func() { _ = producer.Close() }()

	event := domain.PaymentSettledEvent{
		OrderID:     "order-1",
		PaymentID:   "tr_123",
		UserID:      "user-1",
		Status:      domain.OrderStatusPaid,
		Amount:      49.99,
		Description: "Order #1",
		Timestamp:   time.Now().UTC(),
	}
	if err := producer.Publish(ctx, event.OrderID, event); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicPaymentSettled, "settlement-worker-test")
	defer func() { _ = consumer.Close() }()

	handler := worker.NewSettlementHandler(emailServer.URL, emailServer.Client(), logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		_ = consumer.Consume(consumerCtx, handler.Handle)
	}()

	select {
	case email := <-received:
		if email["to"] != "user-1@example.com" {
			t.Errorf("unexpected recipient %s", email["to"])
		}
		if !strings.Contains(email["subject"], "order-1") {
			t.Errorf("unexpected subject %q", email["subject"])
		}
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for settlement email")
	}
}
