package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

func TestGatewayClient_CreatePayment(t *testing.T) {
	t.Run("submits amount, correlation metadata and webhook URL", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.URL.Path != "/v2/payments" {
				t.Errorf("expected /v2/payments, got %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test_key" {
				t.Errorf("expected bearer auth, got %q", auth)
			}

			var req createPaymentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req.Amount.Value != "49.99" {
				t.Errorf("expected amount value 49.99, got %s", req.Amount.Value)
			}
			if req.Amount.Currency != "EUR" {
				t.Errorf("expected currency EUR, got %s", req.Amount.Currency)
			}
			if req.Metadata["orderId"] != "order-1" {
				t.Errorf("expected orderId order-1, got %s", req.Metadata["orderId"])
			}
			if req.WebhookURL != "https://shop.example/payments/webhook" {
				t.Errorf("unexpected webhook URL %s", req.WebhookURL)
			}
			if req.RedirectURL != "https://shop/return" {
				t.Errorf("unexpected redirect URL %s", req.RedirectURL)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{
				"id": "tr_123",
				"status": "open",
				"amount": {"currency": "EUR", "value": "49.99"},
				"description": "Order #1",
				"metadata": {"orderId": "order-1"},
				"_links": {"checkout": {"href": "https://pay/tr_123"}}
			}`))
		}))
		defer server.Close()

		client := NewGatewayClient(server.URL, "test_key", "https://shop.example/payments/webhook", server.Client())

		payment, err := client.CreatePayment(context.Background(), 49.99, "order-1", "Order #1", "https://shop/return")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payment.ID != "tr_123" {
			t.Errorf("expected payment id tr_123, got %s", payment.ID)
		}
		if payment.CheckoutURL() != "https://pay/tr_123" {
			t.Errorf("unexpected checkout URL %s", payment.CheckoutURL())
		}
		if len(payment.Raw) == 0 {
			t.Error("expected raw payload to be retained")
		}
	})

	t.Run("returns GatewayError on provider error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewGatewayClient(server.URL, "bad_key", "https://shop.example/payments/webhook", server.Client())

		_, err := client.CreatePayment(context.Background(), 10, "order-1", "Order #1", "https://shop/return")
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if gwErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", gwErr.StatusCode)
		}
	})

	t.Run("returns GatewayError on network failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := NewGatewayClient(server.URL, "test_key", "https://shop.example/payments/webhook", &http.Client{})

		_, err := client.CreatePayment(context.Background(), 10, "order-1", "Order #1", "https://shop/return")
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if gwErr.Err == nil {
			t.Error("expected wrapped transport error")
		}
	})
}

func TestGatewayClient_GetPayment(t *testing.T) {
	t.Run("fetches payment by id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v2/payments/tr_123" {
				t.Errorf("expected /v2/payments/tr_123, got %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "tr_123",
				"status": "paid",
				"method": "ideal",
				"amount": {"currency": "EUR", "value": "49.99"},
				"description": "Order #1"
			}`))
		}))
		defer server.Close()

		client := NewGatewayClient(server.URL, "test_key", "https://shop.example/payments/webhook", server.Client())

		payment, err := client.GetPayment(context.Background(), "tr_123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payment.Status != "paid" {
			t.Errorf("expected status paid, got %s", payment.Status)
		}
		if payment.Method != "ideal" {
			t.Errorf("expected method ideal, got %s", payment.Method)
		}
	})

	t.Run("returns GatewayError for unknown payment", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewGatewayClient(server.URL, "test_key", "https://shop.example/payments/webhook", server.Client())

		_, err := client.GetPayment(context.Background(), "tr_unknown")
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if gwErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", gwErr.StatusCode)
		}
	})
}
