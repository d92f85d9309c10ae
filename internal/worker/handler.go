package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

// SettlementHandler turns payment settlement events into customer
// emails: a receipt for paid orders, a notice for failed or canceled
// ones.
type SettlementHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewSettlementHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *SettlementHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.PaymentSettledEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal settlement event: %w", err)
	}

	h.logger.Info("processing settlement event", "order_id", event.OrderID, "payment_id", event.PaymentID, "status", event.Status)

	var subject, body string
	switch event.Status {
	case domain.OrderStatusPaid:
		subject = "Payment received for order " + event.OrderID
		body = fmt.Sprintf("Your payment of %.2f EUR for %q was received. Thank you for your purchase.", event.Amount, event.Description)
	case domain.OrderStatusFailed, domain.OrderStatusCanceled:
		subject = "Payment not completed for order " + event.OrderID
		body = fmt.Sprintf("Your payment for %q was %s. No money was charged; you can retry the checkout at any time.", event.Description, event.Status)
	default:
		h.logger.Warn("ignoring settlement event with non-terminal status", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	email := map[string]string{
		"to":      event.UserID + "@example.com",
		"subject": subject,
		"body":    body,
	}

	if err := h.sendEmail(ctx, email); err != nil {
		h.logger.Error("failed to send settlement email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send settlement email: %w", err)
	}

	h.logger.Info("settlement email sent", "order_id", event.OrderID, "status", event.Status)
	return nil
}

func (h *SettlementHandler) sendEmail(ctx context.Context, email map[string]string) error {
	data, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
