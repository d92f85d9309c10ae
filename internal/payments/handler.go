package payments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createPaymentBody struct {
	Amount          float64         `json:"amount"`
	Description     string          `json:"description"`
	RedirectURL     string          `json:"redirectUrl"`
	UserID          string          `json:"userId,omitempty"`
	Items           json.RawMessage `json:"items,omitempty"`
	CustomerDetails json.RawMessage `json:"customerDetails,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body createPaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.CreatePayment(r.Context(), CreatePaymentInput{
		Amount:          body.Amount,
		Description:     body.Description,
		RedirectURL:     body.RedirectURL,
		UserID:          body.UserID,
		Items:           body.Items,
		CustomerDetails: body.CustomerDetails,
	})
	if err != nil {
		h.logger.Error("failed to create payment", "error", err)

		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}

		var gatewayErr *domain.GatewayError
		if errors.As(err, &gatewayErr) {
			h.writeError(w, http.StatusBadGateway, "payment creation failed")
			return
		}

		h.writeError(w, http.StatusInternalServerError, "payment creation failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("id")
	if paymentID == "" {
		h.writeError(w, http.StatusBadRequest, "missing payment id")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("failed to get payment", "error", err, "payment_id", paymentID)

		var gatewayErr *domain.GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.StatusCode == http.StatusNotFound {
			h.writeError(w, http.StatusNotFound, "payment not found")
			return
		}

		h.writeError(w, http.StatusBadGateway, "payment retrieval failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":          payment.ID,
		"status":      payment.Status,
		"amount":      payment.Amount,
		"description": payment.Description,
		"metadata":    payment.Metadata,
	})
}

type webhookBody struct {
	ID string `json:"id"`
}

// HandleWebhook receives the provider's asynchronous payment
// notifications. It always acknowledges with 200 regardless of the
// internal outcome so the provider does not retry-storm on our
// failures; errors are logged, never surfaced.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		h.logger.Error("webhook received without payment id")
		h.acknowledge(w)
		return
	}

	h.logger.Info("webhook received", "payment_id", body.ID)

	if err := h.service.Reconcile(r.Context(), body.ID); err != nil {
		h.logger.Error("webhook reconciliation failed", "error", err, "payment_id", body.ID)
	}

	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
