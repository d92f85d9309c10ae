package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

// GuestUserID is attached to orders created without an authenticated user.
const GuestUserID = "guest-user"

// OrderStore is the slice of the order repository the orchestrator uses.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	UpdateByID(ctx context.Context, id string, update domain.OrderUpdate) (*domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.OrderStatus, details []byte) (*domain.Order, error)
}

// Gateway abstracts the remote payment provider calls.
type Gateway interface {
	CreatePayment(ctx context.Context, amount float64, orderID, description, redirectURL string) (*RemotePayment, error)
	GetPayment(ctx context.Context, paymentID string) (*RemotePayment, error)
}

// EventPublisher publishes settlement events. May be nil when no broker
// is configured.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Service coordinates order creation, payment initiation and webhook
// reconciliation.
type Service struct {
	store     OrderStore
	gateway   Gateway
	publisher EventPublisher
	logger    *slog.Logger
}

func NewService(store OrderStore, gateway Gateway, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

type CreatePaymentInput struct {
	Amount          float64
	Description     string
	RedirectURL     string
	UserID          string
	Items           json.RawMessage
	CustomerDetails json.RawMessage
}

type CreatePaymentResult struct {
	OrderID     string `json:"orderId"`
	PaymentID   string `json:"paymentId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// CreatePayment creates a pending order, opens a remote payment for it
// and links the returned payment identifier back onto the order.
//
// There is no compensation for partial failure: if the gateway call
// fails the order stays pending with no payment id, and if the linking
// update fails a remote payment exists without local linkage. Callers
// must treat any error as an overall failure without assuming rollback.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	if in.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.Description == "" {
		return nil, &domain.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if in.RedirectURL == "" {
		return nil, &domain.ValidationError{Field: "redirectUrl", Reason: "must not be empty"}
	}

	userID := in.UserID
	if userID == "" {
		s.logger.Warn("no user id provided, using guest user")
		userID = GuestUserID
	}

	order := &domain.Order{
		UserID:          userID,
		Amount:          in.Amount,
		Description:     in.Description,
		Status:          domain.OrderStatusPending,
		Items:           in.Items,
		CustomerDetails: in.CustomerDetails,
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID)

	payment, err := s.gateway.CreatePayment(ctx, in.Amount, order.ID, in.Description, in.RedirectURL)
	if err != nil {
		// The order stays behind as a pending record without a
		// payment id so the attempt remains auditable.
		return nil, fmt.Errorf("create remote payment for order %s: %w", order.ID, err)
	}

	linked, err := s.store.UpdateByID(ctx, order.ID, domain.OrderUpdate{PaymentID: &payment.ID})
	if err != nil {
		return nil, fmt.Errorf("link payment %s to order %s: %w", payment.ID, order.ID, err)
	}
	if linked == nil {
		return nil, fmt.Errorf("link payment %s to order %s: %w", payment.ID, order.ID, domain.ErrOrderNotFound)
	}

	s.logger.Info("payment created and linked", "order_id", order.ID, "payment_id", payment.ID)

	return &CreatePaymentResult{
		OrderID:     order.ID,
		PaymentID:   payment.ID,
		CheckoutURL: payment.CheckoutURL(),
	}, nil
}

// Reconcile synchronizes the order linked to paymentID with the
// provider's authoritative payment state. The notification body is
// never trusted: the state is always re-fetched, which makes replayed
// and out-of-order deliveries converge to the same result.
func (s *Service) Reconcile(ctx context.Context, paymentID string) error {
	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	status := mapStatus(payment.Status)

	order, err := s.store.UpdatePaymentStatus(ctx, paymentID, status, payment.Raw)
	if err != nil {
		return fmt.Errorf("update order for payment %s: %w", paymentID, err)
	}

	if order == nil {
		// Either the initiate flow has not attached the payment id
		// yet, or the notification references a payment we never
		// created. Both are tolerated.
		s.logger.Warn("no order linked to payment", "payment_id", paymentID, "provider_status", payment.Status)
		return nil
	}

	s.logger.Info("order reconciled", "order_id", order.ID, "payment_id", paymentID, "status", order.Status)

	if order.Status.IsTerminal() && s.publisher != nil {
		event := domain.PaymentSettledEvent{
			OrderID:     order.ID,
			PaymentID:   paymentID,
			UserID:      order.UserID,
			Status:      order.Status,
			Amount:      order.Amount,
			Description: order.Description,
			Timestamp:   time.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish settlement event", "error", err, "order_id", order.ID)
		}
	}

	return nil
}

// GetPayment fetches a payment's current provider state.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*RemotePayment, error) {
	return s.gateway.GetPayment(ctx, paymentID)
}

// mapStatus maps the provider's status vocabulary onto the order status
// set. Anything unrecognized stays pending.
func mapStatus(providerStatus string) domain.OrderStatus {
	switch providerStatus {
	case "paid":
		return domain.OrderStatusPaid
	case "failed":
		return domain.OrderStatusFailed
	case "canceled":
		return domain.OrderStatusCanceled
	default:
		return domain.OrderStatusPending
	}
}
