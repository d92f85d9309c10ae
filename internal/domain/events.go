package domain

import "time"

// PaymentSettledEvent is published when reconciliation lands an order
// in a terminal status.
type PaymentSettledEvent struct {
	OrderID     string      `json:"order_id"`
	PaymentID   string      `json:"payment_id"`
	UserID      string      `json:"user_id"`
	Status      OrderStatus `json:"status"`
	Amount      float64     `json:"amount"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}
