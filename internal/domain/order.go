package domain

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid reports whether s is one of the four known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is expected.
// pending is the only non-terminal status.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && s != OrderStatusPending
}

// Order is the local record of a payment attempt. Orders are never
// deleted, only updated; PaymentID is the reconciliation key for
// webhook notifications once the remote payment has been linked.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	SellerID        string          `json:"seller_id,omitempty"`
	Amount          float64         `json:"amount"`
	Description     string          `json:"description"`
	Status          OrderStatus     `json:"status"`
	PaymentID       string          `json:"payment_id,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Items           json.RawMessage `json:"items,omitempty"`
	CustomerDetails json.RawMessage `json:"customer_details,omitempty"`
	PaymentDetails  json.RawMessage `json:"payment_details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderUpdate carries the fields of a partial order update. Nil fields
// are left untouched.
type OrderUpdate struct {
	Status         *OrderStatus
	PaymentID      *string
	PaymentMethod  *string
	SellerID       *string
	PaymentDetails json.RawMessage
}
