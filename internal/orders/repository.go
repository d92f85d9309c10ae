package orders

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const orderColumns = `id, user_id, seller_id, amount, description, status,
	payment_id, payment_method, items, customer_details, payment_details,
	created_at, updated_at`

// Create persists a new order and assigns its identifier. The caller's
// order is updated in place with the assigned ID and timestamps.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	if order.UserID == "" {
		return &domain.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if order.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if order.Description == "" {
		return &domain.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if !order.Status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", order.Status)}
	}

	order.ID = uuid.New().String()

	items := order.Items
	if items == nil {
		items = []byte("[]")
	}
	customerDetails := order.CustomerDetails
	if customerDetails == nil {
		customerDetails = []byte("{}")
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, seller_id, amount, description, status, items, customer_details)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, order.ID, order.UserID, order.SellerID, order.Amount, order.Description,
		order.Status, string(items), string(customerDetails),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetByID returns the order, or nil when no order has that identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetByPaymentID returns the order linked to the given remote payment
// identifier, or nil when no order is linked to it. This is the lookup
// used for webhook reconciliation.
func (r *Repository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID)
}

func (r *Repository) ListByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *Repository) ListBySellerID(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE seller_id = $1 ORDER BY created_at`, sellerID)
}

// UpdateByID merges the non-nil fields into the order and returns the
// updated record, or nil when the identifier does not exist.
func (r *Repository) UpdateByID(ctx context.Context, id string, update domain.OrderUpdate) (*domain.Order, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.PaymentID != nil {
		add("payment_id", *update.PaymentID)
	}
	if update.PaymentMethod != nil {
		add("payment_method", *update.PaymentMethod)
	}
	if update.SellerID != nil {
		add("seller_id", *update.SellerID)
	}
	if update.PaymentDetails != nil {
		add("payment_details", string(update.PaymentDetails))
	}

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $1", strings.Join(sets, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// UpdatePaymentStatus sets the status and raw provider payload on the
// order linked to paymentID in a single statement. The payment method
// is taken from the payload only when the payment settled as paid.
// Returns nil when no order is linked to paymentID; during webhook
// reconciliation that is a normal outcome, not an error.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.OrderStatus, details []byte) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_details = $2,
		    payment_method = CASE
		        WHEN $1 = 'paid' THEN COALESCE($2::jsonb ->> 'method', payment_method)
		        ELSE payment_method
		    END,
		    updated_at = NOW()
		WHERE payment_id = $3
	`, status, string(details), paymentID)
	if err != nil {
		return nil, fmt.Errorf("update payment status for %s: %w", paymentID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByPaymentID(ctx, paymentID)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *Repository) list(ctx context.Context, query string, arg any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		order                             domain.Order
		sellerID, paymentID, method       sql.NullString
		items, customerDetails, payDetail []byte
	)

	err := row.Scan(&order.ID, &order.UserID, &sellerID, &order.Amount,
		&order.Description, &order.Status, &paymentID, &method,
		&items, &customerDetails, &payDetail,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.SellerID = sellerID.String
	order.PaymentID = paymentID.String
	order.PaymentMethod = method.String
	order.Items = items
	order.CustomerDetails = customerDetails
	order.PaymentDetails = payDetail

	return &order, nil
}
