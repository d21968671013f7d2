package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/smsleopard-segments/internal/model"
)

type OrderRepositoryInterface interface {
	Create(ctx context.Context, o *model.Order) error
	// ListByCustomer returns the customer's most recent orders first.
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]model.Order, error)
}

type OrderRepository struct {
	DB *sql.DB
}

const orderColumns = `id, customer_id, customer_email, amount, status, order_date, created_at`

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	o.CreatedAt = time.Now()
	if o.OrderDate.IsZero() {
		o.OrderDate = o.CreatedAt
	}
	query := `
        INSERT INTO orders (customer_id, customer_email, amount, status, order_date, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, o.CustomerID, o.CustomerEmail, o.Amount, o.Status,
		o.OrderDate, o.CreatedAt).Scan(&o.ID)
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id=$1 ORDER BY order_date DESC, id DESC LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.CustomerEmail, &o.Amount, &o.Status, &o.OrderDate, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

var _ OrderRepositoryInterface = (*OrderRepository)(nil)
