// internal/model/order.go
package model

import "time"

const (
    OrderPending   = "pending"
    OrderCompleted = "completed"
    OrderCancelled = "cancelled"
    OrderRefunded  = "refunded"
)

// Order is a purchase recorded against a customer.
type Order struct {
    ID            int64     `db:"id" json:"id"`
    CustomerID    int64     `db:"customer_id" json:"customer_id"`
    CustomerEmail string    `db:"customer_email" json:"customer_email"`
    Amount        float64   `db:"amount" json:"amount"`
    Status        string    `db:"status" json:"status"`
    OrderDate     time.Time `db:"order_date" json:"order_date"`
    CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CountsTowardsCustomer reports whether the order adds to the customer's
// spend, visits and last activity.
func (o Order) CountsTowardsCustomer() bool {
    return o.Status == OrderCompleted
}

func ValidOrderStatus(s string) bool {
    switch s {
    case OrderPending, OrderCompleted, OrderCancelled, OrderRefunded:
        return true
    }
    return false
}
