// internal/model/customer.go
package model

import "time"

// Customer is a read-only snapshot of a row in the customer store.
type Customer struct {
    ID             int64     `db:"id" json:"id"`
    Name           string    `db:"name" json:"name"`
    Email          string    `db:"email" json:"email"`
    Phone          string    `db:"phone" json:"phone,omitempty"`
    Spend          float64   `db:"total_spend" json:"total_spend"`
    VisitCount     int       `db:"visit_count" json:"visit_count"`
    LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
    Active         bool      `db:"is_active" json:"is_active"`
    CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Contact returns the address the vendor should deliver to.
func (c Customer) Contact() string {
    if c.Email != "" {
        return c.Email
    }
    return c.Phone
}
