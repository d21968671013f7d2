// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
)

var (
    // ErrNoMatchingAudience is returned when a launch resolves zero customers.
    ErrNoMatchingAudience = errors.New("no customers match the specified rules")

    // ErrInvalidRule is returned when a rule document is not rule-shaped at all.
    ErrInvalidRule = errors.New("invalid segment rule")

    // ErrInvalidInput marks request validation failures.
    ErrInvalidInput = errors.New("invalid input")

    // ErrDuplicateCustomer is returned when a customer email is already taken.
    ErrDuplicateCustomer = errors.New("customer with this email already exists")
)

// ErrCampaignNotFound is returned when a campaign lookup misses.
type ErrCampaignNotFound struct {
    CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ErrLogNotFound is returned when a receipt names an unknown delivery log.
type ErrLogNotFound struct {
    LogID int64
}

func (e *ErrLogNotFound) Error() string {
    return fmt.Sprintf("delivery log with ID %d not found", e.LogID)
}

func NewLogNotFound(id int64) error {
    return &ErrLogNotFound{LogID: id}
}

// ErrCustomerNotFound is returned when a customer lookup by ID or email misses.
type ErrCustomerNotFound struct {
    CustomerID int64
    Email      string
}

func (e *ErrCustomerNotFound) Error() string {
    if e.Email != "" {
        return fmt.Sprintf("customer with email %s not found", e.Email)
    }
    return fmt.Sprintf("customer with ID %d not found", e.CustomerID)
}

func NewCustomerNotFound(id int64) error {
    return &ErrCustomerNotFound{CustomerID: id}
}

func NewCustomerEmailNotFound(email string) error {
    return &ErrCustomerNotFound{Email: email}
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
    var c *ErrCampaignNotFound
    var l *ErrLogNotFound
    var cu *ErrCustomerNotFound
    return errors.As(err, &c) || errors.As(err, &l) || errors.As(err, &cu)
}
