// internal/model/receipt.go
package model

import "time"

// Receipt is a delivery outcome for one DeliveryLog, either reported right
// after a send attempt or called back later by the vendor.
type Receipt struct {
    LogID          int64     `json:"messageId"`
    Outcome        string    `json:"status"`
    Timestamp      time.Time `json:"timestamp"`
    FailureReason  string    `json:"failureReason,omitempty"`
    VendorResponse []byte    `json:"-"`
}
