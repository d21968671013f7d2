// internal/model/delivery_log.go
package model

import (
    "encoding/json"
    "time"
)

const (
    LogPending   = "pending"
    LogSent      = "sent"
    LogFailed    = "failed"
    LogDelivered = "delivered"
)

// DeliveryLog tracks one rendered message through the vendor.
type DeliveryLog struct {
    ID             int64           `db:"id" json:"id"`
    CampaignID     int64           `db:"campaign_id" json:"campaign_id"`
    CustomerID     int64           `db:"customer_id" json:"customer_id"`
    Contact        string          `db:"contact" json:"contact"`
    CustomerName   string          `db:"customer_name" json:"customer_name"`
    Message        string          `db:"message" json:"message"`
    Status         string          `db:"status" json:"status"`
    SentAt         *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
    DeliveredAt    *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
    FailureReason  string          `db:"failure_reason" json:"failure_reason,omitempty"`
    VendorResponse json.RawMessage `db:"vendor_response" json:"vendor_response,omitempty"`
    CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
