// internal/model/campaign.go
package model

import (
    "encoding/json"
    "time"
)

const (
    CampaignDraft     = "draft"
    CampaignActive    = "active"
    CampaignCompleted = "completed"
    CampaignFailed    = "failed"
)

// CampaignStats holds one bucket per current delivery log status.
// A log counts in exactly one bucket at any instant.
type CampaignStats struct {
    Sent      int `db:"stats_sent" json:"sent"`
    Failed    int `db:"stats_failed" json:"failed"`
    Delivered int `db:"stats_delivered" json:"delivered"`
}

// Processed is the number of logs that have left pending.
func (s CampaignStats) Processed() int {
    return s.Sent + s.Failed + s.Delivered
}

type Campaign struct {
    ID           int64           `db:"id" json:"id"`
    Name         string          `db:"name" json:"name"`
    Description  string          `db:"description" json:"description,omitempty"`
    Template     string          `db:"message_template" json:"message"`
    Rule         json.RawMessage `db:"rule" json:"rules"`
    AudienceSize int             `db:"audience_size" json:"audience_size"`
    Status       string          `db:"status" json:"status"`
    Stats        CampaignStats   `json:"stats"`
    Tags         []string        `db:"tags" json:"tags"`
    AIGenerated  bool            `db:"ai_generated" json:"ai_generated"`
    CreatedAt    time.Time       `db:"created_at" json:"created_at"`
    CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the campaign can no longer change status.
func (c *Campaign) IsTerminal() bool {
    return c.Status == CampaignCompleted || c.Status == CampaignFailed
}
