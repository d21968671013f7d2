package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
)

type DeliveryLogRepositoryInterface interface {
	// CreateBatch inserts all logs in one statement and fills in their IDs.
	CreateBatch(ctx context.Context, logs []*model.DeliveryLog) error
	GetByID(ctx context.Context, id int64) (*model.DeliveryLog, error)
	Update(ctx context.Context, log *model.DeliveryLog) error
	CountByStatus(ctx context.Context, campaignID int64) (map[string]int, error)
	ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]model.DeliveryLog, error)
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

const logColumns = `id, campaign_id, customer_id, contact, customer_name, message, status,
	sent_at, delivered_at, failure_reason, vendor_response, created_at`

func scanLog(row interface{ Scan(...any) error }, l *model.DeliveryLog) error {
	var vendor []byte
	err := row.Scan(&l.ID, &l.CampaignID, &l.CustomerID, &l.Contact, &l.CustomerName, &l.Message, &l.Status,
		&l.SentAt, &l.DeliveredAt, &l.FailureReason, &vendor, &l.CreatedAt)
	if err != nil {
		return err
	}
	l.VendorResponse = vendor
	return nil
}

// CreateBatch inserts every log for a campaign in a single statement, so
// either all recipients get a pending row or none do.
func (r *DeliveryLogRepository) CreateBatch(ctx context.Context, logs []*model.DeliveryLog) error {
	if len(logs) == 0 {
		return nil
	}
	now := time.Now()

	campaignID := logs[0].CampaignID
	byCustomer := make(map[int64]*model.DeliveryLog, len(logs))
	customerIDs := make([]int64, len(logs))
	contacts := make([]string, len(logs))
	names := make([]string, len(logs))
	messages := make([]string, len(logs))
	for i, l := range logs {
		if l.CampaignID != campaignID {
			return fmt.Errorf("create delivery logs: mixed campaigns %d and %d", campaignID, l.CampaignID)
		}
		l.Status = model.LogPending
		l.CreatedAt = now
		byCustomer[l.CustomerID] = l
		customerIDs[i] = l.CustomerID
		contacts[i] = l.Contact
		names[i] = l.CustomerName
		messages[i] = l.Message
	}

	query := `
        INSERT INTO delivery_logs (campaign_id, customer_id, contact, customer_name, message, status, created_at)
        SELECT $1, t.customer_id, t.contact, t.customer_name, t.message, 'pending', $6
        FROM unnest($2::bigint[], $3::text[], $4::text[], $5::text[])
            AS t(customer_id, contact, customer_name, message)
        RETURNING id, customer_id
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID, pq.Array(customerIDs), pq.Array(contacts),
		pq.Array(names), pq.Array(messages), now)
	if err != nil {
		return fmt.Errorf("create delivery logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, customerID int64
		if err := rows.Scan(&id, &customerID); err != nil {
			return err
		}
		if l, ok := byCustomer[customerID]; ok {
			l.ID = id
		}
	}
	return rows.Err()
}

// GetByID fetches a delivery log by its ID
func (r *DeliveryLogRepository) GetByID(ctx context.Context, id int64) (*model.DeliveryLog, error) {
	query := `SELECT ` + logColumns + ` FROM delivery_logs WHERE id=$1`

	var l model.DeliveryLog
	if err := scanLog(r.DB.QueryRowContext(ctx, query, id), &l); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewLogNotFound(id)
		}
		return nil, err
	}
	return &l, nil
}

// Update writes the mutable delivery fields of a single log.
func (r *DeliveryLogRepository) Update(ctx context.Context, l *model.DeliveryLog) error {
	query := `
        UPDATE delivery_logs
        SET status=$1, sent_at=$2, delivered_at=$3, failure_reason=$4, vendor_response=$5
        WHERE id=$6
    `
	var vendor []byte
	if len(l.VendorResponse) > 0 {
		vendor = l.VendorResponse
	}
	res, err := r.DB.ExecContext(ctx, query, l.Status, l.SentAt, l.DeliveredAt, l.FailureReason, vendor, l.ID)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewLogNotFound(l.ID))
}

func (r *DeliveryLogRepository) CountByStatus(ctx context.Context, campaignID int64) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM delivery_logs WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListByCampaign returns the most recent logs first.
func (r *DeliveryLogRepository) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]model.DeliveryLog, error) {
	query := `SELECT ` + logColumns + ` FROM delivery_logs WHERE campaign_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.DeliveryLog{}
	for rows.Next() {
		var l model.DeliveryLog
		if err := scanLog(rows, &l); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
