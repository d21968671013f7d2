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

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// SaveStats overwrites the aggregate counters. When complete is set and
	// the campaign is still active it also moves it to completed.
	SaveStats(ctx context.Context, id int64, stats model.CampaignStats, complete bool, at time.Time) error
	// MarkFailed moves a non-terminal campaign to failed.
	MarkFailed(ctx context.Context, id int64, at time.Time) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, description, message_template, rule, audience_size, status,
	stats_sent, stats_failed, stats_delivered, tags, ai_generated, created_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var rule []byte
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Template, &rule, &c.AudienceSize, &c.Status,
		&c.Stats.Sent, &c.Stats.Failed, &c.Stats.Delivered, pq.Array(&c.Tags), &c.AIGenerated,
		&c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	c.Rule = rule
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	query := `
        INSERT INTO campaigns (name, description, message_template, rule, audience_size, status, tags, ai_generated, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Description, c.Template, []byte(c.Rule), c.AudienceSize,
		c.Status, pq.Array(c.Tags), c.AIGenerated, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) SaveStats(ctx context.Context, id int64, stats model.CampaignStats, complete bool, at time.Time) error {
	query := `
        UPDATE campaigns
        SET stats_sent=$1, stats_failed=$2, stats_delivered=$3,
            status = CASE WHEN $4 AND status = 'active' THEN 'completed' ELSE status END,
            completed_at = CASE WHEN $4 AND status = 'active' THEN $5 ELSE completed_at END
        WHERE id=$6
    `
	res, err := r.DB.ExecContext(ctx, query, stats.Sent, stats.Failed, stats.Delivered, complete, at, id)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewCampaignNotFound(id))
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id int64, at time.Time) error {
	query := `
        UPDATE campaigns SET status='failed', completed_at=$1
        WHERE id=$2 AND status IN ('draft', 'active')
    `
	_, err := r.DB.ExecContext(ctx, query, at, id)
	return err
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
