// Package reconcile applies delivery receipts to delivery logs and keeps
// campaign statistics and lifecycle in step with them.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
)

var tracer = otel.Tracer("github.com/unclebandit/smsleopard-segments/internal/reconcile")

const defaultFailureReason = "Vendor API error"

var validTransitions = map[string]map[string]bool{
	model.LogPending: {model.LogSent: true, model.LogFailed: true},
	model.LogSent:    {model.LogDelivered: true},
}

// Result describes the effect of one receipt.
type Result struct {
	Log       model.DeliveryLog
	Stats     model.CampaignStats
	Completed bool
	// Anomaly is set when the receipt did not follow the log's expected
	// sequence: a duplicate or an out-of-order transition.
	Anomaly string
}

type Reconciler struct {
	Logs      repository.DeliveryLogRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Logger    *zap.Logger
	Now       func() time.Time

	locks keyedMutex
}

func New(logs repository.DeliveryLogRepositoryInterface, campaigns repository.CampaignRepositoryInterface, logger *zap.Logger) *Reconciler {
	return &Reconciler{Logs: logs, Campaigns: campaigns, Logger: logger, Now: time.Now}
}

// ApplyReceipt records a delivery outcome on its log, then recounts the
// campaign's stats from the current log statuses and completes the
// campaign once no log is pending.
//
// Exact duplicates leave the log untouched, and a sent receipt never moves a
// delivered log backwards. Any other transition outside pending->sent,
// pending->failed, sent->delivered is applied as received and reported
// through Result.Anomaly. Work for one campaign is serialised,
// so concurrent receipts cannot write back a stale aggregate.
func (r *Reconciler) ApplyReceipt(ctx context.Context, rc model.Receipt) (Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.ApplyReceipt")
	defer span.End()
	span.SetAttributes(attribute.Int64("log.id", rc.LogID), attribute.String("receipt.outcome", rc.Outcome))

	res, err := r.apply(ctx, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, rc model.Receipt) (Result, error) {
	switch rc.Outcome {
	case model.LogSent, model.LogFailed, model.LogDelivered:
	default:
		return Result{}, fmt.Errorf("%w: unknown receipt status %q", appErrors.ErrInvalidInput, rc.Outcome)
	}

	found, err := r.Logs.GetByID(ctx, rc.LogID)
	if err != nil {
		return Result{}, err
	}

	unlock := r.locks.Lock(found.CampaignID)
	defer unlock()

	// Re-read under the campaign lock so the transition is judged against
	// the latest status.
	log, err := r.Logs.GetByID(ctx, rc.LogID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	switch {
	case log.Status == rc.Outcome:
		res.Anomaly = "duplicate " + rc.Outcome + " receipt"
	case log.Status == model.LogDelivered && rc.Outcome == model.LogSent:
		// Delivery implies the send, so a late sent receipt only fills in
		// what the log is missing.
		res.Anomaly = "late sent receipt for delivered log"
		if log.SentAt == nil {
			at := r.receivedAt(rc)
			log.SentAt = &at
			if err := r.Logs.Update(ctx, log); err != nil {
				return Result{}, fmt.Errorf("update delivery log %d: %w", log.ID, err)
			}
		}
	default:
		if !validTransitions[log.Status][rc.Outcome] {
			res.Anomaly = fmt.Sprintf("unexpected transition %s -> %s", log.Status, rc.Outcome)
		}
		r.transition(log, rc)
		if err := r.Logs.Update(ctx, log); err != nil {
			return Result{}, fmt.Errorf("update delivery log %d: %w", log.ID, err)
		}
	}
	if res.Anomaly != "" {
		r.Logger.Warn("out of sequence delivery receipt",
			zap.Int64("log_id", log.ID),
			zap.Int64("campaign_id", log.CampaignID),
			zap.String("anomaly", res.Anomaly))
	}
	res.Log = *log

	stats, completed, err := r.refreshCampaign(ctx, log.CampaignID)
	if err != nil {
		return res, err
	}
	res.Stats, res.Completed = stats, completed
	return res, nil
}

func (r *Reconciler) receivedAt(rc model.Receipt) time.Time {
	if rc.Timestamp.IsZero() {
		return r.Now()
	}
	return rc.Timestamp
}

func (r *Reconciler) transition(log *model.DeliveryLog, rc model.Receipt) {
	at := r.receivedAt(rc)

	log.Status = rc.Outcome
	switch rc.Outcome {
	case model.LogSent:
		log.SentAt = &at
	case model.LogDelivered:
		log.DeliveredAt = &at
	case model.LogFailed:
		log.FailureReason = rc.FailureReason
		if log.FailureReason == "" {
			log.FailureReason = defaultFailureReason
		}
	}
	if len(rc.VendorResponse) > 0 {
		log.VendorResponse = rc.VendorResponse
	}
}

// refreshCampaign must run under the campaign lock.
func (r *Reconciler) refreshCampaign(ctx context.Context, campaignID int64) (model.CampaignStats, bool, error) {
	counts, err := r.Logs.CountByStatus(ctx, campaignID)
	if err != nil {
		return model.CampaignStats{}, false, fmt.Errorf("count delivery logs: %w", err)
	}
	stats := model.CampaignStats{
		Sent:      counts[model.LogSent],
		Failed:    counts[model.LogFailed],
		Delivered: counts[model.LogDelivered],
	}

	campaign, err := r.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return stats, false, err
	}
	complete := campaign.Status == model.CampaignActive && stats.Processed() >= campaign.AudienceSize

	if err := r.Campaigns.SaveStats(ctx, campaignID, stats, complete, r.Now()); err != nil {
		return stats, false, fmt.Errorf("save campaign stats: %w", err)
	}
	if complete {
		r.Logger.Info("campaign completed",
			zap.Int64("campaign_id", campaignID),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed),
			zap.Int("delivered", stats.Delivered))
	}
	return stats, complete, nil
}
