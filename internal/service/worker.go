package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/dispatch"
	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/queue"
	"github.com/unclebandit/smsleopard-segments/internal/reconcile"
)

// Dispatcher runs one campaign launch.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) (dispatch.Report, error)
}

// ReceiptApplier records one delivery receipt.
type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, rc model.Receipt) (reconcile.Result, error)
}

// StartDispatchSubscriber consumes campaign dispatch jobs. A job is never
// redelivered: running it twice would create a second set of delivery logs.
func StartDispatchSubscriber(q queue.Queue, d Dispatcher, logger *zap.Logger) error {
	return q.Subscribe(queue.TopicCampaignDispatch, func(ctx context.Context, body []byte) error {
		var job dispatch.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return queue.Permanent(fmt.Errorf("decode dispatch job: %w", err))
		}
		logger.Info("dispatching campaign",
			zap.Int64("campaign_id", job.Campaign.ID), zap.Int("recipients", len(job.Audience)))

		if _, err := d.Dispatch(ctx, job); err != nil {
			return queue.Permanent(err)
		}
		return nil
	})
}

// StartReceiptSubscriber consumes delivery receipts. Receipts for unknown
// logs or with unknown outcomes are dropped; store errors are retried.
func StartReceiptSubscriber(q queue.Queue, r ReceiptApplier, logger *zap.Logger) error {
	return q.Subscribe(queue.TopicDeliveryReceipts, func(ctx context.Context, body []byte) error {
		var rc model.Receipt
		if err := json.Unmarshal(body, &rc); err != nil {
			return queue.Permanent(fmt.Errorf("decode receipt: %w", err))
		}

		res, err := r.ApplyReceipt(ctx, rc)
		switch {
		case err == nil:
		case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrInvalidInput):
			return queue.Permanent(err)
		default:
			return err
		}
		logger.Debug("receipt applied",
			zap.Int64("log_id", rc.LogID),
			zap.String("status", res.Log.Status),
			zap.Bool("campaign_completed", res.Completed))
		return nil
	})
}
