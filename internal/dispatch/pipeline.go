// Package dispatch creates the delivery logs for a launched campaign and
// pushes its messages to the vendor in paced batches.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/reconcile"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/vendor"
)

var tracer = otel.Tracer("github.com/unclebandit/smsleopard-segments/internal/dispatch")

const NamePlaceholder = "{name}"

// Config is the pacing policy. Sends within a batch run concurrently,
// batches run one after another with BatchPause between them.
type Config struct {
	BatchSize   int
	BatchPause  time.Duration
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{BatchSize: 10, BatchPause: time.Second, SendTimeout: 3 * time.Second}
}

// ReceiptApplier records a send outcome on its delivery log.
type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, rc model.Receipt) (reconcile.Result, error)
}

// Job is one campaign launch: the campaign and the audience resolved for it.
type Job struct {
	Campaign model.Campaign   `json:"campaign"`
	Audience []model.Customer `json:"audience"`
}

// Report summarises a finished dispatch.
type Report struct {
	Logs    int
	Batches int
	Sent    int
	Failed  int
}

type Pipeline struct {
	Logs      repository.DeliveryLogRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Vendor    vendor.Client
	Receipts  ReceiptApplier
	Config    Config
	Logger    *zap.Logger
}

// Render personalises a template by replacing the first {name}.
func Render(template, name string) string {
	return strings.Replace(template, NamePlaceholder, name, 1)
}

// Dispatch writes one pending log per recipient in a single bulk insert and
// only then starts sending, so every targeted recipient leaves a trail even
// if the process dies mid-campaign. If the logs cannot be created the
// campaign is marked failed. Per-recipient failures never stop the run.
func (p *Pipeline) Dispatch(ctx context.Context, job Job) (Report, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int64("campaign.id", job.Campaign.ID), attribute.Int("audience.size", len(job.Audience)))

	logger := p.Logger.With(zap.Int64("campaign_id", job.Campaign.ID))

	logs, err := p.createLogs(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("campaign dispatch failed before sending", zap.Error(err))
		if merr := p.Campaigns.MarkFailed(ctx, job.Campaign.ID, time.Now()); merr != nil {
			logger.Error("failed to mark campaign failed", zap.Error(merr))
		}
		return Report{}, err
	}
	logger.Info("created delivery logs", zap.Int("count", len(logs)))

	size := p.Config.BatchSize
	if size < 1 {
		size = 1
	}

	var sent, failed atomic.Int64
	report := Report{Logs: len(logs)}
	for start := 0; start < len(logs); start += size {
		if start > 0 {
			if err := pause(ctx, p.Config.BatchPause); err != nil {
				logger.Warn("dispatch interrupted, remaining logs stay pending",
					zap.Int("remaining", len(logs)-start), zap.Error(err))
				report.Sent, report.Failed = int(sent.Load()), int(failed.Load())
				return report, err
			}
		}
		end := min(start+size, len(logs))
		report.Batches++

		p.sendBatch(ctx, report.Batches, logs[start:end], &sent, &failed)
	}

	report.Sent, report.Failed = int(sent.Load()), int(failed.Load())
	logger.Info("campaign message delivery completed",
		zap.Int("batches", report.Batches), zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
	return report, nil
}

func (p *Pipeline) createLogs(ctx context.Context, job Job) ([]*model.DeliveryLog, error) {
	logs := make([]*model.DeliveryLog, len(job.Audience))
	for i, c := range job.Audience {
		logs[i] = &model.DeliveryLog{
			CampaignID:   job.Campaign.ID,
			CustomerID:   c.ID,
			Contact:      c.Contact(),
			CustomerName: c.Name,
			Message:      Render(job.Campaign.Template, c.Name),
			Status:       model.LogPending,
		}
	}
	if err := p.Logs.CreateBatch(ctx, logs); err != nil {
		return nil, fmt.Errorf("create delivery logs: %w", err)
	}
	for _, l := range logs {
		if l.ID == 0 {
			return nil, fmt.Errorf("create delivery logs: no id assigned for customer %d", l.CustomerID)
		}
	}
	return logs, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) sendBatch(ctx context.Context, n int, batch []*model.DeliveryLog, sent, failed *atomic.Int64) {
	ctx, span := tracer.Start(ctx, "dispatch.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.number", n), attribute.Int("batch.size", len(batch)))

	// Every goroutine returns nil: one recipient's failure must not cancel
	// its siblings.
	var g errgroup.Group
	for _, l := range batch {
		g.Go(func() error {
			rc := p.send(ctx, l)
			if rc.Outcome == model.LogSent {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			if _, err := p.Receipts.ApplyReceipt(ctx, rc); err != nil {
				p.Logger.Error("failed to record send outcome",
					zap.Int64("log_id", l.ID), zap.String("outcome", rc.Outcome), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// send performs one bounded vendor call and turns whatever happened into
// a receipt. Errors, timeouts and panics all become failed receipts.
func (p *Pipeline) send(ctx context.Context, l *model.DeliveryLog) model.Receipt {
	ctx, span := tracer.Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(attribute.Int64("log.id", l.ID))

	rc := model.Receipt{LogID: l.ID}
	resp, err := p.callVendor(ctx, vendor.Message{
		LogID:      l.ID,
		CustomerID: l.CustomerID,
		Contact:    l.Contact,
		Name:       l.CustomerName,
		Text:       l.Message,
	})
	rc.Timestamp = time.Now()

	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("vendor timeout after %s: %w", p.Config.SendTimeout, err)
		}
		span.RecordError(err)
		rc.Outcome = model.LogFailed
		rc.FailureReason = err.Error()
		rc.VendorResponse, _ = json.Marshal(map[string]string{"error": err.Error()})
	case resp.Success:
		rc.Outcome = model.LogSent
		rc.VendorResponse, _ = json.Marshal(resp)
	default:
		rc.Outcome = model.LogFailed
		rc.FailureReason = resp.Error
		rc.VendorResponse, _ = json.Marshal(resp)
	}
	return rc
}

type vendorResult struct {
	resp vendor.Response
	err  error
}

// callVendor bounds the send by SendTimeout whether or not the vendor
// watches its context. A call abandoned on timeout finishes in the
// background and its answer is dropped.
func (p *Pipeline) callVendor(ctx context.Context, msg vendor.Message) (vendor.Response, error) {
	if p.Config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Config.SendTimeout)
		defer cancel()
	}

	done := make(chan vendorResult, 1)
	go func() {
		var res vendorResult
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("vendor call panicked: %v", r)
			}
			done <- res
		}()
		res.resp, res.err = p.Vendor.Send(ctx, msg)
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		select {
		case res := <-done:
			return res.resp, res.err
		default:
		}
		return vendor.Response{}, ctx.Err()
	}
}
