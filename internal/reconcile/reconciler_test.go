package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
)

var ts = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store      *repository.MemoryStore
	reconciler *Reconciler
	campaign   *model.Campaign
	logs       []*model.DeliveryLog
}

func newFixture(t *testing.T, recipients int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	campaign := &model.Campaign{Name: "Winback", Template: "Hi {name}", Status: model.CampaignActive, AudienceSize: recipients}
	require.NoError(t, store.Campaigns().Create(ctx, campaign))

	logs := make([]*model.DeliveryLog, recipients)
	for i := range logs {
		logs[i] = &model.DeliveryLog{CampaignID: campaign.ID, CustomerID: int64(i + 1), Message: "Hi"}
	}
	require.NoError(t, store.Logs().CreateBatch(ctx, logs))

	r := New(store.Logs(), store.Campaigns(), zap.NewNop())
	r.Now = func() time.Time { return ts }
	return &fixture{store: store, reconciler: r, campaign: campaign, logs: logs}
}

func (f *fixture) apply(t *testing.T, logID int64, outcome string) Result {
	t.Helper()
	res, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{LogID: logID, Outcome: outcome, Timestamp: ts})
	require.NoError(t, err)
	return res
}

func (f *fixture) campaignNow(t *testing.T) *model.Campaign {
	t.Helper()
	c, err := f.store.Campaigns().GetByID(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	return c
}

func TestSentThenDeliveredCountsOnce(t *testing.T) {
	f := newFixture(t, 2)
	id := f.logs[0].ID

	res := f.apply(t, id, model.LogSent)
	assert.Equal(t, model.CampaignStats{Sent: 1}, res.Stats)
	assert.Empty(t, res.Anomaly)

	res = f.apply(t, id, model.LogDelivered)
	assert.Equal(t, model.LogDelivered, res.Log.Status)
	assert.Equal(t, model.CampaignStats{Delivered: 1}, res.Stats)
	require.NotNil(t, res.Log.SentAt)
	require.NotNil(t, res.Log.DeliveredAt)
	assert.False(t, res.Completed)
}

func TestCampaignCompletesWhenNoLogIsPending(t *testing.T) {
	f := newFixture(t, 3)

	assert.False(t, f.apply(t, f.logs[0].ID, model.LogSent).Completed)
	assert.False(t, f.apply(t, f.logs[1].ID, model.LogSent).Completed)
	assert.Equal(t, model.CampaignActive, f.campaignNow(t).Status)

	res := f.apply(t, f.logs[2].ID, model.LogFailed)
	assert.True(t, res.Completed)

	c := f.campaignNow(t)
	assert.Equal(t, model.CampaignCompleted, c.Status)
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, ts, *c.CompletedAt)

	// A late delivered receipt moves the log between buckets only.
	res = f.apply(t, f.logs[0].ID, model.LogDelivered)
	assert.False(t, res.Completed)

	c = f.campaignNow(t)
	assert.Equal(t, model.CampaignStats{Sent: 1, Failed: 1, Delivered: 1}, c.Stats)
	assert.Equal(t, model.CampaignCompleted, c.Status)
	assert.Equal(t, ts, *c.CompletedAt)
}

func TestFailedReceiptKeepsReason(t *testing.T) {
	f := newFixture(t, 1)

	res, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{
		LogID: f.logs[0].ID, Outcome: model.LogFailed, FailureReason: "Customer opted out",
		VendorResponse: []byte(`{"success":false}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Customer opted out", res.Log.FailureReason)
	assert.JSONEq(t, `{"success":false}`, string(res.Log.VendorResponse))

	other := newFixture(t, 1)
	res = other.apply(t, other.logs[0].ID, model.LogFailed)
	assert.Equal(t, defaultFailureReason, res.Log.FailureReason)
}

func TestUnknownLogLeavesStatsAlone(t *testing.T) {
	f := newFixture(t, 2)
	f.apply(t, f.logs[0].ID, model.LogSent)
	before := f.campaignNow(t)

	_, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{LogID: 9999, Outcome: model.LogDelivered})

	var notFound *appErrors.ErrLogNotFound
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, int64(9999), notFound.LogID)
	assert.Equal(t, before, f.campaignNow(t))
}

func TestUnknownOutcomeIsRejected(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{LogID: f.logs[0].ID, Outcome: "bounced"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)

	l, err := f.store.Logs().GetByID(context.Background(), f.logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogPending, l.Status)
}

func TestDuplicateReceiptIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	first := f.apply(t, f.logs[0].ID, model.LogSent)

	later := ts.Add(time.Minute)
	res, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{LogID: f.logs[0].ID, Outcome: model.LogSent, Timestamp: later})
	require.NoError(t, err)

	assert.Equal(t, "duplicate sent receipt", res.Anomaly)
	assert.Equal(t, first.Stats, res.Stats)
	assert.Equal(t, ts, *res.Log.SentAt)
}

func TestOutOfOrderReceiptIsAppliedAndFlagged(t *testing.T) {
	f := newFixture(t, 2)

	res := f.apply(t, f.logs[0].ID, model.LogDelivered)
	assert.Equal(t, "unexpected transition pending -> delivered", res.Anomaly)
	assert.Equal(t, model.CampaignStats{Delivered: 1}, res.Stats)

	f.apply(t, f.logs[1].ID, model.LogFailed)
	res = f.apply(t, f.logs[1].ID, model.LogDelivered)
	assert.Equal(t, "unexpected transition failed -> delivered", res.Anomaly)
	assert.Equal(t, model.CampaignStats{Delivered: 2}, res.Stats)
}

func TestLateSentReceiptDoesNotRegressDeliveredLog(t *testing.T) {
	f := newFixture(t, 2)

	f.apply(t, f.logs[0].ID, model.LogDelivered)
	sentAt := ts.Add(-time.Second)
	res, err := f.reconciler.ApplyReceipt(context.Background(),
		model.Receipt{LogID: f.logs[0].ID, Outcome: model.LogSent, Timestamp: sentAt, VendorResponse: []byte(`{"success":true}`)})
	require.NoError(t, err)

	assert.Equal(t, "late sent receipt for delivered log", res.Anomaly)
	assert.Equal(t, model.LogDelivered, res.Log.Status)
	require.NotNil(t, res.Log.SentAt)
	assert.Equal(t, sentAt, *res.Log.SentAt)
	assert.Equal(t, model.CampaignStats{Delivered: 1}, res.Stats)

	stored, err := f.store.Logs().GetByID(context.Background(), f.logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogDelivered, stored.Status)
	assert.Equal(t, ts, *stored.DeliveredAt)

	// A second late receipt leaves the first sent time alone.
	res = f.apply(t, f.logs[0].ID, model.LogSent)
	assert.Equal(t, sentAt, *res.Log.SentAt)
}

func TestFailedCampaignIsNeverCompleted(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.store.Campaigns().MarkFailed(context.Background(), f.campaign.ID, ts))

	res := f.apply(t, f.logs[0].ID, model.LogSent)
	assert.False(t, res.Completed)

	c := f.campaignNow(t)
	assert.Equal(t, model.CampaignFailed, c.Status)
	assert.Equal(t, model.CampaignStats{Sent: 1}, c.Stats)
}

func TestConcurrentReceiptsDoNotLoseUpdates(t *testing.T) {
	const n = 60
	f := newFixture(t, n)

	var wg sync.WaitGroup
	for i, l := range f.logs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := model.LogSent
			if i%3 == 0 {
				outcome = model.LogFailed
			}
			_, err := f.reconciler.ApplyReceipt(context.Background(), model.Receipt{LogID: l.ID, Outcome: outcome})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c := f.campaignNow(t)
	assert.Equal(t, model.CampaignStats{Sent: 40, Failed: 20}, c.Stats)
	assert.Equal(t, model.CampaignCompleted, c.Status)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock(1)
	unlockOther := k.Lock(2)
	unlock()
	unlockOther()

	assert.Empty(t, k.locks)
}
