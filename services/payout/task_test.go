package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	payouttask "cookshare-payouts/services/payout/task"
	"cookshare-payouts/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeDisburser struct {
	fail     error
	requests []DisburseRequest
}

func (f *fakeDisburser) Disburse(_ context.Context, req DisburseRequest) error {
	f.requests = append(f.requests, req)
	return f.fail
}

type taskFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	disburser *fakeDisburser
	events    *fakePublisher
	task      *Task
}

func newTaskFixture(t *testing.T) *taskFixture {
	db := testutil.NewTestDB(t, &Payout{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	disburser := &fakeDisburser{}
	events := &fakePublisher{}
	return &taskFixture{
		db:        db,
		node:      node,
		disburser: disburser,
		events:    events,
		task:      NewTask(TaskParams{DB: db, Disburser: disburser, Events: events}),
	}
}

func (f *taskFixture) seedPayout(t *testing.T, mutate func(*Payout)) *Payout {
	t.Helper()
	po := &Payout{
		ID:                 f.node.Generate(),
		CreatorID:          "creator-a",
		PeriodLabel:        "2025-03",
		PeriodStart:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:          time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalRES:           100,
		PlatformTotalRES:   100,
		ResSharePPM:        1_000_000,
		CreatorPoolAmount:  5_000,
		SubscriptionPayout: 5_000,
		ShopPayout:         500,
		TotalPayout:        5_500,
		Destination:        "acct_123",
		Status:             StatusPending,
	}
	if mutate != nil {
		mutate(po)
	}
	require.NoError(t, f.db.Create(po).Error)
	return po
}

func disburseTask(t *testing.T, po *Payout) *asynq.Task {
	t.Helper()
	task, err := payouttask.NewDisbursePayoutTask(payouttask.DisbursePayoutPayload{
		PayoutID:    po.ID.String(),
		CreatorID:   po.CreatorID,
		PeriodLabel: po.PeriodLabel,
	})
	require.NoError(t, err)
	return task
}

func (f *taskFixture) reload(t *testing.T, id snowflake.ID) *Payout {
	t.Helper()
	var po Payout
	require.NoError(t, f.db.Where("id = ?", id).First(&po).Error)
	return &po
}

func TestDisburseSuccess(t *testing.T) {
	f := newTaskFixture(t)
	po := f.seedPayout(t, nil)

	require.NoError(t, f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po)))

	require.Len(t, f.disburser.requests, 1)
	req := f.disburser.requests[0]
	require.Equal(t, po.ID.String(), req.IdempotencyKey)
	require.Equal(t, "acct_123", req.Destination)
	require.Equal(t, int64(5_500), req.AmountMinorUnits)

	got := f.reload(t, po.ID)
	require.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	require.Empty(t, got.FailureReason)
	require.Equal(t, []string{"payout.paid"}, f.events.events)
}

func TestDisburseAlreadyPaidIsNoOp(t *testing.T) {
	f := newTaskFixture(t)
	paidAt := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	po := f.seedPayout(t, func(p *Payout) {
		p.Status = StatusPaid
		p.PaidAt = &paidAt
	})

	require.NoError(t, f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po)))
	require.Empty(t, f.disburser.requests)
	require.Empty(t, f.events.events)
}

func TestDisburseProviderFailure(t *testing.T) {
	f := newTaskFixture(t)
	f.disburser.fail = errors.New("provider timeout")
	po := f.seedPayout(t, nil)

	err := f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	got := f.reload(t, po.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, got.FailureReason, "provider timeout")
	require.Equal(t, 1, got.RetryCount)
	require.Nil(t, got.PaidAt)
	require.Equal(t, []string{"payout.failed"}, f.events.events)
}

func TestDisburseMissingDestination(t *testing.T) {
	f := newTaskFixture(t)
	po := f.seedPayout(t, func(p *Payout) { p.Destination = "" })

	err := f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	got := f.reload(t, po.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Empty(t, f.disburser.requests)
}

func TestDisburseZeroAmountSkipsProvider(t *testing.T) {
	f := newTaskFixture(t)
	po := f.seedPayout(t, func(p *Payout) {
		p.SubscriptionPayout = 0
		p.ShopPayout = 0
		p.TotalPayout = 0
	})

	require.NoError(t, f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po)))
	require.Empty(t, f.disburser.requests)
	require.Equal(t, StatusPaid, f.reload(t, po.ID).Status)
}

func TestDisburseUnknownPayout(t *testing.T) {
	f := newTaskFixture(t)

	task, err := payouttask.NewDisbursePayoutTask(payouttask.DisbursePayoutPayload{
		PayoutID: f.node.Generate().String(),
	})
	require.NoError(t, err)

	handleErr := f.task.HandleDisbursePayout(context.Background(), task)
	require.Error(t, handleErr)
	require.ErrorIs(t, handleErr, asynq.SkipRetry)
}

func TestDisburseRedeliveryAfterCrash(t *testing.T) {
	f := newTaskFixture(t)
	po := f.seedPayout(t, func(p *Payout) { p.Status = StatusProcessing })

	require.NoError(t, f.task.HandleDisbursePayout(context.Background(), disburseTask(t, po)))
	require.Len(t, f.disburser.requests, 1)
	require.Equal(t, StatusPaid, f.reload(t, po.ID).Status)
}
