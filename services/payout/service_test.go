package payout

import (
	"context"
	"testing"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db/pagination"
	"cookshare-payouts/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type serviceFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	service *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	db := testutil.NewTestDB(t, &Payout{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Payout.DisburseMaxRetry = 3

	return &serviceFixture{
		db:      db,
		node:    node,
		service: NewService(Params{DB: db, Config: cfg}),
	}
}

func (f *serviceFixture) seed(t *testing.T, status Status, mutate func(*Payout)) *Payout {
	t.Helper()
	po := &Payout{
		ID:          f.node.Generate(),
		CreatorID:   "creator-a",
		PeriodLabel: "2025-03",
		PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalPayout: 1_000,
		Destination: "acct_123",
		Status:      status,
	}
	if mutate != nil {
		mutate(po)
	}
	require.NoError(t, f.db.Create(po).Error)
	return po
}

func TestGetUnknownPayout(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Get(context.Background(), f.node.Generate())
	require.Error(t, err)
}

func TestListByPeriod(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, StatusPending, nil)
	f.seed(t, StatusPaid, func(p *Payout) {
		p.CreatorID = "creator-b"
	})
	f.seed(t, StatusPending, func(p *Payout) {
		p.CreatorID = "creator-c"
		p.PeriodLabel = "2025-04"
		p.PeriodStart = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		p.PeriodEnd = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	})

	payouts, info, err := f.service.ListByPeriod(context.Background(), "2025-03", pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	require.Equal(t, "creator-a", payouts[0].CreatorID)
	require.Equal(t, "creator-b", payouts[1].CreatorID)
	require.False(t, info.HasMore)
}

func TestListByPeriodCursorWalk(t *testing.T) {
	f := newServiceFixture(t)
	for _, id := range []string{"creator-a", "creator-b", "creator-c"} {
		creatorID := id
		f.seed(t, StatusPending, func(p *Payout) { p.CreatorID = creatorID })
	}
	ctx := context.Background()

	first, info, err := f.service.ListByPeriod(ctx, "2025-03", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	second, info, err := f.service.ListByPeriod(ctx, "2025-03", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.False(t, info.HasMore)
	require.Equal(t, "creator-c", second[0].CreatorID)

	_, _, err = f.service.ListByPeriod(ctx, "2025-03", pagination.Pagination{Cursor: "!!not-a-cursor!!"})
	require.Error(t, err)
}

func TestListByCreator(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, StatusPaid, nil)
	f.seed(t, StatusPending, func(p *Payout) {
		p.PeriodLabel = "2025-04"
		p.PeriodStart = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		p.PeriodEnd = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	})

	payouts, _, err := f.service.ListByCreator(context.Background(), "creator-a", pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	require.Equal(t, "2025-03", payouts[0].PeriodLabel)
	require.Equal(t, "2025-04", payouts[1].PeriodLabel)
}

func TestRetryFailedPayout(t *testing.T) {
	f := newServiceFixture(t)
	po := f.seed(t, StatusFailed, func(p *Payout) {
		p.FailureReason = "provider timeout"
		p.RetryCount = 2
	})

	got, err := f.service.Retry(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Empty(t, got.FailureReason)

	var stored Payout
	require.NoError(t, f.db.Where("id = ?", po.ID).First(&stored).Error)
	require.Equal(t, StatusPending, stored.Status)
}

func TestRetryPaidPayoutRejected(t *testing.T) {
	f := newServiceFixture(t)
	po := f.seed(t, StatusPaid, nil)

	_, err := f.service.Retry(context.Background(), po.ID)
	require.Error(t, err)
}

func TestRetryInFlightPayoutRejected(t *testing.T) {
	f := newServiceFixture(t)

	pending := f.seed(t, StatusPending, nil)
	_, err := f.service.Retry(context.Background(), pending.ID)
	require.Error(t, err)

	processing := f.seed(t, StatusProcessing, func(p *Payout) { p.CreatorID = "creator-b" })
	_, err = f.service.Retry(context.Background(), processing.ID)
	require.Error(t, err)
}

func TestIsFinalized(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	inMarch := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	// Pending payouts do not finalize the period.
	f.seed(t, StatusPending, nil)
	done, err := f.service.IsFinalized(ctx, "creator-a", inMarch)
	require.NoError(t, err)
	require.False(t, done)

	f.seed(t, StatusPaid, func(p *Payout) { p.PeriodLabel = "2025-03-paid" })
	done, err = f.service.IsFinalized(ctx, "creator-a", inMarch)
	require.NoError(t, err)
	require.True(t, done)

	// Outside the paid window, and for other creators, nothing is finalized.
	done, err = f.service.IsFinalized(ctx, "creator-a", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, done)

	done, err = f.service.IsFinalized(ctx, "creator-b", inMarch)
	require.NoError(t, err)
	require.False(t, done)
}
