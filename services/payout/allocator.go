package payout

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/kafka"
	"cookshare-payouts/pkg/lease"
	"cookshare-payouts/pkg/period"
	"cookshare-payouts/pkg/task"
	"cookshare-payouts/services/commission"
	"cookshare-payouts/services/creator"
	"cookshare-payouts/services/engagement"
	payouttask "cookshare-payouts/services/payout/task"
	"cookshare-payouts/services/revenue"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaseTTL = 10 * time.Minute

// Allocator turns a closed period's engagement and revenue into one payout
// per creator. The run is serialized by a redis lease on the period label and
// writes all rows plus the processed markers in a single transaction.
type Allocator struct {
	db          *gorm.DB
	node        *snowflake.Node
	lease       lease.Lease
	engagements *engagement.Service
	revenues    *revenue.Service
	commissions *commission.Service
	creators    *creator.Service
	enqueuer    task.Enqueuer
	events      kafka.Publisher
	reporter    *Reporter
	maxRetry    int
}

type AllocatorParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Lease       lease.Lease
	Engagements *engagement.Service
	Revenues    *revenue.Service
	Commissions *commission.Service
	Creators    *creator.Service
	Enqueuer    task.Enqueuer `optional:"true"`
	Events      kafka.Publisher
	Reporter    *Reporter `optional:"true"`
}

func NewAllocator(p AllocatorParams) *Allocator {
	return &Allocator{
		db:          p.DB,
		node:        p.Node,
		lease:       p.Lease,
		engagements: p.Engagements,
		revenues:    p.Revenues,
		commissions: p.Commissions,
		creators:    p.Creators,
		enqueuer:    p.Enqueuer,
		events:      p.Events,
		reporter:    p.Reporter,
		maxRetry:    p.Config.Payout.DisburseMaxRetry,
	}
}

// RunAllocation computes the payout batch for [start, end). It is idempotent
// for still-pending periods and rejects any recompute that would change a
// paid payout. The whole batch commits or none of it does.
func (a *Allocator) RunAllocation(ctx context.Context, start, end time.Time) ([]*Payout, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	p := period.New(start, end)
	if err := p.Validate(time.Now()); err != nil {
		return nil, errutil.InconsistentState("period is not allocatable", errutil.WithErr(err))
	}

	zapLog := zap.L().With(zap.String("period", p.Label()))

	release, err := a.lease.Acquire(ctx, "payout:period:"+p.Label(), leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, errutil.Conflict("allocation already running for period")
		}
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zapLog.Warn("failed to release allocation lease", zap.Error(err))
		}
	}()

	// Phase one: read-only fan-in producing the immutable snapshot. Nothing
	// below mutates it, so per-creator allocation stays a pure function.
	resByCreator, err := a.engagements.TotalRESByCreator(ctx, p)
	if err != nil {
		return nil, err
	}
	shopCreators, err := a.commissions.CreatorsWithActivity(ctx, p)
	if err != nil {
		return nil, err
	}

	var platformTotalRES int64
	for _, res := range resByCreator {
		platformTotalRES += res
	}

	creatorIDs := includeSet(resByCreator, shopCreators)
	if len(creatorIDs) == 0 {
		zapLog.Info("no creator activity in period, nothing to allocate")
		return nil, nil
	}

	destinations, err := a.destinations(ctx, creatorIDs)
	if err != nil {
		return nil, err
	}

	// Phase two: pure per-creator allocation against the snapshot, written
	// all-or-nothing. Every read inside the callback goes through tx, and the
	// processed markers stamp exactly the transaction ids the pool snapshot
	// counted, so an aborted batch leaves the period re-computable and a
	// charge ingested mid-run stays unstamped for the next one.
	var poolTotal int64
	batch := make([]*Payout, 0, len(creatorIDs))
	if err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contributing []snowflake.ID
		var err error
		poolTotal, contributing, err = a.revenues.PoolSnapshotTx(tx, p)
		if err != nil {
			return err
		}

		for _, creatorID := range creatorIDs {
			totalRES := resByCreator[creatorID]

			shopPayout, err := a.commissions.TotalTx(tx, creatorID, p)
			if err != nil {
				return err
			}

			subscriptionPayout := prorate(poolTotal, totalRES, platformTotalRES)

			computed := &Payout{
				ID:                 a.node.Generate(),
				CreatorID:          creatorID,
				PeriodLabel:        p.Label(),
				PeriodStart:        p.Start,
				PeriodEnd:          p.End,
				TotalRES:           totalRES,
				PlatformTotalRES:   platformTotalRES,
				ResSharePPM:        sharePPM(totalRES, platformTotalRES),
				CreatorPoolAmount:  poolTotal,
				SubscriptionPayout: subscriptionPayout,
				ShopPayout:         shopPayout,
				TotalPayout:        subscriptionPayout + shopPayout,
				Destination:        destinations[creatorID],
				Status:             StatusPending,
			}

			stored, err := a.upsert(tx, computed)
			if err != nil {
				return err
			}
			batch = append(batch, stored)
		}

		return a.revenues.MarkProcessed(tx, contributing, p, time.Now())
	}); err != nil {
		zapLog.Error("payout allocation aborted", zap.Error(err))
		return nil, err
	}

	zapLog.Info("payout allocation committed",
		zap.Int("creators", len(batch)),
		zap.Int64("creator_pool", poolTotal),
		zap.Int64("platform_total_res", platformTotalRES),
	)

	a.dispatch(ctx, p, batch)

	return batch, nil
}

// upsert applies the per-creator replacement rules: pending and failed rows
// are overwritten and reset to pending; a paid row tolerates only an
// identical recompute; processing means a disbursement is in flight.
func (a *Allocator) upsert(tx *gorm.DB, computed *Payout) (*Payout, error) {
	var existing Payout
	err := tx.
		Where("creator_id = ? AND period_label = ?", computed.CreatorID, computed.PeriodLabel).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Create(computed).Error; err != nil {
			return nil, err
		}
		return computed, nil
	}
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case StatusPaid:
		if !existing.sameComputation(computed) {
			return nil, errutil.InconsistentState("recompute would change an already-paid payout")
		}
		return &existing, nil
	case StatusProcessing:
		return nil, errutil.InconsistentState("payout disbursement is in flight")
	}

	updates := map[string]any{
		"total_res":           computed.TotalRES,
		"platform_total_res":  computed.PlatformTotalRES,
		"res_share_ppm":       computed.ResSharePPM,
		"creator_pool_amount": computed.CreatorPoolAmount,
		"subscription_payout": computed.SubscriptionPayout,
		"shop_payout":         computed.ShopPayout,
		"total_payout":        computed.TotalPayout,
		"destination":         computed.Destination,
		"status":              StatusPending,
		"failure_reason":      "",
	}
	if err := tx.Model(&Payout{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	refreshed := existing
	refreshed.TotalRES = computed.TotalRES
	refreshed.PlatformTotalRES = computed.PlatformTotalRES
	refreshed.ResSharePPM = computed.ResSharePPM
	refreshed.CreatorPoolAmount = computed.CreatorPoolAmount
	refreshed.SubscriptionPayout = computed.SubscriptionPayout
	refreshed.ShopPayout = computed.ShopPayout
	refreshed.TotalPayout = computed.TotalPayout
	refreshed.Destination = computed.Destination
	refreshed.Status = StatusPending
	refreshed.FailureReason = ""
	return &refreshed, nil
}

// dispatch runs after commit: disbursement tasks, lifecycle events and the
// statement archive are all decoupled from the allocation transaction.
func (a *Allocator) dispatch(ctx context.Context, p period.Period, batch []*Payout) {
	for _, po := range batch {
		if po.Status != StatusPending {
			continue
		}

		a.events.Publish(ctx, "payout.allocated", po)

		if a.enqueuer == nil {
			continue
		}
		t, err := payouttask.NewDisbursePayoutTask(payouttask.DisbursePayoutPayload{
			PayoutID:    po.ID.String(),
			CreatorID:   po.CreatorID,
			PeriodLabel: po.PeriodLabel,
		}, asynq.MaxRetry(a.maxRetry))
		if err != nil {
			zap.L().Error("failed to build disburse task", zap.String("payout_id", po.ID.String()), zap.Error(err))
			continue
		}
		if _, err := a.enqueuer.Enqueue(t); err != nil {
			zap.L().Error("failed to enqueue disburse task", zap.String("payout_id", po.ID.String()), zap.Error(err))
		}
	}

	if a.reporter != nil {
		if err := a.reporter.Upload(ctx, p, batch); err != nil {
			zap.L().Warn("failed to archive period statement", zap.String("period", p.Label()), zap.Error(err))
		}
	}
}

func (a *Allocator) destinations(ctx context.Context, creatorIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(creatorIDs))
	for _, id := range creatorIDs {
		profile, err := a.creators.Get(ctx, id)
		if err != nil {
			var be errutil.BaseError
			if errors.As(err, &be) && be.Status() == errutil.StatusNotFound {
				continue
			}
			return nil, err
		}
		out[id] = profile.PayoutDestination
	}
	return out, nil
}

// includeSet is every creator with engagement plus every creator with shop
// activity, sorted for deterministic allocation order.
func includeSet(resByCreator map[string]int64, shopCreators []string) []string {
	seen := make(map[string]struct{}, len(resByCreator)+len(shopCreators))
	for id, res := range resByCreator {
		if res > 0 {
			seen[id] = struct{}{}
		}
	}
	for _, id := range shopCreators {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// prorate computes floor(pool * res / platformRES) without floating point.
// The intermediate product can exceed int64, hence big.Int.
func prorate(pool, res, platformRES int64) int64 {
	if platformRES <= 0 || res <= 0 || pool <= 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(pool), big.NewInt(res))
	num.Quo(num, big.NewInt(platformRES))
	return num.Int64()
}

func sharePPM(res, platformRES int64) int64 {
	return prorate(1_000_000, res, platformRES)
}
