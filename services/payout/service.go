package payout

import (
	"context"
	"errors"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/db/pagination"
	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/task"
	payouttask "cookshare-payouts/services/payout/task"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	enqueuer task.Enqueuer
	maxRetry int
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		enqueuer: p.Enqueuer,
		maxRetry: p.Config.Payout.DisburseMaxRetry,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*Payout, error) {
	var po Payout
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Service) ListByPeriod(ctx context.Context, label string, pg pagination.Pagination) ([]*Payout, *pagination.PageInfo, error) {
	return s.page(s.db.WithContext(ctx).Where("period_label = ?", label), pg)
}

func (s *Service) ListByCreator(ctx context.Context, creatorID string, pg pagination.Pagination) ([]*Payout, *pagination.PageInfo, error) {
	return s.page(s.db.WithContext(ctx).Where("creator_id = ?", creatorID), pg)
}

// page applies cursor pagination in id order, which for snowflake keys is
// creation order, over-fetching one row to detect a further page.
func (s *Service) page(q *gorm.DB, pg pagination.Pagination) ([]*Payout, *pagination.PageInfo, error) {
	limit := pg.ClampedLimit()

	if pg.Cursor != "" {
		cursor, err := pagination.DecodeCursor(pg.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid pagination cursor", errutil.WithErr(err))
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid pagination cursor")
		}
		q = q.Where("id > ?", after)
	}

	var payouts []*Payout
	if err := q.Order("id asc").Limit(limit + 1).Find(&payouts).Error; err != nil {
		return nil, nil, err
	}

	page, info := pagination.Page(payouts, limit, func(po *Payout) string {
		encoded, err := pagination.EncodeCursor(pagination.Cursor{ID: po.ID.String()})
		if err != nil {
			return ""
		}
		return encoded
	})
	return page, info, nil
}

// Retry requeues a failed payout for disbursement. Paid payouts are final
// and pending/processing ones already have a task in flight.
func (s *Service) Retry(ctx context.Context, id snowflake.ID) (*Payout, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	po, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch po.Status {
	case StatusPaid:
		return nil, errutil.InconsistentState("payout already disbursed")
	case StatusPending, StatusProcessing:
		return nil, errutil.Conflict("payout disbursement already in flight")
	}

	if err := s.db.WithContext(ctx).
		Model(&Payout{}).
		Where("id = ?", po.ID).
		Updates(map[string]any{"status": StatusPending, "failure_reason": ""}).Error; err != nil {
		return nil, err
	}
	po.Status = StatusPending
	po.FailureReason = ""

	if s.enqueuer != nil {
		t, err := payouttask.NewDisbursePayoutTask(payouttask.DisbursePayoutPayload{
			PayoutID:    po.ID.String(),
			CreatorID:   po.CreatorID,
			PeriodLabel: po.PeriodLabel,
		}, asynq.MaxRetry(s.maxRetry))
		if err != nil {
			return nil, err
		}
		if _, err := s.enqueuer.Enqueue(t); err != nil {
			return nil, err
		}
		zap.L().Info("payout requeued for disbursement", zap.String("payout_id", po.ID.String()))
	}

	return po, nil
}

// IsFinalized reports whether the creator already has a paid payout whose
// period covers the given instant. Used by the commission ledger to refuse
// refunds against closed periods.
func (s *Service) IsFinalized(ctx context.Context, creatorID string, at time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Payout{}).
		Where("creator_id = ? AND status = ?", creatorID, StatusPaid).
		Where("period_start <= ? AND period_end > ?", at, at).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
