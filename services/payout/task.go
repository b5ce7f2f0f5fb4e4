package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cookshare-payouts/pkg/kafka"
	payouttask "cookshare-payouts/services/payout/task"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Task handles queued disbursements. One payout maps to at most one
// successful transfer; the payout id doubles as the provider idempotency
// key so asynq retries and manual requeues stay safe.
type Task struct {
	db        *gorm.DB
	disburser Disburser
	events    kafka.Publisher
}

type TaskParams struct {
	fx.In
	DB        *gorm.DB
	Disburser Disburser
	Events    kafka.Publisher
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:        p.DB,
		disburser: p.Disburser,
		events:    p.Events,
	}
}

func (t *Task) HandleDisbursePayout(ctx context.Context, at *asynq.Task) error {
	var payload payouttask.DisbursePayoutPayload
	if err := json.Unmarshal(at.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal disburse payload: %w: %v", asynq.SkipRetry, err)
	}

	zapLog := zap.L().With(
		zap.String("payout_id", payload.PayoutID),
		zap.String("creator_id", payload.CreatorID),
		zap.String("period", payload.PeriodLabel),
	)

	id, err := snowflake.ParseString(payload.PayoutID)
	if err != nil {
		return fmt.Errorf("parse payout id: %w: %v", asynq.SkipRetry, err)
	}

	var po Payout
	if err := t.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		zapLog.Error("payout row missing for queued disbursement", zap.Error(err))
		return fmt.Errorf("load payout: %w: %v", asynq.SkipRetry, err)
	}

	switch po.Status {
	case StatusPaid:
		zapLog.Info("payout already disbursed, skipping")
		return nil
	case StatusProcessing:
		// A crashed worker leaves the row processing; the redelivered task
		// owns it again.
	}

	if po.Destination == "" {
		t.markFailed(ctx, &po, "no payout destination configured")
		return fmt.Errorf("payout %s has no destination: %w", payload.PayoutID, asynq.SkipRetry)
	}

	if err := t.db.WithContext(ctx).
		Model(&Payout{}).
		Where("id = ?", po.ID).
		Update("status", StatusProcessing).Error; err != nil {
		return err
	}

	if po.TotalPayout > 0 {
		err := t.disburser.Disburse(ctx, DisburseRequest{
			IdempotencyKey:   po.ID.String(),
			Destination:      po.Destination,
			AmountMinorUnits: po.TotalPayout,
		})
		if err != nil {
			t.markFailed(ctx, &po, err.Error())
			zapLog.Warn("disbursement attempt failed", zap.Error(err))
			return err
		}
	}

	now := time.Now().UTC()
	if err := t.db.WithContext(ctx).
		Model(&Payout{}).
		Where("id = ?", po.ID).
		Updates(map[string]any{
			"status":         StatusPaid,
			"paid_at":        now,
			"failure_reason": "",
		}).Error; err != nil {
		return err
	}

	po.Status = StatusPaid
	po.PaidAt = &now
	t.events.Publish(ctx, "payout.paid", &po)
	zapLog.Info("payout disbursed", zap.Int64("amount", po.TotalPayout))
	return nil
}

func (t *Task) markFailed(ctx context.Context, po *Payout, reason string) {
	if err := t.db.WithContext(ctx).
		Model(&Payout{}).
		Where("id = ?", po.ID).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
			"retry_count":    gorm.Expr("retry_count + 1"),
		}).Error; err != nil {
		zap.L().Error("failed to record disbursement failure", zap.String("payout_id", po.ID.String()), zap.Error(err))
		return
	}
	po.Status = StatusFailed
	po.FailureReason = reason
	t.events.Publish(ctx, "payout.failed", po)
}
