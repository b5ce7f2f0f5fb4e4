package commission

import (
	"context"
	"errors"
	"time"

	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/period"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FinalizedChecker reports whether a creator's payout covering the given
// instant has already been disbursed. Implemented by the payout service and
// wired after construction to keep the dependency one-way.
type FinalizedChecker interface {
	IsFinalized(ctx context.Context, creatorID string, at time.Time) (bool, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	finalized FinalizedChecker
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

func (s *Service) SetFinalizedChecker(c FinalizedChecker) {
	s.finalized = c
}

type RecordInput struct {
	CreatorID string
	OrderID   string
	Amount    int64
	Status    Status
	PaidAt    time.Time
}

// Record persists the commission for one fulfilled shop order. Order ids are
// the dedupe key; re-delivery returns the stored record unchanged.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Record, error) {
	if in.CreatorID == "" || in.OrderID == "" {
		return nil, errutil.ValidationFailed("creator_id and order_id are required")
	}
	if in.Amount <= 0 {
		return nil, errutil.ValidationFailed("commission amount must be positive")
	}
	if in.PaidAt.IsZero() {
		return nil, errutil.ValidationFailed("paid timestamp is required")
	}
	if in.Status == "" {
		in.Status = StatusPaid
	}
	if !in.Status.Valid() {
		return nil, errutil.ValidationFailed("unknown fulfillment status")
	}

	if existing, err := s.findByOrderID(ctx, in.OrderID); err != nil {
		return nil, err
	} else if existing != nil {
		zap.L().Info("duplicate commission order ignored", zap.String("order_id", in.OrderID))
		return existing, nil
	}

	record := &Record{
		ID:        s.node.Generate(),
		CreatorID: in.CreatorID,
		OrderID:   in.OrderID,
		Amount:    in.Amount,
		Status:    in.Status,
		PaidAt:    in.PaidAt.UTC(),
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if existing, ferr := s.findByOrderID(ctx, in.OrderID); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	return record, nil
}

func (s *Service) findByOrderID(ctx context.Context, orderID string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkRefunded excludes an order from a not-yet-finalized period. Once the
// creator's payout for that period is disbursed the record is left as-is;
// reconciliation of closed periods is a deliberate non-feature.
func (s *Service) MarkRefunded(ctx context.Context, orderID string) (*Record, error) {
	record, err := s.findByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errutil.NotFound("commission order not found")
	}
	if record.Status == StatusRefunded {
		return record, nil
	}

	if s.finalized != nil {
		done, err := s.finalized.IsFinalized(ctx, record.CreatorID, record.PaidAt)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, errutil.InconsistentState("order belongs to an already-disbursed period")
		}
	}

	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("order_id = ?", orderID).
		Update("status", StatusRefunded).Error; err != nil {
		return nil, err
	}
	record.Status = StatusRefunded
	return record, nil
}

// Total sums countable commissions for the creator whose paid timestamp
// falls inside [start, end).
func (s *Service) Total(ctx context.Context, creatorID string, p period.Period) (int64, error) {
	return s.total(s.db.WithContext(ctx), creatorID, p)
}

// TotalTx is the in-transaction variant used by the payout allocator so the
// batch reads commissions through its own transaction handle.
func (s *Service) TotalTx(tx *gorm.DB, creatorID string, p period.Period) (int64, error) {
	return s.total(tx, creatorID, p)
}

func (s *Service) total(db *gorm.DB, creatorID string, p period.Period) (int64, error) {
	var total int64
	if err := db.
		Model(&Record{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("creator_id = ? AND paid_at >= ? AND paid_at < ?", creatorID, p.Start, p.End).
		Where("status IN ?", []Status{StatusPaid, StatusFulfilled}).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// CreatorsWithActivity lists creators with countable commissions in the
// period, so the allocator can emit payout rows for creators who sold
// product but earned no engagement.
func (s *Service) CreatorsWithActivity(ctx context.Context, p period.Period) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Distinct("creator_id").
		Where("paid_at >= ? AND paid_at < ?", p.Start, p.End).
		Where("status IN ?", []Status{StatusPaid, StatusFulfilled}).
		Pluck("creator_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
