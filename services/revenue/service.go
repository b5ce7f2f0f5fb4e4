package revenue

import (
	"context"
	"errors"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/period"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	policy FeePolicy
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		policy: FeePolicy{
			MarketplaceFeeBps:   p.Config.Payout.MarketplaceFeeBps,
			ProcessorFeeBps:     p.Config.Payout.ProcessorFeeBps,
			CreatorPoolShareBps: p.Config.Payout.CreatorPoolShareBps,
		},
	}
}

type IngestInput struct {
	ExternalID  string
	GrossAmount int64
	OccurredAt  time.Time
	IsRenewal   bool
}

// Ingest validates and persists a subscription charge, computing the fee and
// split breakdown from the configured policy. Re-delivery of an already-seen
// external id returns the stored row unchanged: the upstream webhook is
// at-least-once, so a duplicate is success, not an error.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*Transaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if in.ExternalID == "" {
		return nil, errutil.ValidationFailed("external transaction id is required")
	}
	if in.GrossAmount <= 0 {
		return nil, errutil.ValidationFailed("gross revenue must be positive")
	}
	if in.OccurredAt.IsZero() {
		return nil, errutil.ValidationFailed("transaction timestamp is required")
	}
	if !s.policy.valid() {
		return nil, errutil.Internal("fee policy is misconfigured")
	}

	if existing, err := s.findByExternalID(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		zap.L().Info("duplicate revenue transaction ignored",
			zap.String("external_id", in.ExternalID),
		)
		return existing, nil
	}

	marketplaceFee, processorFee, net, platform, pool := s.policy.split(in.GrossAmount)

	tx := &Transaction{
		ID:               s.node.Generate(),
		ExternalID:       in.ExternalID,
		GrossAmount:      in.GrossAmount,
		MarketplaceFee:   marketplaceFee,
		ProcessorFee:     processorFee,
		NetAmount:        net,
		PlatformShare:    platform,
		CreatorPoolShare: pool,
		OccurredAt:       in.OccurredAt.UTC(),
		IsRenewal:        in.IsRenewal,
	}

	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		// The unique constraint may fire under concurrent re-delivery;
		// resolve it the same way as the pre-check.
		if existing, ferr := s.findByExternalID(ctx, in.ExternalID); ferr == nil && existing != nil {
			return existing, nil
		}
		zap.L().Error("failed to persist revenue transaction",
			zap.String("external_id", in.ExternalID),
			zap.Error(err),
		)
		return nil, err
	}

	return tx, nil
}

func (s *Service) findByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	var tx Transaction
	err := s.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreatorPoolTotal sums the creator-pool share over the period. Rows already
// folded into another period are excluded; rows folded into this same period
// stay visible so a re-run of its allocation reproduces identical totals.
func (s *Service) CreatorPoolTotal(ctx context.Context, p period.Period) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&Transaction{}).
		Select("COALESCE(SUM(creator_pool_share), 0)").
		Where("occurred_at >= ? AND occurred_at < ?", p.Start, p.End).
		Where("processed_at IS NULL OR processed_period = ?", p.Label()).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// PoolSnapshotTx returns the period's creator-pool total together with the
// ids of the not-yet-processed transactions that fund it. The allocator runs
// it inside the batch transaction and later marks exactly those ids, so a
// charge ingested mid-allocation is neither counted nor stamped.
func (s *Service) PoolSnapshotTx(tx *gorm.DB, p period.Period) (int64, []snowflake.ID, error) {
	var rows []Transaction
	if err := tx.
		Model(&Transaction{}).
		Select("id, creator_pool_share, processed_at").
		Where("occurred_at >= ? AND occurred_at < ?", p.Start, p.End).
		Where("processed_at IS NULL OR processed_period = ?", p.Label()).
		Find(&rows).Error; err != nil {
		return 0, nil, err
	}

	var total int64
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		total += row.CreatorPoolShare
		if row.ProcessedAt == nil {
			ids = append(ids, row.ID)
		}
	}
	return total, ids, nil
}

// MarkProcessed stamps the transactions that contributed to a committed
// batch. It must run inside the allocation transaction with the ids returned
// by PoolSnapshotTx: a failed batch rolls the markers back with it, and a row
// the snapshot never counted is never stamped.
func (s *Service) MarkProcessed(tx *gorm.DB, ids []snowflake.ID, p period.Period, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.
		Model(&Transaction{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"processed_at":     at.UTC(),
			"processed_period": p.Label(),
		}).Error
}
