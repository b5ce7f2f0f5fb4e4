package engagement

import (
	"context"
	"time"

	"cookshare-payouts/pkg/errutil"
	"cookshare-payouts/pkg/period"
	"cookshare-payouts/services/creator"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	profiles *creator.Service
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Profiles *creator.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		profiles: p.Profiles,
	}
}

type RecordInput struct {
	RecipeID  string
	CreatorID string
	Day       time.Time
	Metrics   Metrics
}

// Record upserts the daily rollup for a recipe and recomputes its score from
// the fixed weight formula. Negative counts are rejected, never coerced.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Record, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if in.RecipeID == "" || in.CreatorID == "" {
		return nil, errutil.ValidationFailed("recipe_id and creator_id are required")
	}
	if in.Day.IsZero() {
		return nil, errutil.ValidationFailed("day is required")
	}
	if !in.Metrics.valid() {
		return nil, errutil.ValidationFailed("engagement counts must be non-negative")
	}

	day := in.Day.UTC().Truncate(24 * time.Hour)
	record := &Record{
		ID:             s.node.Generate(),
		RecipeID:       in.RecipeID,
		Day:            day,
		CreatorID:      in.CreatorID,
		Saves:          in.Metrics.Saves,
		Cooks:          in.Metrics.Cooks,
		Shares:         in.Metrics.Shares,
		Ratings:        in.Metrics.Ratings,
		ExclusiveViews: in.Metrics.ExclusiveViews,
		Score:          in.Metrics.Score(),
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "recipe_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"creator_id", "saves", "cooks", "shares", "ratings",
			"exclusive_views", "score", "updated_at",
		}),
	}).Create(record).Error; err != nil {
		zap.L().Error("failed to upsert engagement record",
			zap.String("recipe_id", in.RecipeID),
			zap.Error(err),
		)
		return nil, err
	}

	return record, nil
}

// TotalRESForCreator sums the creator's tier-weighted scores over [start, end).
// A creator with no engagement yields 0; that is a valid result, not an error.
func (s *Service) TotalRESForCreator(ctx context.Context, creatorID string, p period.Period) (int64, error) {
	var raw int64
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("COALESCE(SUM(score), 0)").
		Where("creator_id = ? AND day >= ? AND day < ?", creatorID, p.Start, p.End).
		Scan(&raw).Error; err != nil {
		return 0, err
	}

	multiplier, err := s.profiles.MultiplierFor(ctx, creatorID)
	if err != nil {
		return 0, err
	}
	return raw * multiplier / creator.BaseMultiplierBP, nil
}

// TotalRESByCreator is the allocator's read-only fan-in pass: one grouped
// query producing the immutable per-creator weighted totals for the period.
func (s *Service) TotalRESByCreator(ctx context.Context, p period.Period) (map[string]int64, error) {
	type row struct {
		CreatorID string
		Raw       int64
	}

	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("creator_id, SUM(score) AS raw").
		Where("day >= ? AND day < ?", p.Start, p.End).
		Group("creator_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CreatorID)
	}
	multipliers, err := s.profiles.Multipliers(ctx, ids)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		totals[r.CreatorID] = r.Raw * multipliers[r.CreatorID] / creator.BaseMultiplierBP
	}
	return totals, nil
}
