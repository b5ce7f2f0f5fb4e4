package creator

import (
	"context"
	"errors"

	"cookshare-payouts/pkg/errutil"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db *gorm.DB
}

type Params struct {
	fx.In
	DB *gorm.DB
}

func NewService(p Params) *Service {
	return &Service{db: p.DB}
}

// Upsert creates or replaces a creator profile. A zero multiplier falls back
// to the tier default; anything below 1.0x is rejected.
func (s *Service) Upsert(ctx context.Context, profile *Profile) (*Profile, error) {
	if profile.CreatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required")
	}
	if !profile.Tier.Valid() {
		return nil, errutil.ValidationFailed("unknown creator tier")
	}
	if profile.RESMultiplierBP == 0 {
		profile.RESMultiplierBP = profile.Tier.DefaultMultiplierBP()
	}
	if profile.RESMultiplierBP < BaseMultiplierBP {
		return nil, errutil.ValidationFailed("res multiplier must be at least 1.0x")
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "creator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"handle", "tier", "res_multiplier_bp", "payout_destination", "updated_at",
		}),
	}).Create(profile).Error; err != nil {
		return nil, err
	}

	return profile, nil
}

func (s *Service) Get(ctx context.Context, creatorID string) (*Profile, error) {
	var profile Profile
	if err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("creator profile not found")
		}
		return nil, err
	}
	return &profile, nil
}

// MultiplierFor returns the creator's current tier multiplier in hundredths.
// Creators without a profile attribute at the 1.0x base rate.
func (s *Service) MultiplierFor(ctx context.Context, creatorID string) (int64, error) {
	var profile Profile
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BaseMultiplierBP, nil
	}
	if err != nil {
		return 0, err
	}
	return profile.RESMultiplierBP, nil
}

// Multipliers resolves multipliers for a batch of creators in one query.
// Missing profiles default to the base rate.
func (s *Service) Multipliers(ctx context.Context, creatorIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(creatorIDs))
	for _, id := range creatorIDs {
		out[id] = BaseMultiplierBP
	}
	if len(creatorIDs) == 0 {
		return out, nil
	}

	var profiles []Profile
	if err := s.db.WithContext(ctx).
		Where("creator_id IN ?", creatorIDs).
		Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.CreatorID] = p.RESMultiplierBP
	}
	return out, nil
}
