package creator

import (
	"time"
)

// Tier classifies a creator for revenue attribution. The tier's multiplier is
// applied to raw engagement scores before cross-creator comparison.
type Tier string

const (
	TierEmerging    Tier = "emerging"
	TierEstablished Tier = "established"
	TierPartner     Tier = "partner"
)

func (t Tier) Valid() bool {
	switch t {
	case TierEmerging, TierEstablished, TierPartner:
		return true
	}
	return false
}

// Multipliers are stored in hundredths (100 == 1.0x) so the attribution math
// stays on integers end to end.
const BaseMultiplierBP int64 = 100

var tierMultiplierBP = map[Tier]int64{
	TierEmerging:    100,
	TierEstablished: 125,
	TierPartner:     150,
}

func (t Tier) DefaultMultiplierBP() int64 {
	if bp, ok := tierMultiplierBP[t]; ok {
		return bp
	}
	return BaseMultiplierBP
}

type Profile struct {
	CreatorID         string    `gorm:"column:creator_id;primaryKey"`
	Handle            string    `gorm:"column:handle;index"`
	Tier              Tier      `gorm:"column:tier;type:varchar(20);not null;default:'emerging'"`
	RESMultiplierBP   int64     `gorm:"column:res_multiplier_bp;not null;default:100"`
	PayoutDestination string    `gorm:"column:payout_destination"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Profile) TableName() string {
	return "creator_profiles"
}
