package payout

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the payout's computed fields are frozen.
func (s Status) Terminal() bool {
	return s == StatusPaid
}

// Payout is the terminal aggregate: one row per (creator, period), enforced
// by the unique index so recomputation replaces rather than duplicates.
type Payout struct {
	ID                 snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false"`
	CreatorID          string       `gorm:"column:creator_id;not null;uniqueIndex:idx_creator_period"`
	PeriodLabel        string       `gorm:"column:period_label;not null;uniqueIndex:idx_creator_period;index"`
	PeriodStart        time.Time    `gorm:"column:period_start;not null"`
	PeriodEnd          time.Time    `gorm:"column:period_end;not null"`
	TotalRES           int64        `gorm:"column:total_res;not null"`
	PlatformTotalRES   int64        `gorm:"column:platform_total_res;not null"`
	ResSharePPM        int64        `gorm:"column:res_share_ppm;not null"`
	CreatorPoolAmount  int64        `gorm:"column:creator_pool_amount;not null"`
	SubscriptionPayout int64        `gorm:"column:subscription_payout;not null"`
	ShopPayout         int64        `gorm:"column:shop_payout;not null"`
	TotalPayout        int64        `gorm:"column:total_payout;not null"`
	Destination        string       `gorm:"column:destination"`
	Status             Status       `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	RetryCount         int          `gorm:"column:retry_count;not null"`
	FailureReason      string       `gorm:"column:failure_reason"`
	PaidAt             *time.Time   `gorm:"column:paid_at"`
	CreatedAt          time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payout) TableName() string {
	return "payouts"
}

// sameComputation reports whether a recompute produced the same financial
// fields as the stored row. Paid rows may only ever match.
func (p *Payout) sameComputation(other *Payout) bool {
	return p.TotalRES == other.TotalRES &&
		p.PlatformTotalRES == other.PlatformTotalRES &&
		p.ResSharePPM == other.ResSharePPM &&
		p.CreatorPoolAmount == other.CreatorPoolAmount &&
		p.SubscriptionPayout == other.SubscriptionPayout &&
		p.ShopPayout == other.ShopPayout &&
		p.TotalPayout == other.TotalPayout
}
