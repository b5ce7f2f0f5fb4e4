package commission

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPaid      Status = "paid"
	StatusFulfilled Status = "fulfilled"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

func (s Status) Countable() bool {
	return s == StatusPaid || s == StatusFulfilled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPaid, StatusFulfilled, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Record is one fulfilled creator-shop order's commission. The amount is a
// fixed 50% of the order subtotal, computed by the checkout service; only
// paid/fulfilled orders ever contribute to a payout.
type Record struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false"`
	CreatorID string       `gorm:"column:creator_id;index;not null"`
	OrderID   string       `gorm:"column:order_id;uniqueIndex;not null"`
	Amount    int64        `gorm:"column:amount;not null"`
	Status    Status       `gorm:"column:status;type:varchar(20);not null;default:'paid'"`
	PaidAt    time.Time    `gorm:"column:paid_at;index;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Record) TableName() string {
	return "commission_records"
}
