package revenue

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Transaction is one completed subscription charge or renewal, decomposed
// into its fee and split breakdown at ingestion time. Rows are immutable
// after creation except for the processed marker, which is stamped once the
// transaction has been folded into a payout batch.
type Transaction struct {
	ID               snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false"`
	ExternalID       string       `gorm:"column:external_id;uniqueIndex;not null"`
	GrossAmount      int64        `gorm:"column:gross_amount;not null"`
	MarketplaceFee   int64        `gorm:"column:marketplace_fee;not null"`
	ProcessorFee     int64        `gorm:"column:processor_fee;not null"`
	NetAmount        int64        `gorm:"column:net_amount;not null"`
	PlatformShare    int64        `gorm:"column:platform_share;not null"`
	CreatorPoolShare int64        `gorm:"column:creator_pool_share;not null"`
	OccurredAt       time.Time    `gorm:"column:occurred_at;index;not null"`
	IsRenewal        bool         `gorm:"column:is_renewal;not null"`
	ProcessedAt      *time.Time   `gorm:"column:processed_at"`
	ProcessedPeriod  string       `gorm:"column:processed_period;index"`
	CreatedAt        time.Time    `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string {
	return "revenue_transactions"
}

// FeePolicy carries the split rates in basis points. Rates differ per
// marketplace and processor agreement, so they come from configuration.
type FeePolicy struct {
	MarketplaceFeeBps   int64
	ProcessorFeeBps     int64
	CreatorPoolShareBps int64
}

const bpsDenominator int64 = 10_000

// split decomposes a gross amount. Fees floor toward zero; the creator pool
// floors as well, so the platform share absorbs the split remainder.
func (p FeePolicy) split(gross int64) (marketplaceFee, processorFee, net, platform, pool int64) {
	marketplaceFee = gross * p.MarketplaceFeeBps / bpsDenominator
	processorFee = gross * p.ProcessorFeeBps / bpsDenominator
	net = gross - marketplaceFee - processorFee
	pool = net * p.CreatorPoolShareBps / bpsDenominator
	platform = net - pool
	return
}

func (p FeePolicy) valid() bool {
	return p.MarketplaceFeeBps >= 0 && p.ProcessorFeeBps >= 0 &&
		p.MarketplaceFeeBps+p.ProcessorFeeBps < bpsDenominator &&
		p.CreatorPoolShareBps > 0 && p.CreatorPoolShareBps <= bpsDenominator
}
