package engagement

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RES weight policy: one point per save, cooks weigh heaviest since they are
// the strongest completion signal.
const (
	weightSave          = 1
	weightCook          = 5
	weightShare         = 3
	weightRating        = 2
	weightExclusiveView = 2
)

// Record is the daily engagement rollup for one recipe. A later write for the
// same (recipe, day) replaces the previous counts, it never adds to them.
type Record struct {
	ID             snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false"`
	RecipeID       string       `gorm:"column:recipe_id;not null;uniqueIndex:idx_recipe_day"`
	Day            time.Time    `gorm:"column:day;not null;uniqueIndex:idx_recipe_day;index"`
	CreatorID      string       `gorm:"column:creator_id;index;not null"`
	Saves          int64        `gorm:"column:saves;not null"`
	Cooks          int64        `gorm:"column:cooks;not null"`
	Shares         int64        `gorm:"column:shares;not null"`
	Ratings        int64        `gorm:"column:ratings;not null"`
	ExclusiveViews int64        `gorm:"column:exclusive_views;not null"`
	Score          int64        `gorm:"column:score;not null"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Record) TableName() string {
	return "engagement_records"
}

type Metrics struct {
	Saves          int64 `json:"saves"`
	Cooks          int64 `json:"cooks"`
	Shares         int64 `json:"shares"`
	Ratings        int64 `json:"ratings"`
	ExclusiveViews int64 `json:"exclusive_views"`
}

func (m Metrics) Score() int64 {
	return m.Saves*weightSave +
		m.Cooks*weightCook +
		m.Shares*weightShare +
		m.Ratings*weightRating +
		m.ExclusiveViews*weightExclusiveView
}

func (m Metrics) valid() bool {
	return m.Saves >= 0 && m.Cooks >= 0 && m.Shares >= 0 && m.Ratings >= 0 && m.ExclusiveViews >= 0
}
