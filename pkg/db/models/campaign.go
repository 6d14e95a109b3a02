package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign is the flash-sale definition. Immutable once the window starts,
// except for an administrative abort which pulls EndTime forward.
type Campaign struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	TotalStock       int64      `gorm:"column:total_stock;not null"`
	StartTime        time.Time  `gorm:"column:start_time;not null"`
	EndTime          time.Time  `gorm:"column:end_time;not null"`
	PerUserLimitSecs int64      `gorm:"column:per_user_limit_secs;not null"`
	AbortedAt        *time.Time `gorm:"column:aborted_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// PerUserLimit returns the per-user admission window.
func (c Campaign) PerUserLimit() time.Duration {
	return time.Duration(c.PerUserLimitSecs) * time.Second
}

// EffectiveEnd returns the aborted timestamp when set, the end time otherwise.
func (c Campaign) EffectiveEnd() time.Time {
	if c.AbortedAt != nil && c.AbortedAt.Before(c.EndTime) {
		return *c.AbortedAt
	}
	return c.EndTime
}

// OpenAt reports whether the campaign window contains now.
func (c Campaign) OpenAt(now time.Time) bool {
	return !now.Before(c.StartTime) && now.Before(c.EffectiveEnd())
}
