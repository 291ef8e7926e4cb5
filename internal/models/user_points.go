package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserPoints 积分余额，是 points_history 的物化投影
type UserPoints struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Address     string          `gorm:"size:64;not null;uniqueIndex:uk_points_address" json:"address"`
	TotalPoints decimal.Decimal `gorm:"type:decimal(65,18);not null;default:0;index:idx_points_rank" json:"total_points"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"last_updated"`
}

func (UserPoints) TableName() string {
	return "user_points"
}
