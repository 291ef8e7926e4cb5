package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PointsActivityDeposit         = "deposit"
	PointsActivityStrategyDeposit = "strategy_deposit"
)

// PointsHistory 只追加的积分流水，Points 为已乘倍数后的实际入账积分
type PointsHistory struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Address        string          `gorm:"size:64;not null;index:idx_history_address_time" json:"address"`
	Points         decimal.Decimal `gorm:"type:decimal(65,18);not null" json:"points"`
	Multiplier     decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"multiplier"`
	ActivityType   string          `gorm:"size:32;not null" json:"activity_type"`
	IdempotencyKey *string         `gorm:"size:128;uniqueIndex:uk_history_idempotency" json:"idempotency_key,omitempty"`
	Timestamp      time.Time       `gorm:"not null;index:idx_history_address_time" json:"timestamp"`
}

func (PointsHistory) TableName() string {
	return "points_history"
}
