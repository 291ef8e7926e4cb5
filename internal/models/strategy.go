package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy TVL 是由活跃仓位 current_value 汇总出的派生值
type Strategy struct {
	ID                 uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string          `gorm:"size:100;not null;uniqueIndex:uk_strategy_name" json:"name"`
	ProtocolType       string          `gorm:"size:50;not null" json:"protocol_type"`
	BaseApyBasisPoints int64           `gorm:"not null" json:"base_apy_bps"`
	PointsMultiplier   decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"points_multiplier"`
	TVL                decimal.Decimal `gorm:"column:tvl;type:decimal(65,18);not null;default:0" json:"tvl"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}
