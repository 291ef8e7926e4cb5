package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "active"
	PositionStatusWithdrawn PositionStatus = "withdrawn"
)

// Position 状态机：active -> withdrawn，withdrawn 为终态
type Position struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uint64          `gorm:"not null;index:idx_position_user_status" json:"user_id"`
	StrategyID     uint64          `gorm:"not null;index:idx_position_strategy_status" json:"strategy_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(65,18);not null" json:"amount"`
	CurrentValue   decimal.Decimal `gorm:"type:decimal(65,18);not null" json:"current_value"`
	PointsEarned   decimal.Decimal `gorm:"type:decimal(65,18);not null;default:0" json:"points_earned"`
	Status         PositionStatus  `gorm:"size:16;not null;default:active;index:idx_position_user_status;index:idx_position_strategy_status" json:"status"`
	TxHash         string          `gorm:"size:100;not null;uniqueIndex:uk_position_tx" json:"tx_hash"`
	WithdrawTxHash *string         `gorm:"size:100" json:"withdraw_tx_hash,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	WithdrawnAt    *time.Time      `json:"withdrawn_at,omitempty"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// ActivePosition 收益计算读取的仓位及其策略年化
type ActivePosition struct {
	ID                 uint64
	StrategyID         uint64
	Amount             decimal.Decimal
	CreatedAt          time.Time
	BaseApyBasisPoints int64
}
