package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
)

// Deposit tx_hash 唯一索引是幂等的保证，不能删除
type Deposit struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash      string          `gorm:"size:100;not null;uniqueIndex:uk_deposit_tx" json:"tx_hash"`
	Address     string          `gorm:"size:64;not null;index" json:"address"`
	Amount      decimal.Decimal `gorm:"type:decimal(65,18);not null" json:"amount"`
	Chain       string          `gorm:"size:50;not null" json:"chain"`
	BlockNumber int64           `gorm:"not null;default:0" json:"block_number"`
	Status      DepositStatus   `gorm:"size:16;not null;default:pending" json:"status"`
	Timestamp   time.Time       `gorm:"not null" json:"timestamp"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Deposit) TableName() string {
	return "deposits"
}
