package models

import (
	"strings"
	"time"
)

type Account struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Address     string     `gorm:"size:64;not null;uniqueIndex:uk_account_address" json:"address"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// NormalizeAddress EVM地址统一小写，base58地址区分大小写保持原样
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}
