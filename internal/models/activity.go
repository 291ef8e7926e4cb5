package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ActivityType string

const (
	ActivityTypePositionOpened    ActivityType = "position_opened"
	ActivityTypePositionWithdrawn ActivityType = "position_withdrawn"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	case nil:
		*j = nil
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// Activity 审计/动态记录，只用于展示，不参与积分计算
type Activity struct {
	ID           uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    uint64       `gorm:"not null;index" json:"account_id"`
	Address      string       `gorm:"size:64;not null;index:idx_activity_address_time" json:"address"`
	ActivityType ActivityType `gorm:"size:32;not null" json:"activity_type"`
	Description  string       `gorm:"size:255;not null" json:"description"`
	Metadata     JSONB        `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time    `gorm:"not null;index:idx_activity_address_time" json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}
