package models

import "time"

// One row per user per UTC calendar day. Count only ever grows
type DailyUsage struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Date      string    `gorm:"primaryKey;size:10" json:"date"` // YYYY-MM-DD, UTC
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DailyUsage) TableName() string {
	return "daily_usages"
}
