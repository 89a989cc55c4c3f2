package models

import "time"

// Represents a non-plain admission decision: a denial or a degraded allow
type AdmissionEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Identity  string    `gorm:"index;size:128" json:"identity"`
	Tier      string    `json:"tier"`
	Outcome   string    `gorm:"index;size:32" json:"outcome"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Limit     int       `gorm:"column:policy_limit" json:"limit"`
	Reset     time.Time `json:"reset"`
	Allowed   bool      `json:"allowed"`
}

func (AdmissionEvent) TableName() string {
	return "admission_events"
}
