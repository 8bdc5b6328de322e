package models

import "time"

const (
	ActionRegister        = "register"
	ActionResetRequested  = "password_reset_requested"
	ActionPasswordReset   = "password_reset"
	ActionPasswordChanged = "password_changed"
)

type ActivityLog struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"size:36;index;not null"`
	Action     string    `json:"action" gorm:"size:64;not null"`
	EntityType string    `json:"entity_type" gorm:"size:64;not null"`
	EntityID   string    `json:"entity_id,omitempty" gorm:"size:36"`
	Metadata   string    `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
