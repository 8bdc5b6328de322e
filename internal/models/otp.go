package models

import "time"

// OTPRecord is one issued reset code. CodeDigest is the only form of the
// code that is ever persisted.
type OTPRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	Email      string    `json:"email" gorm:"size:255;index:idx_otp_email_created,priority:1;not null"`
	CodeDigest string    `json:"-" gorm:"size:128;index;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_otp_email_created,priority:2;not null"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"index;not null"`
}

func (OTPRecord) TableName() string {
	return "otp_records"
}

// Expired reports whether the record can no longer be consumed at now.
func (r *OTPRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
