package models

import (
	"time"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Account is a registered user. PasswordDigest never leaves the service
// layer; use View for anything returned to a caller.
type Account struct {
	ID             string    `json:"id" dynamodbav:"id" gorm:"primaryKey;size:36"`
	Email          string    `json:"email" dynamodbav:"email" gorm:"size:255;uniqueIndex;not null"`
	FullName       string    `json:"full_name" dynamodbav:"full_name" gorm:"size:255;not null"`
	PasswordDigest string    `json:"-" dynamodbav:"password_digest" gorm:"size:255;not null"`
	Role           Role      `json:"role" dynamodbav:"role" gorm:"size:16;not null;default:student"`
	Phone          string    `json:"phone" dynamodbav:"phone" gorm:"size:32"`
	Active         bool      `json:"active" dynamodbav:"active" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (Account) TableName() string {
	return "users"
}

func (a *Account) GetPK() string {
	return "USER#" + a.Email
}

func (a *Account) GetSK() string {
	return "PROFILE"
}

// AccountView is the caller-facing projection of an Account.
type AccountView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Role:      a.Role,
		Phone:     a.Phone,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
