package service

import "errors"

var (
	ErrEmailInUse          = errors.New("email already in use")
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired OTP")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountNotFound     = errors.New("account not found")
	ErrPasswordMismatch    = errors.New("password confirmation does not match")
)
