package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/classroom/classroom/internal/models"
)

// OTPState is the lifecycle position of a reset code, derived from the
// stored record and the clock.
type OTPState int

const (
	OTPNotFound OTPState = iota
	OTPValid
	OTPExpired
	OTPConsumed
)

func (s OTPState) String() string {
	switch s {
	case OTPValid:
		return "valid"
	case OTPExpired:
		return "expired"
	case OTPConsumed:
		return "consumed"
	default:
		return "not_found"
	}
}

// ResolveOTPState classifies a looked-up record at now. A record that was
// valid but lost the atomic claim is reported by the caller as OTPConsumed.
func ResolveOTPState(rec *models.OTPRecord, now time.Time) OTPState {
	if rec == nil {
		return OTPNotFound
	}
	if rec.Expired(now) {
		return OTPExpired
	}
	return OTPValid
}

// GenerateCode returns a uniformly random numeric code of the given width,
// leading zeros included.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid OTP length %d", length)
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate OTP: %w", err)
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}
