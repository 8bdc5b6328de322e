package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/classroom/classroom/internal/models"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrNotFound       = errors.New("record not found")
)

// UserDirectory looks up and mutates accounts. Lookups return (nil, nil)
// when nothing matches.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	// Create assigns ID and timestamps and fails with ErrDuplicateEmail
	// when the email is taken.
	Create(ctx context.Context, account *models.Account) error
	UpdatePassword(ctx context.Context, account *models.Account, digest string) error
}

// OTPStore keeps issued reset codes. It makes no lifecycle decisions; the
// only conditional write is Consume. Lookups return (nil, nil) when nothing
// matches.
type OTPStore interface {
	// Create persists rec, assigning rec.ID when it is empty.
	Create(ctx context.Context, rec *models.OTPRecord) error
	FindLatest(ctx context.Context, email string) (*models.OTPRecord, error)
	// FindLatestValid returns the most recently created record for email
	// whose digest matches and whose expiry is after now.
	FindLatestValid(ctx context.Context, email, digest string, now time.Time) (*models.OTPRecord, error)
	// Consume deletes the record only if it still exists and has not expired
	// at now. Exactly one of any number of concurrent callers gets true.
	Consume(ctx context.Context, email, id string, now time.Time) (bool, error)
	DeleteByID(ctx context.Context, email, id string) error
	DeleteExpired(ctx context.Context, email string, now time.Time) (int64, error)
	// DeleteIssuedBefore removes the records for email created strictly
	// before the cutoff, never keepID. Later records survive, including
	// those issued by a concurrent request.
	DeleteIssuedBefore(ctx context.Context, email string, before time.Time, keepID string) (int64, error)
}

// NormalizeEmail is the canonical form used as the storage key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
