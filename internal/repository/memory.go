package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classroom/classroom/internal/models"
	"github.com/google/uuid"
)

// MemoryUserRepository is a process-local UserDirectory for development
// and tests.
type MemoryUserRepository struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	now      func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		accounts: make(map[string]models.Account),
		now:      time.Now,
	}
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(account.Email)
	if _, exists := r.accounts[key]; exists {
		return ErrDuplicateEmail
	}

	now := r.now()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Email = key
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[key] = *account
	return nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, account *models.Account, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(account.Email)
	stored, ok := r.accounts[key]
	if !ok || stored.ID != account.ID {
		return ErrNotFound
	}
	stored.PasswordDigest = digest
	stored.UpdatedAt = r.now()
	r.accounts[key] = stored

	account.PasswordDigest = stored.PasswordDigest
	account.UpdatedAt = stored.UpdatedAt
	return nil
}

// MemoryOTPRepository is a process-local OTPStore. A single mutex makes
// Consume atomic.
type MemoryOTPRepository struct {
	mu      sync.Mutex
	byEmail map[string][]models.OTPRecord
}

func NewMemoryOTPRepository() *MemoryOTPRepository {
	return &MemoryOTPRepository{byEmail: make(map[string][]models.OTPRecord)}
}

func (r *MemoryOTPRepository) Create(_ context.Context, rec *models.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Email = NormalizeEmail(rec.Email)
	records := append(r.byEmail[rec.Email], *rec)
	// newest first
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	r.byEmail[rec.Email] = records
	return nil
}

func (r *MemoryOTPRepository) FindLatest(_ context.Context, email string) (*models.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.byEmail[NormalizeEmail(email)]
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]
	return &rec, nil
}

func (r *MemoryOTPRepository) FindLatestValid(_ context.Context, email, digest string, now time.Time) (*models.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byEmail[NormalizeEmail(email)] {
		if rec.CodeDigest == digest && !rec.Expired(now) {
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryOTPRepository) Consume(_ context.Context, email, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(email)
	records := r.byEmail[key]
	for i, rec := range records {
		if rec.ID != id {
			continue
		}
		if rec.Expired(now) {
			return false, nil
		}
		r.byEmail[key] = append(records[:i:i], records[i+1:]...)
		return true, nil
	}
	return false, nil
}

func (r *MemoryOTPRepository) DeleteByID(_ context.Context, email, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(email)
	records := r.byEmail[key]
	for i, rec := range records {
		if rec.ID == id {
			r.byEmail[key] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryOTPRepository) DeleteExpired(_ context.Context, email string, now time.Time) (int64, error) {
	return r.deleteWhere(email, func(rec models.OTPRecord) bool { return rec.Expired(now) }), nil
}

func (r *MemoryOTPRepository) DeleteIssuedBefore(_ context.Context, email string, before time.Time, keepID string) (int64, error) {
	return r.deleteWhere(email, func(rec models.OTPRecord) bool {
		return rec.ID != keepID && rec.CreatedAt.Before(before)
	}), nil
}

func (r *MemoryOTPRepository) deleteWhere(email string, match func(models.OTPRecord) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(email)
	kept := r.byEmail[key][:0:0]
	var deleted int64
	for _, rec := range r.byEmail[key] {
		if match(rec) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.byEmail[key] = kept
	return deleted
}

// All returns a copy of every stored record for email, newest first.
func (r *MemoryOTPRepository) All(email string) []models.OTPRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.byEmail[NormalizeEmail(email)]
	out := make([]models.OTPRecord, len(records))
	copy(out, records)
	return out
}
