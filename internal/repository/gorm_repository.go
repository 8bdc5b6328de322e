package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classroom/classroom/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate creates or updates the relational schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Account{}, &models.OTPRecord{}, &models.ActivityLog{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// drivers opened without TranslateError
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}

type GormUserRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewGormUserRepository(db *gorm.DB, logger *logrus.Logger) *GormUserRepository {
	return &GormUserRepository{db: db, logger: logger, now: time.Now}
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var acct models.Account
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from database")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &acct, nil
}

func (r *GormUserRepository) Create(ctx context.Context, account *models.Account) error {
	now := r.now().UTC()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Email = NormalizeEmail(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateEmail
		}
		r.logger.WithError(err).Error("Failed to create user in database")
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, account *models.Account, digest string) error {
	updatedAt := r.now().UTC()

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"password_digest": digest,
			"updated_at":      updatedAt,
		})
	if result.Error != nil {
		r.logger.WithError(result.Error).WithField("user_id", account.ID).Error("Failed to update user password")
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	account.PasswordDigest = digest
	account.UpdatedAt = updatedAt
	return nil
}

type GormOTPRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewGormOTPRepository(db *gorm.DB, logger *logrus.Logger) *GormOTPRepository {
	return &GormOTPRepository{db: db, logger: logger}
}

func (r *GormOTPRepository) Create(ctx context.Context, rec *models.OTPRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Email = NormalizeEmail(rec.Email)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in database")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (r *GormOTPRepository) FindLatest(ctx context.Context, email string) (*models.OTPRecord, error) {
	return r.first(ctx, r.db.Where("email = ?", NormalizeEmail(email)))
}

func (r *GormOTPRepository) FindLatestValid(ctx context.Context, email, digest string, now time.Time) (*models.OTPRecord, error) {
	return r.first(ctx, r.db.Where("email = ? AND code_digest = ? AND expires_at > ?", NormalizeEmail(email), digest, now.UTC()))
}

func (r *GormOTPRepository) first(ctx context.Context, scope *gorm.DB) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	err := scope.WithContext(ctx).Order("created_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return &rec, nil
}

// Consume relies on the single DELETE statement: whichever transaction
// removes the row sees RowsAffected == 1, every other sees 0.
func (r *GormOTPRepository) Consume(ctx context.Context, email, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND email = ? AND expires_at > ?", id, NormalizeEmail(email), now.UTC()).
		Delete(&models.OTPRecord{})
	if result.Error != nil {
		r.logger.WithError(result.Error).WithField("otp_id", id).Error("Failed to consume OTP")
		return false, fmt.Errorf("failed to consume OTP: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormOTPRepository) DeleteByID(ctx context.Context, email, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND email = ?", id, NormalizeEmail(email)).
		Delete(&models.OTPRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete OTP: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormOTPRepository) DeleteExpired(ctx context.Context, email string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("email = ? AND expires_at <= ?", NormalizeEmail(email), now.UTC()).
		Delete(&models.OTPRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired OTPs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteIssuedBefore also excludes keepID by id, since the column may round
// created_at below the caller's in-memory timestamp.
func (r *GormOTPRepository) DeleteIssuedBefore(ctx context.Context, email string, before time.Time, keepID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("email = ? AND created_at < ? AND id <> ?", NormalizeEmail(email), before.UTC(), keepID).
		Delete(&models.OTPRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete OTPs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
