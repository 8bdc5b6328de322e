package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classroom/classroom/internal/activity"
	"github.com/classroom/classroom/internal/config"
	"github.com/classroom/classroom/internal/locale"
	"github.com/classroom/classroom/internal/models"
	"github.com/classroom/classroom/internal/notify"
	"github.com/classroom/classroom/internal/repository"
	"github.com/classroom/classroom/internal/security"
	"github.com/sirupsen/logrus"
)

// AuthService owns registration, password change and the OTP reset
// lifecycle. The stores it is given make no lifecycle decisions.
type AuthService struct {
	users    repository.UserDirectory
	otps     repository.OTPStore
	hasher   security.Hasher
	notifier notify.Notifier
	activity activity.Recorder
	catalog  *locale.Catalog
	cfg      config.OTPConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewAuthService(
	users repository.UserDirectory,
	otps repository.OTPStore,
	hasher security.Hasher,
	notifier notify.Notifier,
	recorder activity.Recorder,
	catalog *locale.Catalog,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		otps:     otps,
		hasher:   hasher,
		notifier: notifier,
		activity: recorder,
		catalog:  catalog,
		cfg:      *cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AccountView, error) {
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	email := repository.NormalizeEmail(req.Email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	digest, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	acct := &models.Account{
		Email:          email,
		FullName:       strings.TrimSpace(req.FullName),
		PasswordDigest: digest,
		Role:           models.RoleStudent,
		Phone:          strings.TrimSpace(req.Phone),
		Active:         true,
	}
	if err := s.users.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": acct.ID,
		"email":   acct.Email,
	}).Info("Account registered")
	s.activity.Record(ctx, activity.Event{UserID: acct.ID, Action: models.ActionRegister})

	view := acct.View()
	return &view, nil
}

// RequestReset issues a reset code when the email belongs to an account and
// the resend window has passed. The reply is the same in every case.
func (s *AuthService) RequestReset(ctx context.Context, email string) (*models.MessageResponse, error) {
	email = repository.NormalizeEmail(email)
	generic := &models.MessageResponse{Message: s.catalog.Sprintf(ctx, locale.MsgResetRequested)}
	log := s.logger.WithField("email", email)

	acct, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		log.Debug("Password reset requested for unknown email")
		return generic, nil
	}

	now := s.now()
	latest, err := s.otps.FindLatest(ctx, email)
	if err != nil {
		return nil, err
	}
	if latest != nil && now.Sub(latest.CreatedAt) < s.cfg.ResendWindow {
		log.Info("Password reset throttled")
		return generic, nil
	}

	code, err := GenerateCode(s.cfg.Length)
	if err != nil {
		return nil, err
	}

	rec := &models.OTPRecord{
		Email:      email,
		CodeDigest: security.DigestCode(code, s.cfg.Pepper),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.Expiry),
	}
	if err := s.otps.Create(ctx, rec); err != nil {
		return nil, err
	}

	log = log.WithField("otp_id", rec.ID)
	if s.cfg.DebugLogCode {
		log.WithField("otp", code).Info("OTP generated (debug logging enabled)")
	}

	msg := notify.Message{
		To:      acct.Email,
		Subject: s.catalog.Sprintf(ctx, locale.MsgResetEmailSubject),
		Body:    s.catalog.Sprintf(ctx, locale.MsgResetEmailBody, acct.FullName, code, s.expiryMinutes()),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to deliver reset code, withdrawing it")
		if delErr := s.otps.DeleteByID(ctx, email, rec.ID); delErr != nil {
			log.WithError(delErr).Warn("Failed to withdraw undelivered OTP")
		}
		return nil, fmt.Errorf("failed to deliver reset code: %w", err)
	}

	// Only codes issued before this one are invalidated, so a concurrent
	// request that issued later keeps its code.
	var invalidated int64
	if s.cfg.InvalidateOnReissue {
		n, err := s.otps.DeleteIssuedBefore(ctx, email, rec.CreatedAt, rec.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to invalidate previous OTPs")
		} else if n > 0 {
			invalidated = n
			log.WithField("count", n).Info("Previous OTPs invalidated")
		}
	}

	log.Info("Password reset code issued")
	s.activity.Record(ctx, activity.Event{
		UserID: acct.ID,
		Action: models.ActionResetRequested,
		Metadata: map[string]interface{}{
			"otp_id":      rec.ID,
			"invalidated": invalidated,
		},
	})
	return generic, nil
}

// ConfirmReset redeems a reset code. An unknown account, a wrong code and an
// expired code all yield ErrInvalidOrExpiredOTP.
func (s *AuthService) ConfirmReset(ctx context.Context, req models.ResetPasswordRequest) (*models.MessageResponse, error) {
	if req.NewPassword != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	email := repository.NormalizeEmail(req.Email)
	log := s.logger.WithField("email", email)

	acct, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		log.Info("Password reset rejected: unknown account")
		return nil, ErrInvalidOrExpiredOTP
	}

	now := s.now()
	rec, err := s.otps.FindLatestValid(ctx, email, security.DigestCode(strings.TrimSpace(req.Code), s.cfg.Pepper), now)
	if err != nil {
		return nil, err
	}
	if state := ResolveOTPState(rec, now); state != OTPValid {
		log.WithField("state", state.String()).Info("Password reset rejected")
		return nil, ErrInvalidOrExpiredOTP
	}

	digest, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return nil, err
	}

	claimed, err := s.otps.Consume(ctx, email, rec.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.WithFields(logrus.Fields{
			"otp_id": rec.ID,
			"state":  OTPConsumed.String(),
		}).Info("Password reset rejected")
		return nil, ErrInvalidOrExpiredOTP
	}

	if err := s.users.UpdatePassword(ctx, acct, digest); err != nil {
		return nil, err
	}

	if n, err := s.otps.DeleteExpired(ctx, email, now); err != nil {
		log.WithError(err).Warn("Failed to clean up expired OTPs")
	} else if n > 0 {
		log.WithField("count", n).Debug("Expired OTPs cleaned up")
	}

	log.WithField("user_id", acct.ID).Info("Password reset completed")
	s.activity.Record(ctx, activity.Event{
		UserID:   acct.ID,
		Action:   models.ActionPasswordReset,
		Metadata: map[string]interface{}{"otp_id": rec.ID},
	})
	return &models.MessageResponse{Message: s.catalog.Sprintf(ctx, locale.MsgPasswordReset)}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, req models.ChangePasswordRequest) (*models.MessageResponse, error) {
	if req.NewPassword != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	acct, err := s.users.FindByEmail(ctx, repository.NormalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}

	ok, err := s.hasher.Compare(ctx, req.CurrentPassword, acct.PasswordDigest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	digest, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, acct, digest); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", acct.ID).Info("Password changed")
	s.activity.Record(ctx, activity.Event{UserID: acct.ID, Action: models.ActionPasswordChanged})
	return &models.MessageResponse{Message: s.catalog.Sprintf(ctx, locale.MsgPasswordChanged)}, nil
}

// VerifyCredentials checks an email/password pair. Unknown accounts and wrong
// passwords are both ErrInvalidCredentials.
func (s *AuthService) VerifyCredentials(ctx context.Context, email, password string) (*models.Account, error) {
	acct, err := s.users.FindByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Compare(ctx, password, acct.PasswordDigest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

func (s *AuthService) expiryMinutes() int {
	minutes := int(s.cfg.Expiry.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}
