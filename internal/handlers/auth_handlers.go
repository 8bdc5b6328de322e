package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/classroom/classroom/internal/locale"
	"github.com/classroom/classroom/internal/models"
	"github.com/classroom/classroom/internal/service"
	"github.com/classroom/classroom/internal/validation"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// AuthService is the account surface the handlers drive.
type AuthService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.AccountView, error)
	RequestReset(ctx context.Context, email string) (*models.MessageResponse, error)
	ConfirmReset(ctx context.Context, req models.ResetPasswordRequest) (*models.MessageResponse, error)
	ChangePassword(ctx context.Context, req models.ChangePasswordRequest) (*models.MessageResponse, error)
}

type AuthHandlers struct {
	auth      AuthService
	validator *validation.Validator
	catalog   *locale.Catalog
	logger    *logrus.Logger
}

func NewAuthHandlers(
	auth AuthService,
	validator *validation.Validator,
	catalog *locale.Catalog,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		auth:      auth,
		validator: validator,
		catalog:   catalog,
		logger:    logger,
	}
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Details []validation.FieldError `json:"details,omitempty"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, account)
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.RequestReset(r.Context(), req.Email)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.ConfirmReset(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.ChangePassword(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

// decode reads a strict JSON body into dst and validates it. On failure the
// response has been written and false is returned.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Debug("Rejected request body")
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", h.catalog.Sprintf(r.Context(), locale.MsgInvalidBody), nil)
		return false
	}

	if err := h.validator.Struct(r.Context(), dst); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			h.respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", h.catalog.Sprintf(r.Context(), locale.MsgValidationFailed), verr.Fields)
			return false
		}
		h.logger.WithError(err).Error("Request validation failed unexpectedly")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", h.catalog.Sprintf(r.Context(), locale.MsgInternal), nil)
		return false
	}
	return true
}

func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, service.ErrPasswordMismatch):
		h.respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", h.catalog.Sprintf(ctx, locale.MsgValidationFailed), nil)
	case errors.Is(err, service.ErrEmailInUse):
		h.respondWithError(w, http.StatusConflict, "EMAIL_IN_USE", h.catalog.Sprintf(ctx, locale.MsgEmailInUse), nil)
	case errors.Is(err, service.ErrInvalidOrExpiredOTP):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_OTP", h.catalog.Sprintf(ctx, locale.MsgInvalidOTP), nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", h.catalog.Sprintf(ctx, locale.MsgInvalidCredentials), nil)
	case errors.Is(err, service.ErrAccountNotFound):
		h.respondWithError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", h.catalog.Sprintf(ctx, locale.MsgAccountNotFound), nil)
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", h.catalog.Sprintf(ctx, locale.MsgInternal), nil)
	}
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string, details []validation.FieldError) {
	respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
