package locale

import (
	"context"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. Keys are also valid English format strings.
const (
	MsgResetRequested     = "If the email exists in our system, an OTP code has been sent."
	MsgPasswordReset      = "Password reset successfully."
	MsgPasswordChanged    = "Password changed successfully."
	MsgResetEmailSubject  = "Password reset code"
	MsgResetEmailBody     = "Hello %s,\n\nYour password reset code is: %s\nThe code expires in %d minutes.\nIf you did not request this, please ignore this email."
	MsgEmailInUse         = "Email is already in use."
	MsgInvalidOTP         = "The OTP code is incorrect or has expired."
	MsgInvalidCredentials = "Current password is incorrect."
	MsgAccountNotFound    = "Account not found."
	MsgInvalidBody        = "Invalid request body."
	MsgValidationFailed   = "Validation failed."
	MsgInternal           = "Internal server error."

	MsgFieldRequired = "%s is required"
	MsgFieldEmail    = "%s must be a valid email address"
	MsgFieldMin      = "%s must be at least %s characters"
	MsgFieldMax      = "%s must be at most %s characters"
	MsgFieldLen      = "%s must be exactly %s characters"
	MsgFieldNumeric  = "%s must contain only digits"
	MsgFieldEqField  = "%s must match %s"
	MsgFieldOTP      = "%s must be a %d-digit code"
	MsgFieldInvalid  = "%s is invalid"
)

var vietnamese = map[string]string{
	MsgResetRequested:     "Nếu email tồn tại trong hệ thống, mã OTP đã được gửi.",
	MsgPasswordReset:      "Đổi mật khẩu thành công.",
	MsgPasswordChanged:    "Đổi mật khẩu thành công.",
	MsgResetEmailSubject:  "Mã OTP đặt lại mật khẩu",
	MsgResetEmailBody:     "Xin chào %s,\n\nMã OTP để đặt lại mật khẩu của bạn là: %s\nMã sẽ hết hạn sau %d phút.\nNếu bạn không yêu cầu, vui lòng bỏ qua email này.",
	MsgEmailInUse:         "Email đã được sử dụng.",
	MsgInvalidOTP:         "Mã OTP không đúng hoặc đã hết hạn.",
	MsgInvalidCredentials: "Mật khẩu hiện tại không đúng.",
	MsgAccountNotFound:    "Không tìm thấy tài khoản.",
	MsgInvalidBody:        "Dữ liệu yêu cầu không hợp lệ.",
	MsgValidationFailed:   "Dữ liệu không hợp lệ.",
	MsgInternal:           "Lỗi máy chủ.",

	MsgFieldRequired: "%s là bắt buộc",
	MsgFieldEmail:    "%s không đúng định dạng email",
	MsgFieldMin:      "%s phải có ít nhất %s ký tự",
	MsgFieldMax:      "%s không được vượt quá %s ký tự",
	MsgFieldLen:      "%s phải có đúng %s ký tự",
	MsgFieldNumeric:  "%s chỉ được chứa chữ số",
	MsgFieldEqField:  "%s phải trùng với %s",
	MsgFieldOTP:      "%s phải gồm đúng %d chữ số",
	MsgFieldInvalid:  "%s không hợp lệ",
}

var english = []string{
	MsgResetRequested, MsgPasswordReset, MsgPasswordChanged, MsgResetEmailSubject, MsgResetEmailBody,
	MsgEmailInUse, MsgInvalidOTP, MsgInvalidCredentials, MsgAccountNotFound, MsgInvalidBody,
	MsgValidationFailed, MsgInternal, MsgFieldRequired, MsgFieldEmail, MsgFieldMin, MsgFieldMax,
	MsgFieldLen, MsgFieldNumeric, MsgFieldEqField, MsgFieldOTP, MsgFieldInvalid,
}

type ctxKey struct{}

// WithLanguage attaches the negotiated language to ctx.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, ctxKey{}, tag)
}

// FromContext returns the language stored by WithLanguage.
func FromContext(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(ctxKey{}).(language.Tag)
	return tag, ok
}

// Catalog renders user-facing text in English or Vietnamese.
type Catalog struct {
	builder   *catalog.Builder
	supported []language.Tag
	matcher   language.Matcher
}

// New builds the catalog. fallback ("en" or "vi") is used when a request
// carries no language or none that is supported.
func New(fallback string) *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range english {
		_ = b.SetString(language.English, key, key)
	}
	for key, text := range vietnamese {
		_ = b.SetString(language.Vietnamese, key, text)
	}

	def := language.English
	if tag, err := language.Parse(fallback); err == nil {
		if base, _ := tag.Base(); base.String() == "vi" {
			def = language.Vietnamese
		}
	}

	supported := []language.Tag{def}
	for _, tag := range []language.Tag{language.English, language.Vietnamese} {
		if tag != def {
			supported = append(supported, tag)
		}
	}

	return &Catalog{
		builder:   b,
		supported: supported,
		matcher:   language.NewMatcher(supported),
	}
}

// Default is the fallback language.
func (c *Catalog) Default() language.Tag {
	return c.supported[0]
}

// Match picks a supported language for an Accept-Language header value.
func (c *Catalog) Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return c.Default()
	}
	_, idx, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return c.Default()
	}
	return c.supported[idx]
}

// Sprintf formats key in the language carried by ctx.
func (c *Catalog) Sprintf(ctx context.Context, key string, args ...interface{}) string {
	tag, ok := FromContext(ctx)
	if !ok {
		tag = c.Default()
	}
	return message.NewPrinter(tag, message.Catalog(c.builder)).Sprintf(key, args...)
}
