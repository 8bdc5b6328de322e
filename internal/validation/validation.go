package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/classroom/classroom/internal/locale"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every field that failed, in declaration order.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

type Validator struct {
	validate   *validator.Validate
	catalog    *locale.Catalog
	codeLength int
}

// New returns a validator whose "otp" tag accepts exactly codeLength digits.
// It panics if the tag cannot be registered.
func New(catalog *locale.Catalog, codeLength int) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	if err := v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return isDigits(fl.Field().String(), codeLength)
	}); err != nil {
		panic(fmt.Sprintf("validation: register otp tag: %v", err))
	}
	return &Validator{validate: v, catalog: catalog, codeLength: codeLength}
}

// Struct validates s, returning *Error for rule violations.
func (v *Validator) Struct(ctx context.Context, s interface{}) error {
	err := v.validate.StructCtx(ctx, s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	out := &Error{Fields: make([]FieldError, 0, len(ve))}
	for _, fe := range ve {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Message: v.message(ctx, s, fe),
		})
	}
	return out
}

func (v *Validator) message(ctx context.Context, s interface{}, fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return v.catalog.Sprintf(ctx, locale.MsgFieldRequired, field)
	case "email":
		return v.catalog.Sprintf(ctx, locale.MsgFieldEmail, field)
	case "min":
		return v.catalog.Sprintf(ctx, locale.MsgFieldMin, field, fe.Param())
	case "max":
		return v.catalog.Sprintf(ctx, locale.MsgFieldMax, field, fe.Param())
	case "len":
		return v.catalog.Sprintf(ctx, locale.MsgFieldLen, field, fe.Param())
	case "numeric":
		return v.catalog.Sprintf(ctx, locale.MsgFieldNumeric, field)
	case "eqfield":
		return v.catalog.Sprintf(ctx, locale.MsgFieldEqField, field, siblingName(s, fe.Param()))
	case "otp":
		return v.catalog.Sprintf(ctx, locale.MsgFieldOTP, field, v.codeLength)
	default:
		return v.catalog.Sprintf(ctx, locale.MsgFieldInvalid, field)
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// siblingName resolves an eqfield parameter (a Go field name) to its JSON name.
func siblingName(s interface{}, goName string) string {
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return goName
	}
	if f, ok := t.FieldByName(goName); ok {
		return jsonName(f)
	}
	return goName
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
