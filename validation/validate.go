package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/kbukum/imgflow/errors"
)

// FieldError is one failed field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	validate *validator.Validate
	once     sync.Once
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return toSnakeCase(fld.Name)
			}
			return name
		})
		_ = validate.RegisterValidation("objectkey", func(fl validator.FieldLevel) bool {
			return ValidObjectKey(fl.Field().String())
		})
	})
	return validate
}

// Validate checks s against its tags. A failure is an INVALID_INPUT AppError
// whose "fields" detail holds one FieldError per failed field.
func Validate(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("validation failed").WithCause(err)
	}

	fields := make([]FieldError, 0, len(verrs))
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		f := FieldError{Field: fe.Field(), Message: describe(fe)}
		fields = append(fields, f)
		parts = append(parts, f.Field+": "+f.Message)
	}
	return apperrors.Validation(strings.Join(parts, "; ")).WithDetail("fields", fields)
}

// ValidObjectKey reports whether key is a relative storage key with no empty,
// "." or ".." segments.
func ValidObjectKey(key string) bool {
	if key == "" || strings.ContainsRune(key, '\\') {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func describe(fe validator.FieldError) string {
	unit := "characters"
	switch fe.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		unit = "items"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " " + unit
	case "max":
		return "must have at most " + fe.Param() + " " + unit
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url", "http_url":
		return "must be an absolute http(s) URL"
	case "objectkey":
		return "must be a relative key without empty, '.' or '..' segments"
	default:
		return "failed the " + fe.Tag() + " check"
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
