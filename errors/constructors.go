package errors

import (
	"fmt"
	"time"
)

type details = map[string]any

func newf(code ErrorCode, d details, format string, args ...any) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: code.Status(),
		Retryable:  code.Retryable(),
		Details:    d,
	}
}

// InvalidInput reports a bad value for field. An empty field is omitted.
func InvalidInput(field, reason string) *AppError {
	d := details{}
	if field != "" {
		d["field"] = field
	}
	return newf(ErrCodeInvalidInput, d, "Invalid input: %s", reason)
}

// Validation reports a request that failed validation as a whole.
func Validation(message string) *AppError {
	return newf(ErrCodeInvalidInput, nil, "%s", message)
}

// MissingField reports a required field that was not sent.
func MissingField(field string) *AppError {
	return newf(ErrCodeMissingField, details{"field": field}, "Missing required field: %s", field)
}

// RateLimited reports a caller over its request rate.
func RateLimited() *AppError {
	return newf(ErrCodeRateLimited, nil, "Rate limit exceeded. Please slow down.")
}

// ServiceUnavailable reports a dependency that is temporarily out of reach.
func ServiceUnavailable(service string) *AppError {
	return newf(ErrCodeServiceUnavailable, details{"service": service},
		"The %s is temporarily unavailable. Please try again.", service)
}

// Timeout reports an operation that ran out of time.
func Timeout(operation string) *AppError {
	return newf(ErrCodeTimeout, details{"operation": operation}, "The %s took too long.", operation)
}

// ExternalServiceError reports a failure answered by a remote service.
func ExternalServiceError(service string, cause error) *AppError {
	return newf(ErrCodeExternalService, details{"service": service},
		"The %s service encountered an error.", service).WithCause(cause)
}

// Internal wraps an unexpected error.
func Internal(cause error) *AppError {
	return newf(ErrCodeInternal, nil, "An unexpected error occurred.").WithCause(cause)
}

// UnknownStage reports a kind missing from the stage registry.
func UnknownStage(kind string) *AppError {
	return newf(ErrCodeUnknownStage, details{"stage": kind}, "Unknown stage kind %q.", kind)
}

// MalformedMessage reports a pipeline message that failed to decode.
func MalformedMessage(reason string) *AppError {
	return newf(ErrCodeMalformedMessage, nil, "Malformed pipeline message: %s", reason)
}

// TransformFailed reports an image transform error.
func TransformFailed(kind string, cause error) *AppError {
	return newf(ErrCodeTransformFailed, details{"stage": kind}, "The %s transform failed.", kind).WithCause(cause)
}

// StoreUnavailable reports a failed blob store operation on key.
func StoreUnavailable(op, key string, cause error) *AppError {
	return newf(ErrCodeStoreUnavailable, details{"operation": op, "key": key},
		"Storage %s failed for %q.", op, key).WithCause(cause)
}

// PublishTimeout reports a publish not acknowledged within wait.
func PublishTimeout(topic string, wait time.Duration) *AppError {
	return newf(ErrCodePublishTimeout, details{"topic": topic, "wait": wait.String()},
		"Publish to %s was not acknowledged within %s.", topic, wait)
}

// PublishFailed reports a publish the bus rejected.
func PublishFailed(topic string, cause error) *AppError {
	return newf(ErrCodePublishFailed, details{"topic": topic}, "Publish to %s failed.", topic).WithCause(cause)
}
