package errors

import "net/http"

// ErrorCode is a machine-readable error code.
type ErrorCode string

// General codes.
const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField       ErrorCode = "MISSING_FIELD"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Pipeline codes.
const (
	// ErrCodeUnknownStage: a stage kind that is not in the registry.
	ErrCodeUnknownStage ErrorCode = "UNKNOWN_STAGE"
	// ErrCodeMalformedMessage: a pipeline message failed to decode or validate.
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	// ErrCodeTransformFailed: the image transform returned an error.
	ErrCodeTransformFailed ErrorCode = "TRANSFORM_FAILED"
	// ErrCodeStoreUnavailable: a blob store read or write failed.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodePublishTimeout: the bus did not acknowledge a publish in time.
	ErrCodePublishTimeout ErrorCode = "PUBLISH_TIMEOUT"
	// ErrCodePublishFailed: the bus rejected a publish.
	ErrCodePublishFailed ErrorCode = "PUBLISH_FAILED"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeInvalidInput:       {http.StatusBadRequest, false},
	ErrCodeMissingField:       {http.StatusBadRequest, false},
	ErrCodeRateLimited:        {http.StatusTooManyRequests, true},
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeTimeout:            {http.StatusGatewayTimeout, true},
	ErrCodeExternalService:    {http.StatusBadGateway, true},
	ErrCodeInternal:           {http.StatusInternalServerError, false},

	ErrCodeUnknownStage:     {http.StatusBadRequest, false},
	ErrCodeMalformedMessage: {http.StatusBadRequest, false},
	ErrCodeTransformFailed:  {http.StatusUnprocessableEntity, false},
	ErrCodeStoreUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodePublishTimeout:   {http.StatusGatewayTimeout, true},
	ErrCodePublishFailed:    {http.StatusBadGateway, true},
}

// Status returns the HTTP status the code maps to; unknown codes map to 500.
func (c ErrorCode) Status() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether an operation failing with c may succeed later.
func (c ErrorCode) Retryable() bool { return codes[c].retryable }
