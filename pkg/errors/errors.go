package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrForbidden          = NewError("FORBIDDEN", "forbidden", http.StatusForbidden)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrRateLimited        = NewError("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)

	ErrMissingCredentials = NewError("MISSING_CREDENTIALS", "missing or malformed credentials", http.StatusUnauthorized)
	ErrStaleTimestamp     = NewError("STALE_TIMESTAMP", "request timestamp outside allowed window", http.StatusUnauthorized)
	ErrNonceReplayed      = NewError("NONCE_REPLAYED", "nonce already used", http.StatusUnauthorized)
	ErrInvalidSignature   = NewError("INVALID_SIGNATURE", "invalid signature", http.StatusForbidden)
	ErrPeerNotConfigured  = NewError("PEER_NOT_CONFIGURED", "authentication not configured for peer", http.StatusServiceUnavailable)

	ErrQueueCapacity     = NewError("QUEUE_CAPACITY", "queue at capacity", http.StatusTooManyRequests)
	ErrShuttingDown      = NewError("SHUTTING_DOWN", "service is shutting down", http.StatusServiceUnavailable)
	ErrAdmissionRejected = NewError("ADMISSION_REJECTED", "event rejected by admission rule", http.StatusUnprocessableEntity)
	ErrPersistence       = NewError("PERSISTENCE_ERROR", "failed to persist batch", http.StatusInternalServerError)
	ErrStore             = NewError("STORE_ERROR", "protection store unavailable", http.StatusServiceUnavailable)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so derived copies (WithCause, WithDetail) still match their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrAdmissionRejected.Code, ErrInvalidSignature.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

// IsAuthentication reports whether err is one of the ingress authentication failures.
func IsAuthentication(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrMissingCredentials.Code, ErrStaleTimestamp.Code, ErrNonceReplayed.Code,
		ErrInvalidSignature.Code, ErrPeerNotConfigured.Code:
		return true
	}
	return false
}

func IsCapacity(err error) bool {
	return hasCode(err, ErrQueueCapacity.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		// If it's not our error type, wrap it
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}

// As is errors.As, re-exported so callers importing this package under its own name
// do not also need the standard errors package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
