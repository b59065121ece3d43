package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is a stable, documented identifier carried in every error payload.
type ErrorCode string

const (
	// Authorization denials (403)
	CodeMissingAuthContext     ErrorCode = "AUTH_001"
	CodeInvalidAuthContext     ErrorCode = "AUTH_002"
	CodeInsufficientRole       ErrorCode = "AUTH_003"
	CodeInsufficientPermission ErrorCode = "AUTH_004"
	CodeOwnerMismatch          ErrorCode = "AUTH_005"

	// Credential failures (401)
	CodeMissingAPIKey  ErrorCode = "AUTHN_001"
	CodeInvalidAPIKey  ErrorCode = "AUTHN_002"
	CodeDisabledAPIKey ErrorCode = "AUTHN_003"

	CodeInvalidRequest   ErrorCode = "KEY_001"   // 400
	CodeKeyNotFound      ErrorCode = "KEY_002"   // 404
	CodeRateLimited      ErrorCode = "RATE_001"  // 429
	CodeStoreUnavailable ErrorCode = "STORE_001" // 500 / 503
	CodeInternal         ErrorCode = "SRV_001"   // 500
)

// Error kinds used in the "error" field of the payload.
const (
	KindForbidden          = "forbidden"
	KindUnauthorized       = "unauthorized"
	KindBadRequest         = "bad_request"
	KindNotFound           = "not_found"
	KindTooManyRequests    = "too_many_requests"
	KindInternal           = "internal_error"
	KindServiceUnavailable = "service_unavailable"
)

// ErrorResponse is the JSON body written for every denial.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code"`
	Timestamp string    `json:"timestamp"`
}

// NewErrorResponse stamps a payload with the current UTC time.
func NewErrorResponse(kind, message string, code ErrorCode) ErrorResponse {
	return ErrorResponse{
		Error:     kind,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// ConfigurationError reports programmer misuse detected while wiring the
// application. It is never recovered at request time.
type ConfigurationError struct {
	Message string
}

func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{Message: message}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthenticationError reports a missing, unknown or disabled credential.
type AuthenticationError struct {
	Code    ErrorCode
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

var (
	ErrAPIKeyMissing  = &AuthenticationError{Code: CodeMissingAPIKey, Message: "API key missing"}
	ErrAPIKeyInvalid  = &AuthenticationError{Code: CodeInvalidAPIKey, Message: "Invalid API key"}
	ErrAPIKeyDisabled = &AuthenticationError{Code: CodeDisabledAPIKey, Message: "API key disabled"}
)

// AuthorizationError reports a guard denial.
type AuthorizationError struct {
	Code    ErrorCode
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

var (
	ErrMissingAuthContext     = &AuthorizationError{Code: CodeMissingAuthContext, Message: "Authorization required"}
	ErrInvalidAuthContext     = &AuthorizationError{Code: CodeInvalidAuthContext, Message: "Invalid authorization context"}
	ErrInsufficientRole       = &AuthorizationError{Code: CodeInsufficientRole, Message: "Insufficient role"}
	ErrInsufficientPermission = &AuthorizationError{Code: CodeInsufficientPermission, Message: "Insufficient permission"}
	ErrOwnerMismatch          = &AuthorizationError{Code: CodeOwnerMismatch, Message: "Resource owner mismatch"}
)

// RateLimitError reports an exhausted quota.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "Too many requests, please try again later."
}

// TransientStoreError wraps a failure of the shared cache/counter store or
// the permanent credential store.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// ErrKeyNotFound is returned by stores when no record exists for a hash.
var ErrKeyNotFound = errors.New("api key not found")

// HTTPStatus maps an error from this package's taxonomy to a status code.
func HTTPStatus(err error) int {
	var (
		valErr   *ValidationError
		authnErr *AuthenticationError
		authzErr *AuthorizationError
		rlErr    *RateLimitError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &authnErr):
		return http.StatusUnauthorized
	case errors.As(err, &authzErr):
		return http.StatusForbidden
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrKeyNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToErrorResponse converts an error to its status and payload.
func ToErrorResponse(err error) (int, ErrorResponse) {
	var (
		valErr   *ValidationError
		authnErr *AuthenticationError
		authzErr *AuthorizationError
		rlErr    *RateLimitError
		storeErr *TransientStoreError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, NewErrorResponse(KindBadRequest, valErr.Error(), CodeInvalidRequest)
	case errors.As(err, &authnErr):
		return http.StatusUnauthorized, NewErrorResponse(KindUnauthorized, authnErr.Message, authnErr.Code)
	case errors.As(err, &authzErr):
		return http.StatusForbidden, NewErrorResponse(KindForbidden, authzErr.Message, authzErr.Code)
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, NewErrorResponse(KindTooManyRequests, rlErr.Error(), CodeRateLimited)
	case errors.Is(err, ErrKeyNotFound):
		return http.StatusNotFound, NewErrorResponse(KindNotFound, "API key not found", CodeKeyNotFound)
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError, NewErrorResponse(KindInternal, "Internal auth error", CodeStoreUnavailable)
	default:
		return http.StatusInternalServerError, NewErrorResponse(KindInternal, "Internal server error", CodeInternal)
	}
}
