package core

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput             = "AUTOREPLY_BAD_INPUT"
	ServiceErrorUnsupportedPlatform  = "AUTOREPLY_UNSUPPORTED_PLATFORM"
	ServiceErrorPlatformUnconfigured = "AUTOREPLY_PLATFORM_NOT_CONFIGURED"
	ServiceErrorNotConnected         = "AUTOREPLY_NOT_CONNECTED"
	ServiceErrorOAuthStateInvalid    = "AUTOREPLY_OAUTH_STATE_INVALID"
	ServiceErrorAuthorizationAborted = "AUTOREPLY_AUTHORIZATION_CANCELLED"
	ServiceErrorTokenExchangeFailed  = "AUTOREPLY_TOKEN_EXCHANGE_FAILED"
	ServiceErrorReauthRequired       = "AUTOREPLY_REAUTH_REQUIRED"
	ServiceErrorRateLimited          = "AUTOREPLY_RATE_LIMITED"
	ServiceErrorCrypto               = "AUTOREPLY_CRYPTO_ERROR"
	ServiceErrorPlatformFailed       = "AUTOREPLY_PLATFORM_FAILED"
	ServiceErrorNotFound             = "AUTOREPLY_NOT_FOUND"
	ServiceErrorInternal             = "AUTOREPLY_INTERNAL_ERROR"
)

const (
	RateLimitScopeAccount = "account"
	RateLimitScopeGlobal  = "global"
)

// CryptoError reports a vault failure: missing key, malformed blob or tag mismatch.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "security: " + e.Op + " failed"
	}
	return "security: " + e.Op + ": " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *CryptoError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryInternal, ServiceErrorCrypto)
}

// RateLimitExceededError is returned on admission when either the per-account or the
// global window is exhausted. RetryAfter is the time left until the window resets.
type RateLimitExceededError struct {
	Scope      string
	AccountID  string
	Platform   Platform
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func (e *RateLimitExceededError) Error() string {
	if e == nil {
		return ""
	}
	if e.Scope == RateLimitScopeGlobal {
		return fmt.Sprintf("ratelimit: global rate limit reached, retry in %d seconds", e.RetryAfterSeconds())
	}
	return fmt.Sprintf(
		"ratelimit: rate limit reached for %s on %s, retry in %d seconds",
		e.AccountID,
		e.Platform,
		e.RetryAfterSeconds(),
	)
}

func (e *RateLimitExceededError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited).
		WithMetadata(map[string]any{
			"scope":       e.Scope,
			"account_id":  e.AccountID,
			"platform":    string(e.Platform),
			"retry_after": e.RetryAfterSeconds(),
		})
}

type UnsupportedPlatformError struct {
	Platform Platform
	Op       string
}

func (e *UnsupportedPlatformError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("core: platform %q does not support %s", e.Platform, e.Op)
	}
	return fmt.Sprintf("core: unsupported platform %q", e.Platform)
}

func (e *UnsupportedPlatformError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryBadInput, ServiceErrorUnsupportedPlatform)
}

// PlatformNotConfiguredError reports a known platform that has no client because its
// credentials are missing from the configuration.
type PlatformNotConfiguredError struct {
	Platform Platform
}

func (e *PlatformNotConfiguredError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("core: platform %q is not configured", e.Platform)
}

func (e *PlatformNotConfiguredError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryBadInput, ServiceErrorPlatformUnconfigured)
}

type NotConnectedError struct {
	AccountID string
}

func (e *NotConnectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("core: account %q is not connected", e.AccountID)
}

func (e *NotConnectedError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryNotFound, ServiceErrorNotConnected)
}

// TokenExchangeError wraps a non-2xx answer from a platform token endpoint.
type TokenExchangeError struct {
	Platform  Platform
	GrantType string
	Status    int
	Body      string
	Err       error
}

func (e *TokenExchangeError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("providers: %s %s grant failed", e.Platform, e.GrantType)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCode lets the error classifier and goerrors mappers read the upstream status.
func (e *TokenExchangeError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func (e *TokenExchangeError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryExternal
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || e.Status == http.StatusBadRequest {
		category = goerrors.CategoryAuth
	}
	return newServiceError(e.Error(), category, ServiceErrorTokenExchangeFailed)
}

type AuthorizationCancelledError struct {
	Platform  Platform
	AccountID string
	Reason    string
}

func (e *AuthorizationCancelledError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return fmt.Sprintf("core: authorization cancelled for %s: %s", e.Platform, e.Reason)
	}
	return fmt.Sprintf("core: authorization cancelled for %s", e.Platform)
}

func (e *AuthorizationCancelledError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryOperation, ServiceErrorAuthorizationAborted)
}

// ReauthRequiredError is returned after credentials were invalidated by an auth failure.
type ReauthRequiredError struct {
	AccountID string
	Platform  Platform
	Err       error
}

func (e *ReauthRequiredError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("core: account %q must re-authorize", e.AccountID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReauthRequiredError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ReauthRequiredError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryAuth, ServiceErrorReauthRequired)
}

// NetworkError marks a transport-level failure where no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "transport: " + e.Op + " failed"
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *NetworkError) ToServiceError() *goerrors.Error {
	return newServiceError(e.Error(), goerrors.CategoryExternal, ServiceErrorPlatformFailed)
}

// HTTPStatusError is a non-2xx platform response.
type HTTPStatusError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return fmt.Sprintf("transport: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transport: status %d", e.Status)
}

func (e *HTTPStatusError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func (e *HTTPStatusError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryExternal
	textCode := ServiceErrorPlatformFailed
	switch {
	case e.Status == http.StatusUnauthorized:
		category, textCode = goerrors.CategoryAuth, ServiceErrorReauthRequired
	case e.Status == http.StatusForbidden:
		category, textCode = goerrors.CategoryAuthz, ServiceErrorReauthRequired
	case e.Status == http.StatusTooManyRequests:
		category, textCode = goerrors.CategoryRateLimit, ServiceErrorRateLimited
	case e.Status == http.StatusBadRequest, e.Status == http.StatusUnprocessableEntity:
		category, textCode = goerrors.CategoryValidation, ServiceErrorBadInput
	}
	return goerrors.New(e.Error(), category).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode).
		WithMetadata(map[string]any{"upstream_status": e.Status})
}

// ClassifiedError carries the classification of the last failure seen by a retrier.
type ClassifiedError struct {
	Info     ErrorInfo
	Attempts int
	Err      error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Info.String()
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ClassifiedError) ToServiceError() *goerrors.Error {
	var serviceErr *goerrors.Error
	if converter, ok := e.Err.(interface{ ToServiceError() *goerrors.Error }); ok {
		serviceErr = converter.ToServiceError()
	} else {
		serviceErr = newServiceError(e.Error(), categoryForKind(e.Info.Kind), textCodeForKind(e.Info.Kind))
	}
	return serviceErr.WithMetadata(map[string]any{
		"error_type": string(e.Info.Kind),
		"retryable":  e.Info.Retryable,
		"attempts":   e.Attempts,
	})
}

func categoryForKind(kind ErrorKind) goerrors.Category {
	switch kind {
	case ErrorKindAuth:
		return goerrors.CategoryAuth
	case ErrorKindRateLimit:
		return goerrors.CategoryRateLimit
	case ErrorKindValidation:
		return goerrors.CategoryValidation
	case ErrorKindNetwork, ErrorKindAPI:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

func textCodeForKind(kind ErrorKind) string {
	switch kind {
	case ErrorKindAuth:
		return ServiceErrorReauthRequired
	case ErrorKindRateLimit:
		return ServiceErrorRateLimited
	case ErrorKindValidation:
		return ServiceErrorBadInput
	case ErrorKindNetwork, ErrorKindAPI:
		return ServiceErrorPlatformFailed
	default:
		return ServiceErrorInternal
	}
}

// ToServiceError maps any error to the autoreply error envelope.
func ToServiceError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	var converter interface{ ToServiceError() *goerrors.Error }
	if goerrors.As(err, &converter) {
		if mapped := converter.ToServiceError(); mapped != nil {
			return ensureServiceErrorEnvelope(mapped)
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "oauth state"), strings.Contains(msg, "authorization state"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorOAuthStateInvalid)
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// MissingDependencyError reports a handler that was built without the named
// collaborator.
func MissingDependencyError(scope string, dependency string) error {
	return newServiceError(scope+": "+dependency+" is required", goerrors.CategoryInternal, ServiceErrorInternal)
}

// FieldError rejects one field of an inbound command or query message.
func FieldError(scope string, field string, message string) error {
	return ensureServiceErrorEnvelope(
		goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
			Field:   field,
			Message: message,
		}).WithTextCode(ServiceErrorBadInput),
	)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorReauthRequired
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryExternal:
		return ServiceErrorPlatformFailed
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict, goerrors.CategoryOperation:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
