package core

import (
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := serviceErrorMapper(stderrors.New("core: oauth state not found"))
	if mapped.TextCode != ServiceErrorOAuthStateInvalid {
		t.Fatalf("expected oauth state text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", mapped.Code)
	}

	mapped = serviceErrorMapper(&RateLimitExceededError{
		Scope:      RateLimitScopeGlobal,
		RetryAfter: 30 * time.Second,
	})
	if mapped.TextCode != ServiceErrorRateLimited || mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limited envelope, got %q/%d", mapped.TextCode, mapped.Code)
	}
	if mapped.Metadata["retry_after"] != 30 {
		t.Fatalf("expected retry_after metadata, got %#v", mapped.Metadata["retry_after"])
	}

	mapped = serviceErrorMapper(&UnsupportedPlatformError{Platform: "myspace"})
	if mapped.TextCode != ServiceErrorUnsupportedPlatform || mapped.Category != goerrors.CategoryBadInput {
		t.Fatalf("unexpected unsupported platform envelope %q/%q", mapped.TextCode, mapped.Category)
	}
}

func TestHTTPStatusError_ToServiceErrorMapsUpstreamStatus(t *testing.T) {
	cases := []struct {
		status   int
		category goerrors.Category
		textCode string
	}{
		{status: 401, category: goerrors.CategoryAuth, textCode: ServiceErrorReauthRequired},
		{status: 429, category: goerrors.CategoryRateLimit, textCode: ServiceErrorRateLimited},
		{status: 422, category: goerrors.CategoryValidation, textCode: ServiceErrorBadInput},
		{status: 503, category: goerrors.CategoryExternal, textCode: ServiceErrorPlatformFailed},
	}
	for _, tc := range cases {
		mapped := (&HTTPStatusError{Status: tc.status}).ToServiceError()
		if mapped.Category != tc.category || mapped.TextCode != tc.textCode {
			t.Fatalf("status %d: expected %q/%q, got %q/%q", tc.status, tc.category, tc.textCode, mapped.Category, mapped.TextCode)
		}
		if mapped.Metadata["upstream_status"] != tc.status {
			t.Fatalf("status %d: expected upstream status metadata", tc.status)
		}
	}
}

func TestRateLimitExceededError_MessageCarriesSeconds(t *testing.T) {
	err := &RateLimitExceededError{
		Scope:      RateLimitScopeAccount,
		AccountID:  "acc_1",
		Platform:   PlatformLINE,
		RetryAfter: 59*time.Second + time.Millisecond,
	}
	want := "ratelimit: rate limit reached for acc_1 on line, retry in 60 seconds"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestClassifiedError_PreservesUnderlyingEnvelope(t *testing.T) {
	inner := &HTTPStatusError{Status: 429, Message: "slow down"}
	classified := &ClassifiedError{
		Info:     ErrorInfo{Kind: ErrorKindRateLimit, Retryable: true},
		Attempts: 3,
		Err:      inner,
	}
	var statusErr *HTTPStatusError
	if !stderrors.As(classified, &statusErr) {
		t.Fatalf("expected wrapped status error")
	}
	mapped := serviceErrorMapper(classified)
	if mapped.TextCode != ServiceErrorRateLimited {
		t.Fatalf("expected rate limited text code, got %q", mapped.TextCode)
	}
	if mapped.Metadata["attempts"] != 3 || mapped.Metadata["error_type"] != string(ErrorKindRateLimit) {
		t.Fatalf("unexpected metadata %#v", mapped.Metadata)
	}
}

func TestFieldError_IsBadRequestEnvelope(t *testing.T) {
	var rich *goerrors.Error
	if !goerrors.As(FieldError("command", "state", "state is required"), &rich) {
		t.Fatalf("expected go-errors envelope")
	}
	if rich.Category != goerrors.CategoryValidation || rich.Code != http.StatusBadRequest || rich.TextCode != ServiceErrorBadInput {
		t.Fatalf("unexpected envelope %v %d %q", rich.Category, rich.Code, rich.TextCode)
	}
}

func TestMissingDependencyError_IsInternal(t *testing.T) {
	var rich *goerrors.Error
	if !goerrors.As(MissingDependencyError("query", "error log"), &rich) {
		t.Fatalf("expected go-errors envelope")
	}
	if rich.Code != http.StatusInternalServerError || rich.Message != "query: error log is required" {
		t.Fatalf("unexpected envelope %d %q", rich.Code, rich.Message)
	}
}
