package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
)

const DefaultRateLimitWait = time.Minute

var (
	secondsPattern = regexp.MustCompile(`(?i)(\d+)\s*(seconds|second|secs|sec|秒)`)
	minutesPattern = regexp.MustCompile(`(?i)(\d+)\s*(minutes|minute|mins|min|分鐘)`)
)

type statusCoder interface {
	StatusCode() int
}

type retryAfterer interface {
	RetryAfterSeconds() int
}

// Classify maps an error onto an ErrorInfo. Checks run in a fixed order and the
// first match wins; a status code always takes precedence over message text.
func Classify(err error, now time.Time) core.ErrorInfo {
	info := core.ErrorInfo{
		Kind:      core.ErrorKindUnknown,
		Timestamp: now.UTC(),
	}
	if err == nil {
		return info
	}
	info.Message = err.Error()

	var classified *core.ClassifiedError
	if errors.As(err, &classified) && classified.Info.Kind != "" {
		out := classified.Info
		if out.Timestamp.IsZero() {
			out.Timestamp = info.Timestamp
		}
		return out
	}

	if isTransportError(err) {
		info.Kind = core.ErrorKindNetwork
		info.Retryable = true
		return info
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		info.StatusCode = coder.StatusCode()
	}
	message := strings.ToLower(info.Message)

	switch status := info.StatusCode; {
	case status == 401 || status == 403:
		info.Kind = core.ErrorKindAuth
		return info
	case status == 429:
		info.Kind = core.ErrorKindRateLimit
		info.Retryable = true
		info.RetryAfter = rateLimitWait(err, info.Message)
		return info
	}

	var limited *core.RateLimitExceededError
	if errors.As(err, &limited) || strings.Contains(message, "rate limit") || strings.Contains(message, "quota") {
		info.Kind = core.ErrorKindRateLimit
		info.Retryable = true
		info.RetryAfter = rateLimitWait(err, info.Message)
		return info
	}

	switch status := info.StatusCode; {
	case status == 400 || status == 422:
		info.Kind = core.ErrorKindValidation
		return info
	case status >= 500:
		info.Kind = core.ErrorKindAPI
		info.Retryable = true
		return info
	}

	if strings.Contains(message, "unauthorized") || strings.Contains(message, "invalid token") {
		info.Kind = core.ErrorKindAuth
		return info
	}
	if info.StatusCode > 0 {
		info.Kind = core.ErrorKindAPI
	}
	return info
}

func isTransportError(err error) bool {
	var networkErr *core.NetworkError
	if errors.As(err, &networkErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func rateLimitWait(err error, message string) time.Duration {
	var hinted retryAfterer
	if errors.As(err, &hinted) {
		if seconds := hinted.RetryAfterSeconds(); seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if wait, ok := ParseWait(message); ok {
		return wait
	}
	return DefaultRateLimitWait
}

// ParseWait extracts a wait hint such as "retry in 30 seconds" or "請等待 5 分鐘".
// Seconds are checked before minutes.
func ParseWait(message string) (time.Duration, bool) {
	if match := secondsPattern.FindStringSubmatch(message); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			return time.Duration(n) * time.Second, true
		}
	}
	if match := minutesPattern.FindStringSubmatch(message); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			return time.Duration(n) * time.Minute, true
		}
	}
	return 0, false
}
