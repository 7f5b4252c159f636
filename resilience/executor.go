package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
)

// RetryConfig bounds Execute. MaxAttempts counts the first call.
type RetryConfig struct {
	MaxAttempts        int           `json:"maxRetries"`
	BaseDelay          time.Duration `json:"baseDelay"`
	MaxDelay           time.Duration `json:"maxDelay"`
	ExponentialBackoff bool          `json:"exponentialBackoff"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:        defaultMaxAttempts,
		BaseDelay:          defaultBaseDelay,
		MaxDelay:           defaultMaxDelay,
		ExponentialBackoff: true,
	}
}

// RetryConfigFrom converts service configuration, keeping defaults for unset fields.
func RetryConfigFrom(cfg core.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		out.MaxAttempts = cfg.MaxRetries
	}
	if delay := cfg.BaseDelay(); delay > 0 {
		out.BaseDelay = delay
	}
	if delay := cfg.MaxDelay(); delay > 0 {
		out.MaxDelay = delay
	}
	out.ExponentialBackoff = cfg.ExponentialBackoff
	return out
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	return c
}

// Delay is the pause after the given failed attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.normalized()
	if !c.ExponentialBackoff {
		return c.BaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

type Option func(*Executor)

func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Executor) {
		e.config = cfg.normalized()
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithErrorLog(log *ErrorLog) Option {
	return func(e *Executor) {
		if log != nil {
			e.errorLog = log
		}
	}
}

// Executor runs outbound calls with bounded retry and records every classified
// failure.
type Executor struct {
	mu       sync.RWMutex
	config   RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	logger   core.Logger
	errorLog *ErrorLog
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		config: DefaultRetryConfig(),
		sleep:  sleepContext,
		now:    func() time.Time { return time.Now().UTC() },
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	if e.errorLog == nil {
		e.errorLog = NewErrorLog(nil, e.logger)
	}
	return e
}

func (e *Executor) Config() RetryConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

func (e *Executor) SetConfig(cfg RetryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg.normalized()
}

func (e *Executor) ErrorLog() *ErrorLog {
	return e.errorLog
}

func (e *Executor) Classify(err error) core.ErrorInfo {
	return Classify(err, e.now())
}

// Execute calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Failures come back as *core.ClassifiedError wrapping
// the last error op returned.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error, ec core.ErrorContext) error {
	if op == nil {
		return fmt.Errorf("resilience: operation is required")
	}
	cfg := e.Config()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}

		info := e.Classify(err)
		e.record(ctx, info, ec, attempt, cfg.MaxAttempts)
		failure := &core.ClassifiedError{Info: info, Attempts: attempt, Err: err}
		if !info.Retryable || attempt >= cfg.MaxAttempts {
			return failure
		}

		delay := cfg.Delay(attempt)
		e.logger.Debug("retrying after failure", "attempt", attempt, "delay_ms", delay.Milliseconds())
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return errors.Join(failure, sleepErr)
		}
	}
}

func (e *Executor) record(ctx context.Context, info core.ErrorInfo, ec core.ErrorContext, attempt, maxAttempts int) {
	fields := ec.Fields()
	fields["error_type"] = string(info.Kind)
	fields["retryable"] = info.Retryable
	fields["attempt"] = attempt
	fields["max_attempts"] = maxAttempts
	if info.StatusCode > 0 {
		fields["status_code"] = info.StatusCode
	}
	fields["error"] = info.Message

	args := core.FlattenFields(fields)
	if info.Retryable && attempt < maxAttempts {
		e.logger.Warn("outbound call failed", args...)
	} else {
		e.logger.Error("outbound call failed", args...)
	}
	e.errorLog.Append(ctx, info, ec)
}

// OnAuthError drops the account's credentials and reports that the account must
// re-authorize. Invalidation failures are logged; the result is always a
// *core.ReauthRequiredError.
func (e *Executor) OnAuthError(ctx context.Context, ec core.ErrorContext, invalidator core.CredentialInvalidator) error {
	accountID := strings.TrimSpace(ec.AccountID)
	var cause error
	if accountID != "" && invalidator != nil {
		if err := invalidator.InvalidateCredentials(ctx, accountID); err != nil {
			cause = err
			e.logger.Error("credential invalidation failed", "account_id", accountID, "error", err.Error())
		} else {
			e.logger.Info("credentials invalidated after auth failure", "account_id", accountID)
		}
	}
	return &core.ReauthRequiredError{AccountID: accountID, Platform: ec.Platform, Err: cause}
}

// RateLimitOutcome reports how long OnRateLimitError waited.
type RateLimitOutcome struct {
	ShouldRetry bool          `json:"shouldRetry"`
	RetryAfter  time.Duration `json:"retryAfter"`
}

// OnRateLimitError waits out a rate limit hint, falling back to one minute.
func (e *Executor) OnRateLimitError(ctx context.Context, info core.ErrorInfo) (RateLimitOutcome, error) {
	wait := info.RetryAfter
	if wait <= 0 {
		if parsed, ok := ParseWait(info.Message); ok {
			wait = parsed
		} else {
			wait = DefaultRateLimitWait
		}
	}
	e.logger.Warn("rate limited, waiting", "wait_ms", wait.Milliseconds())
	if err := e.sleep(ctx, wait); err != nil {
		return RateLimitOutcome{RetryAfter: wait}, err
	}
	return RateLimitOutcome{ShouldRetry: true, RetryAfter: wait}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ core.Retrier = (*Executor)(nil)
