package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDRefresh = "autoreply.refresh"

	ParamAccountID = "account_id"
	ParamNotBefore = "not_before"

	// DedupReplace swaps a pending message that shares the idempotency key.
	DedupReplace job.DeduplicationPolicy = "replace"
)

// RetryPolicy bounds redelivery of failed refresh jobs.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// DefaultRetryPolicy allows a single attempt: the orchestrator drops a
// connection whose refresh fails, leaving nothing for a retry to refresh.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   30 * time.Second,
		MaxDelay:    10 * time.Minute,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	return out
}

// Backoff doubles BaseDelay per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// RefreshMessage builds the go-job message that asks a worker to refresh
// accountID no earlier than notBefore.
func RefreshMessage(accountID string, notBefore time.Time) *job.ExecutionMessage {
	accountID = strings.TrimSpace(accountID)
	params := map[string]any{ParamAccountID: accountID}
	if !notBefore.IsZero() {
		params[ParamNotBefore] = notBefore.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDRefresh,
		ScriptPath:     JobIDRefresh,
		Parameters:     params,
		IdempotencyKey: JobIDRefresh + ":" + accountID,
		DedupPolicy:    DedupReplace,
	}
}

// ParseRefreshMessage reads the account and schedule back out of a refresh job.
func ParseRefreshMessage(msg *job.ExecutionMessage) (string, time.Time, error) {
	if msg == nil {
		return "", time.Time{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRefresh {
		return "", time.Time{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	accountID, _ := msg.Parameters[ParamAccountID].(string)
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, fmt.Errorf("gojob: refresh job is missing %s", ParamAccountID)
	}
	var notBefore time.Time
	if raw, ok := msg.Parameters[ParamNotBefore].(string); ok && strings.TrimSpace(raw) != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("gojob: parse %s: %w", ParamNotBefore, err)
		}
		notBefore = parsed
	}
	return accountID, notBefore, nil
}

// RefreshScheduler enqueues refresh jobs for the orchestrator.
type RefreshScheduler struct {
	enqueuer queue.Enqueuer
}

func NewRefreshScheduler(enqueuer queue.Enqueuer) *RefreshScheduler {
	return &RefreshScheduler{enqueuer: enqueuer}
}

func (s *RefreshScheduler) ScheduleRefresh(ctx context.Context, accountID string, at time.Time) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("gojob: account id is required")
	}
	return s.enqueuer.Enqueue(ctx, RefreshMessage(accountID, at))
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.RefreshScheduler = (*RefreshScheduler)(nil)
