package gojob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/time/rate"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const defaultRefreshPace = time.Second

// Refresher runs one token refresh and reports whether it succeeded.
type Refresher interface {
	Refresh(ctx context.Context, accountID string) bool
}

// RefreshWorker drains refresh jobs. Jobs that are not yet due go back to the
// queue with the remaining delay; the limiter paces refresh calls.
type RefreshWorker struct {
	dequeuer  queue.Dequeuer
	refresher Refresher
	limiter   *rate.Limiter
	policy    RetryPolicy
	hook      worker.Hook
	logger    core.Logger
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*RefreshWorker)

func WithLimiter(limiter *rate.Limiter) WorkerOption {
	return func(w *RefreshWorker) {
		if limiter != nil {
			w.limiter = limiter
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *RefreshWorker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *RefreshWorker) {
		w.hook = hook
	}
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *RefreshWorker) {
		w.logger = glog.Ensure(logger)
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *RefreshWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewRefreshWorker(dequeuer queue.Dequeuer, refresher Refresher, opts ...WorkerOption) *RefreshWorker {
	w := &RefreshWorker{
		dequeuer:  dequeuer,
		refresher: refresher,
		limiter:   rate.NewLimiter(rate.Every(defaultRefreshPace), 1),
		policy:    DefaultRetryPolicy(),
		logger:    glog.Nop(),
		now:       time.Now,
		attempts:  map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run processes jobs until ctx is cancelled. A worker without a queue or refresher
// fails immediately.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.refresher == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	for {
		err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.logger.Warn("refresh worker iteration failed", "error", err.Error())
		}
	}
}

// RunOnce takes one job and settles it.
func (w *RefreshWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.refresher == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	accountID, notBefore, err := ParseRefreshMessage(msg)
	if err != nil {
		w.logger.Error("dropping malformed refresh job", "error", err.Error())
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	if wait := notBefore.Sub(w.now()); wait > 0 {
		return delivery.Nack(ctx, queue.NackOptions{Requeue: true, Delay: wait, Reason: "not due"})
	}
	if err := w.limiter.Wait(ctx); err != nil {
		if nackErr := delivery.Nack(context.WithoutCancel(ctx), queue.NackOptions{Requeue: true, Reason: "worker stopping"}); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return err
	}

	attempt := w.nextAttempt(msg.IdempotencyKey)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.onStart(ctx, event)

	if w.refresher.Refresh(ctx, accountID) {
		w.clearAttempts(msg.IdempotencyKey)
		event.Duration = w.now().Sub(startedAt)
		if err := delivery.Ack(ctx); err != nil {
			return err
		}
		w.onSuccess(ctx, event)
		return nil
	}

	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Requeue: true,
		Delay:   w.policy.Backoff(attempt),
		Reason:  "refresh failed",
	}, attempt)
	event.Duration = w.now().Sub(startedAt)
	event.Err = fmt.Errorf("gojob: refresh of account %q failed", accountID)
	event.Delay = opts.Delay
	if err := delivery.Nack(ctx, opts); err != nil {
		return err
	}
	if opts.Requeue {
		w.onRetry(ctx, event)
		return nil
	}
	w.clearAttempts(msg.IdempotencyKey)
	w.onFailure(ctx, event)
	return nil
}

func (w *RefreshWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) clearAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func (w *RefreshWorker) onStart(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *RefreshWorker) onSuccess(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *RefreshWorker) onRetry(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

func (w *RefreshWorker) onFailure(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

// ObservabilityHook logs worker events and counts them by outcome.
type ObservabilityHook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewObservabilityHook(logger core.Logger, metrics core.MetricsRecorder) *ObservabilityHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &ObservabilityHook{logger: glog.Ensure(logger), metrics: metrics}
}

func (h *ObservabilityHook) OnStart(ctx context.Context, event worker.Event) {
	h.logger.Debug("refresh job started", h.fields(event)...)
}

func (h *ObservabilityHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.logger.Info("refresh job succeeded", h.fields(event)...)
	h.record(ctx, event, "success")
}

func (h *ObservabilityHook) OnFailure(ctx context.Context, event worker.Event) {
	h.logger.Warn("refresh job failed", h.fields(event)...)
	h.record(ctx, event, "failure")
}

func (h *ObservabilityHook) OnRetry(ctx context.Context, event worker.Event) {
	h.logger.Info("refresh job scheduled for retry", h.fields(event)...)
	h.record(ctx, event, "retry")
}

func (h *ObservabilityHook) record(ctx context.Context, event worker.Event, outcome string) {
	tags := map[string]string{"job": JobIDRefresh, "outcome": outcome}
	h.metrics.IncCounter(ctx, "autoreply.jobs.total", 1, tags)
	if event.Duration > 0 {
		h.metrics.ObserveHistogram(ctx, "autoreply.jobs.duration_ms", float64(event.Duration.Milliseconds()), tags)
	}
}

func (h *ObservabilityHook) fields(event worker.Event) []any {
	fields := map[string]any{"attempt": event.Attempt}
	if accountID := accountFromMessage(event.Message); accountID != "" {
		fields["account_id"] = accountID
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return core.FlattenFields(fields)
}

func accountFromMessage(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	accountID, _ := msg.Parameters[ParamAccountID].(string)
	return accountID
}

var (
	_ worker.Hook = (*ObservabilityHook)(nil)
	_ Refresher   = (*core.Service)(nil)
)
