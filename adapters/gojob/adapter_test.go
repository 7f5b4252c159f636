package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-autoreply/core"
	"golang.org/x/time/rate"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubRefresher struct {
	results map[string]bool
	calls   []string
}

func (s *stubRefresher) Refresh(_ context.Context, accountID string) bool {
	s.calls = append(s.calls, accountID)
	return s.results[accountID]
}

type capturingHook struct {
	starts, successes, failures, retries []worker.Event
}

func (h *capturingHook) OnStart(_ context.Context, e worker.Event)   { h.starts = append(h.starts, e) }
func (h *capturingHook) OnSuccess(_ context.Context, e worker.Event) { h.successes = append(h.successes, e) }
func (h *capturingHook) OnFailure(_ context.Context, e worker.Event) { h.failures = append(h.failures, e) }
func (h *capturingHook) OnRetry(_ context.Context, e worker.Event)   { h.retries = append(h.retries, e) }

type capturingMetrics struct {
	counters map[string]int64
}

func (m *capturingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name+":"+tags["outcome"]] += value
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func newTestQueue(clock *manualClock) *MemoryQueue {
	return NewMemoryQueue(WithQueueClock(clock.Now), WithPollInterval(time.Millisecond))
}

func TestRefreshMessageRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	msg := RefreshMessage(" acct_1 ", at)
	if msg.JobID != JobIDRefresh || msg.IdempotencyKey != "autoreply.refresh:acct_1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	accountID, notBefore, err := ParseRefreshMessage(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if accountID != "acct_1" || !notBefore.Equal(at) {
		t.Fatalf("unexpected parse result %q %s", accountID, notBefore)
	}

	if _, _, err := ParseRefreshMessage(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job id to be rejected")
	}
	if _, _, err := ParseRefreshMessage(&job.ExecutionMessage{JobID: JobIDRefresh}); err == nil {
		t.Fatalf("expected missing account to be rejected")
	}
}

func TestRefreshScheduler_ReplacesPendingJobForAccount(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(clock)
	scheduler := NewRefreshScheduler(q)

	ctx := context.Background()
	if err := scheduler.ScheduleRefresh(ctx, "acct_1", clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	later := clock.Now().Add(2 * time.Hour)
	if err := scheduler.ScheduleRefresh(ctx, "acct_1", later); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if err := scheduler.ScheduleRefresh(ctx, "acct_2", later); err != nil {
		t.Fatalf("schedule second account: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected one pending job per account, got %d", q.Len())
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	_, notBefore, err := ParseRefreshMessage(delivery.Message())
	if err != nil || !notBefore.Equal(later) {
		t.Fatalf("expected replaced schedule %s, got %s err=%v", later, notBefore, err)
	}
}

func TestRefreshScheduler_RequiresEnqueuerAndAccount(t *testing.T) {
	if err := NewRefreshScheduler(nil).ScheduleRefresh(context.Background(), "acct_1", time.Now()); err == nil {
		t.Fatalf("expected missing enqueuer error")
	}
	if err := NewRefreshScheduler(NewMemoryQueue()).ScheduleRefresh(context.Background(), " ", time.Now()); err == nil {
		t.Fatalf("expected missing account error")
	}
}

func TestRefreshWorker_RequeuesJobsThatAreNotDue(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(clock)
	refresher := &stubRefresher{results: map[string]bool{"acct_1": true}}
	w := NewRefreshWorker(q, refresher, WithClock(clock.Now), WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	ctx := context.Background()
	if err := NewRefreshScheduler(q).ScheduleRefresh(ctx, "acct_1", clock.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(refresher.calls) != 0 || q.Len() != 1 {
		t.Fatalf("expected job requeued without refresh, calls=%v pending=%d", refresher.calls, q.Len())
	}

	clock.Advance(10 * time.Minute)
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once after due: %v", err)
	}
	if len(refresher.calls) != 1 || refresher.calls[0] != "acct_1" {
		t.Fatalf("expected refresh after schedule, got %v", refresher.calls)
	}
	if q.Len() != 0 {
		t.Fatalf("expected acked job to leave queue, pending=%d", q.Len())
	}
}

func TestRefreshWorker_RetriesWithinPolicyThenDeadLetters(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(clock)
	refresher := &stubRefresher{results: map[string]bool{}}
	hook := &capturingHook{}
	w := NewRefreshWorker(q, refresher,
		WithClock(clock.Now),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithHook(hook),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Minute, MaxDelay: 5 * time.Minute, DeadLetterOnMax: true}),
	)

	ctx := context.Background()
	if err := NewRefreshScheduler(q).ScheduleRefresh(ctx, "acct_1", clock.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if len(hook.retries) != 1 || hook.retries[0].Delay != time.Minute {
		t.Fatalf("expected retry after one minute, got %+v", hook.retries)
	}

	clock.Advance(time.Minute)
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(hook.failures) != 1 || hook.failures[0].Attempt != 2 {
		t.Fatalf("expected terminal failure on attempt 2, got %+v", hook.failures)
	}
	if len(q.DeadLetters()) != 1 || q.Len() != 0 {
		t.Fatalf("expected dead letter, dead=%d pending=%d", len(q.DeadLetters()), q.Len())
	}
	if len(hook.starts) != 2 {
		t.Fatalf("expected two start events, got %d", len(hook.starts))
	}
}

func TestRefreshWorker_DeadLettersMalformedJobs(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Enqueue(context.Background(), &job.ExecutionMessage{JobID: JobIDRefresh}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := NewRefreshWorker(q, &stubRefresher{}, WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(q.DeadLetters()) != 1 {
		t.Fatalf("expected malformed job in dead letters")
	}
}

func TestRefreshWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewRefreshWorker(NewMemoryQueue(WithPollInterval(time.Millisecond)), &stubRefresher{})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestMemoryDelivery_SettlesOnce(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	_ = q.Enqueue(ctx, RefreshMessage("acct_1", time.Time{}))
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true}); err == nil {
		t.Fatalf("expected second settle to fail")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if opts.Delay != 10*time.Second || !opts.Requeue || opts.Reason != "transient" {
		t.Fatalf("unexpected normalized options %+v", opts)
	}

	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", opts)
	}

	if got := (RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}).Backoff(4); got != 5*time.Second {
		t.Fatalf("expected capped backoff, got %s", got)
	}
}

func TestObservabilityHook_CountsOutcomes(t *testing.T) {
	metrics := &capturingMetrics{}
	hook := NewObservabilityHook(nil, metrics)
	event := worker.Event{Message: RefreshMessage("acct_1", time.Time{}), Attempt: 1, Duration: 5 * time.Millisecond}

	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)
	event.Err = errors.New("boom")
	hook.OnRetry(context.Background(), event)
	hook.OnFailure(context.Background(), event)

	for _, outcome := range []string{"success", "retry", "failure"} {
		if metrics.counters["autoreply.jobs.total:"+outcome] != 1 {
			t.Fatalf("expected one %s count, got %v", outcome, metrics.counters)
		}
	}
}

var _ core.MetricsRecorder = (*capturingMetrics)(nil)

func TestRefreshWorker_RunFailsWhenNotConfigured(t *testing.T) {
	w := NewRefreshWorker(nil, &stubRefresher{})
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected configuration error")
	}
}
