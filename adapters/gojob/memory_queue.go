package gojob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const defaultPollInterval = time.Second

type queueEntry struct {
	msg     *job.ExecutionMessage
	readyAt time.Time
	seq     uint64
}

// MemoryQueue is an in-process go-job queue. Messages with DedupReplace
// overwrite a pending message carrying the same idempotency key.
type MemoryQueue struct {
	mu           sync.Mutex
	pending      []*queueEntry
	deadLetters  []*job.ExecutionMessage
	seq          uint64
	notify       chan struct{}
	now          func() time.Time
	pollInterval time.Duration
}

type MemoryQueueOption func(*MemoryQueue)

func WithQueueClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithPollInterval(interval time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if interval > 0 {
			q.pollInterval = interval
		}
	}
}

func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		notify:       make(chan struct{}, 1),
		now:          time.Now,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.push(cloneMessage(msg), q.now())
	return nil
}

func (q *MemoryQueue) push(msg *job.ExecutionMessage, readyAt time.Time) {
	q.mu.Lock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	replaced := false
	if key != "" && msg.DedupPolicy == DedupReplace {
		for _, entry := range q.pending {
			if entry.msg.IdempotencyKey == key {
				entry.msg = msg
				entry.readyAt = readyAt
				replaced = true
				break
			}
		}
	}
	if !replaced {
		q.seq++
		q.pending = append(q.pending, &queueEntry{msg: msg, readyAt: readyAt, seq: q.seq})
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a message is ready or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		entry, wait := q.takeReady()
		if entry != nil {
			return &memoryDelivery{queue: q, msg: entry.msg}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) takeReady() (*queueEntry, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	sort.SliceStable(q.pending, func(i, j int) bool {
		if !q.pending[i].readyAt.Equal(q.pending[j].readyAt) {
			return q.pending[i].readyAt.Before(q.pending[j].readyAt)
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	wait := q.pollInterval
	if len(q.pending) > 0 {
		head := q.pending[0]
		if !head.readyAt.After(now) {
			q.pending = q.pending[1:]
			return head, 0
		}
		if until := head.readyAt.Sub(now); until < wait {
			wait = until
		}
	}
	return nil, wait
}

// Len reports pending messages, including delayed ones.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	mu    sync.Mutex
	done  bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.settle()
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	switch {
	case opts.DeadLetter:
		d.queue.mu.Lock()
		d.queue.deadLetters = append(d.queue.deadLetters, d.msg)
		d.queue.mu.Unlock()
	case opts.Requeue:
		delay := opts.Delay
		if delay < 0 {
			delay = 0
		}
		d.queue.push(d.msg, d.queue.now().Add(delay))
	}
	return nil
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.done = true
	return nil
}

func cloneMessage(msg *job.ExecutionMessage) *job.ExecutionMessage {
	next := *msg
	next.JobID = strings.TrimSpace(msg.JobID)
	next.ScriptPath = strings.TrimSpace(msg.ScriptPath)
	next.IdempotencyKey = strings.TrimSpace(msg.IdempotencyKey)
	next.Parameters = copyAnyMap(msg.Parameters)
	return &next
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
