package resilience

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ErrorLogStorageKey = "error_log"

	errorLogCapacity   = 100
	errorLogTrimTo     = 50
	defaultRecentLimit = 50
	statsRecentEntries = 10
	errorLogDateLayout = "2006-01-02"
)

// Record is one classified failure with the call it came from.
type Record struct {
	core.ErrorInfo
	Context core.ErrorContext `json:"context"`
}

type ErrorStats struct {
	Total  int                    `json:"total"`
	ByKind map[core.ErrorKind]int `json:"byType"`
	ByDate map[string]int         `json:"byDate"`
	Recent []Record               `json:"recent"`
}

// ErrorLog keeps the most recent classified failures in memory. Once it grows
// past 100 entries it keeps only the newest 50. Every change is mirrored to the
// key value store when one is configured; mirror failures are logged and ignored.
type ErrorLog struct {
	mu      sync.Mutex
	entries []Record
	store   core.KeyValueStore
	logger  core.Logger
}

func NewErrorLog(store core.KeyValueStore, logger core.Logger) *ErrorLog {
	if logger == nil {
		logger = glog.Nop()
	}
	return &ErrorLog{store: store, logger: logger}
}

// Load restores entries previously mirrored to the store.
func (l *ErrorLog) Load(ctx context.Context) error {
	if l == nil || l.store == nil {
		return nil
	}
	raw, ok, err := l.store.Get(ctx, ErrorLogStorageKey)
	if err != nil || !ok || raw == "" {
		return err
	}
	var entries []Record
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		l.logger.Warn("stored error log unreadable, starting empty", "error", err.Error())
		return nil
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

func (l *ErrorLog) Append(ctx context.Context, info core.ErrorInfo, ec core.ErrorContext) {
	if l == nil {
		return
	}
	if info.Timestamp.IsZero() {
		info.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, Record{ErrorInfo: info, Context: ec})
	if len(l.entries) > errorLogCapacity {
		l.entries = append([]Record(nil), l.entries[len(l.entries)-errorLogTrimTo:]...)
	}
	snapshot := append([]Record(nil), l.entries...)
	l.mu.Unlock()

	l.persist(ctx, snapshot)
}

func (l *ErrorLog) persist(ctx context.Context, entries []Record) {
	if l.store == nil {
		return
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		l.logger.Warn("error log encode failed", "error", err.Error())
		return
	}
	if err := l.store.Set(ctx, ErrorLogStorageKey, string(encoded)); err != nil {
		l.logger.Warn("error log persist failed", "error", err.Error())
	}
}

// Recent returns up to limit of the newest entries, oldest first. A limit of zero
// or less means 50.
func (l *ErrorLog) Recent(limit int) []Record {
	if l == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.entries, limit)
}

func (l *ErrorLog) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *ErrorLog) Clear(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	if l.store == nil {
		return
	}
	if err := l.store.Delete(ctx, ErrorLogStorageKey); err != nil {
		l.logger.Warn("error log clear failed", "error", err.Error())
	}
}

func (l *ErrorLog) Stats() ErrorStats {
	stats := ErrorStats{
		ByKind: map[core.ErrorKind]int{},
		ByDate: map[string]int{},
	}
	if l == nil {
		return stats
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stats.Total = len(l.entries)
	for _, entry := range l.entries {
		stats.ByKind[entry.Kind]++
		stats.ByDate[entry.Timestamp.UTC().Format(errorLogDateLayout)]++
	}
	stats.Recent = tail(l.entries, statsRecentEntries)
	return stats
}

func tail(entries []Record, limit int) []Record {
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]Record(nil), entries...)
}
