package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-autoreply/core"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCollections(t *testing.T) (*Collections, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	seq := 0
	collections, err := NewCollections(kv,
		WithNow(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("new collections: %v", err)
	}
	return collections, kv
}

func TestCollections_SettingsDefaultsAndMerge(t *testing.T) {
	ctx := context.Background()
	collections, _ := newTestCollections(t)

	settings, err := collections.Settings(ctx)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings != DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", settings)
	}

	updated, err := collections.UpdateSettings(ctx, map[string]any{"theme": "dark", "backupInterval": 12})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if updated.Theme != "dark" || updated.BackupInterval != 12 || updated.Language != "zh-TW" || !updated.Notifications {
		t.Fatalf("unexpected merged settings %+v", updated)
	}

	if _, err := collections.UpdateSettings(ctx, map[string]any{"theme": "neon"}); err == nil {
		t.Fatalf("expected invalid theme to be rejected")
	}
}

func TestCollections_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	collections, _ := newTestCollections(t)

	account, err := collections.AddAccount(ctx, Account{Platform: "Instagram", Username: "mybrand_ig"})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	if account.ID != "id-1" || account.Platform != core.PlatformInstagram || account.Status != core.AccountStatusActive {
		t.Fatalf("unexpected account %+v", account)
	}
	if !account.CreatedAt.Equal(fixedNow) {
		t.Fatalf("expected createdAt stamped, got %s", account.CreatedAt)
	}

	if err := collections.UpdateAccount(ctx, account.ID, func(a *Account) { a.Username = "renamed" }); err != nil {
		t.Fatalf("update account: %v", err)
	}
	if err := collections.UpdateAccount(ctx, "missing", func(a *Account) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := collections.UpdateAccount(ctx, account.ID, func(a *Account) { a.ID = "other" }); err == nil {
		t.Fatalf("expected id change to be rejected")
	}

	if err := collections.SetAccountStatus(ctx, account.ID, core.AccountStatusConnected); err != nil {
		t.Fatalf("set status: %v", err)
	}
	refs, err := collections.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(refs) != 1 || refs[0].Username != "renamed" || refs[0].Status != core.AccountStatusConnected {
		t.Fatalf("unexpected refs %+v", refs)
	}

	if err := collections.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	accounts, _ := collections.Accounts(ctx)
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts, got %d", len(accounts))
	}
}

func TestCollections_ValidatesEntities(t *testing.T) {
	ctx := context.Background()
	collections, _ := newTestCollections(t)

	if _, err := collections.AddAccount(ctx, Account{Platform: "line"}); err == nil {
		t.Fatalf("expected missing username to fail")
	}
	if _, err := collections.AddRule(ctx, Rule{Name: "greet", ReplyContent: "hi"}); err == nil {
		t.Fatalf("expected rule without keywords to fail")
	}
	if _, err := collections.AddSchedule(ctx, Schedule{Name: "work", StartTime: "9am", EndTime: "18:00", Days: []string{"monday"}}); err == nil {
		t.Fatalf("expected malformed start time to fail")
	}
	if _, err := collections.AddSchedule(ctx, Schedule{Name: "work", StartTime: "09:00", EndTime: "18:00", Days: []string{"someday"}}); err == nil {
		t.Fatalf("expected unknown day to fail")
	}

	schedule, err := collections.AddSchedule(ctx, Schedule{Name: "work", StartTime: "09:00", EndTime: "18:00", Days: []string{"monday", "friday"}})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	if schedule.Status != "active" {
		t.Fatalf("expected default active status, got %q", schedule.Status)
	}
	template, err := collections.AddTemplate(ctx, Template{Name: "greeting", Content: "Hello!"})
	if err != nil {
		t.Fatalf("add template: %v", err)
	}
	if err := collections.UpdateTemplate(ctx, template.ID, func(tpl *Template) { tpl.UsageCount = -1 }); err == nil {
		t.Fatalf("expected negative usage count to fail")
	}
}

func TestCollections_LogsNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	collections, _ := newTestCollections(t)

	seed := make([]LogEntry, 0, maxLogEntries)
	for i := 0; i < maxLogEntries; i++ {
		seed = append(seed, LogEntry{ID: fmt.Sprintf("old-%d", i), Platform: core.PlatformLINE, Message: "m", Timestamp: fixedNow.Add(-time.Hour), Status: "sent"})
	}
	if err := collections.SaveLogs(ctx, seed); err != nil {
		t.Fatalf("seed logs: %v", err)
	}

	entry, err := collections.AddLog(ctx, LogEntry{Platform: core.PlatformInstagram, Message: "hello", Status: "sent"})
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	if entry.ID == "" || !entry.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected id and timestamp stamped, got %+v", entry)
	}

	logs, err := collections.Logs(ctx)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != maxLogEntries {
		t.Fatalf("expected %d logs, got %d", maxLogEntries, len(logs))
	}
	if logs[0].ID != entry.ID || logs[len(logs)-1].ID != "old-998" {
		t.Fatalf("expected newest first and oldest dropped, got %q..%q", logs[0].ID, logs[len(logs)-1].ID)
	}

	if err := collections.ClearLogs(ctx); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	logs, _ = collections.Logs(ctx)
	if len(logs) != 0 {
		t.Fatalf("expected no logs after clear")
	}
}

func TestCollections_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source, _ := newTestCollections(t)
	if _, err := source.AddAccount(ctx, Account{Platform: "facebook", Username: "mybrand_fb"}); err != nil {
		t.Fatalf("add account: %v", err)
	}
	if _, err := source.AddRule(ctx, Rule{Name: "price", Keywords: []string{"price"}, ReplyContent: "see pricing"}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	exported, err := source.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !exported.ExportDate.Equal(fixedNow) || len(exported.Accounts) != 1 || len(exported.Rules) != 1 {
		t.Fatalf("unexpected export %+v", exported)
	}

	target, _ := newTestCollections(t)
	if err := target.Import(ctx, exported); err != nil {
		t.Fatalf("import: %v", err)
	}
	rules, _ := target.Rules(ctx)
	if len(rules) != 1 || rules[0].Name != "price" {
		t.Fatalf("unexpected imported rules %+v", rules)
	}

	bad := ExportData{Accounts: []Account{{Platform: "line"}}}
	if err := target.Import(ctx, bad); err == nil {
		t.Fatalf("expected invalid import to fail")
	}
	accounts, _ := target.Accounts(ctx)
	if len(accounts) != 1 {
		t.Fatalf("failed import must not write, got %d accounts", len(accounts))
	}
}

func TestCollections_ClearAllUsageAndAvailability(t *testing.T) {
	ctx := context.Background()
	collections, kv := newTestCollections(t)
	if _, err := collections.AddTemplate(ctx, Template{Name: "t", Content: "c"}); err != nil {
		t.Fatalf("add template: %v", err)
	}
	_ = kv.Set(ctx, "secure_token_acct", "blob")

	usage, err := collections.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	raw, _, _ := kv.Get(ctx, TemplatesKey)
	if usage.Used != len(raw) || usage.Total != StorageBudgetBytes {
		t.Fatalf("unexpected usage %+v", usage)
	}
	available, _ := collections.StorageAvailable(ctx)
	if !available {
		t.Fatalf("expected storage available")
	}

	_ = kv.Set(ctx, LogsKey, strings.Repeat("x", StorageBudgetBytes))
	available, _ = collections.StorageAvailable(ctx)
	if available {
		t.Fatalf("expected storage exhausted")
	}

	if err := collections.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, TemplatesKey); ok {
		t.Fatalf("expected templates removed")
	}
	if _, ok, _ := kv.Get(ctx, "secure_token_acct"); !ok {
		t.Fatalf("clear all must leave credentials alone")
	}
}

func TestCollections_Stats(t *testing.T) {
	ctx := context.Background()
	collections, _ := newTestCollections(t)
	_, _ = collections.AddAccount(ctx, Account{Platform: "line", Username: "a"})
	_, _ = collections.AddAccount(ctx, Account{Platform: "line", Username: "b", Status: core.AccountStatusInactive})
	_, _ = collections.AddRule(ctx, Rule{Name: "r", Keywords: []string{"k"}, ReplyContent: "c"})
	_, _ = collections.AddLog(ctx, LogEntry{Platform: core.PlatformLINE, Message: "1", Status: "sent"})
	_, _ = collections.AddLog(ctx, LogEntry{Platform: core.PlatformLINE, Message: "2", Status: "failed"})
	_, _ = collections.AddLog(ctx, LogEntry{Platform: core.PlatformLINE, Message: "3", Status: "sent", Timestamp: fixedNow.AddDate(0, 0, -1)})

	stats, err := collections.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{
		TotalAccounts:  2,
		ActiveAccounts: 1,
		TotalRules:     1,
		ActiveRules:    1,
		TodayReplies:   2,
		TotalReplies:   3,
		ReplyRate:      50,
	}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}
