package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	StorageBudgetBytes = 5 * 1024 * 1024
	maxLogEntries      = 1000
	availableThreshold = 90.0
)

var ErrNotFound = errors.New("store: record not found")

var validate = validator.New()

type Option func(*Collections)

func WithNow(now func() time.Time) Option {
	return func(c *Collections) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Collections) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIDGenerator replaces the uuid generator used for new records.
func WithIDGenerator(next func() string) Option {
	return func(c *Collections) {
		if next != nil {
			c.newID = next
		}
	}
}

// Collections persists the autoreply entities. Each collection lives under its
// own key as one JSON array and every write rewrites the whole array.
type Collections struct {
	kv     core.KeyValueStore
	now    func() time.Time
	newID  func() string
	logger core.Logger

	mu sync.Mutex
}

func NewCollections(kv core.KeyValueStore, opts ...Option) (*Collections, error) {
	if kv == nil {
		return nil, fmt.Errorf("store: key value store is required")
	}
	c := &Collections{
		kv:     kv,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

func loadList[T any](ctx context.Context, kv core.KeyValueStore, key string) ([]T, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func saveList[T any](ctx context.Context, kv core.KeyValueStore, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, string(encoded)); err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}

func validateAll[T any](items []T) error {
	for i := range items {
		if err := validate.Struct(items[i]); err != nil {
			return fmt.Errorf("store: item %d: %w", i, err)
		}
	}
	return nil
}

// updateItem applies fn to the item whose id matches and saves the collection.
func updateItem[T any](ctx context.Context, kv core.KeyValueStore, key, id string, idOf func(*T) string, fn func(*T)) error {
	items, err := loadList[T](ctx, kv, key)
	if err != nil {
		return err
	}
	for i := range items {
		if idOf(&items[i]) != id {
			continue
		}
		fn(&items[i])
		if idOf(&items[i]) != id {
			return fmt.Errorf("store: %s id %q cannot change", key, id)
		}
		if err := validate.Struct(items[i]); err != nil {
			return fmt.Errorf("store: invalid %s update: %w", key, err)
		}
		return saveList(ctx, kv, key, items)
	}
	return fmt.Errorf("%w: %s %q", ErrNotFound, key, id)
}

func deleteItem[T any](ctx context.Context, kv core.KeyValueStore, key, id string, idOf func(*T) string) error {
	items, err := loadList[T](ctx, kv, key)
	if err != nil {
		return err
	}
	kept := items[:0]
	for i := range items {
		if idOf(&items[i]) != id {
			kept = append(kept, items[i])
		}
	}
	return saveList(ctx, kv, key, kept)
}

func idOfAccount(a *Account) string   { return a.ID }
func idOfRule(r *Rule) string         { return r.ID }
func idOfTemplate(t *Template) string { return t.ID }
func idOfSchedule(s *Schedule) string { return s.ID }

func (c *Collections) stamp(id *string, createdAt *time.Time) {
	if strings.TrimSpace(*id) == "" {
		*id = c.newID()
	}
	if createdAt.IsZero() {
		*createdAt = c.now().UTC()
	}
}

func (c *Collections) Settings(ctx context.Context) (Settings, error) {
	raw, ok, err := c.kv.Get(ctx, SettingsKey)
	if err != nil {
		return Settings{}, fmt.Errorf("store: load settings: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return DefaultSettings(), nil
	}
	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return Settings{}, fmt.Errorf("store: decode settings: %w", err)
	}
	return settings, nil
}

func (c *Collections) SaveSettings(ctx context.Context, settings Settings) error {
	if err := validate.Struct(settings); err != nil {
		return fmt.Errorf("store: invalid settings: %w", err)
	}
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.Set(ctx, SettingsKey, string(encoded)); err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// UpdateSettings overlays the given JSON fields on the current settings.
func (c *Collections) UpdateSettings(ctx context.Context, updates map[string]any) (Settings, error) {
	c.mu.Lock()
	current, err := c.Settings(ctx)
	c.mu.Unlock()
	if err != nil {
		return Settings{}, err
	}
	patch, err := json.Marshal(updates)
	if err != nil {
		return Settings{}, fmt.Errorf("store: encode settings update: %w", err)
	}
	if err := json.Unmarshal(patch, &current); err != nil {
		return Settings{}, fmt.Errorf("store: apply settings update: %w", err)
	}
	if err := c.SaveSettings(ctx, current); err != nil {
		return Settings{}, err
	}
	return current, nil
}

func (c *Collections) Accounts(ctx context.Context) ([]Account, error) {
	return loadList[Account](ctx, c.kv, AccountsKey)
}

func (c *Collections) SaveAccounts(ctx context.Context, accounts []Account) error {
	if err := validateAll(accounts); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, AccountsKey, accounts)
}

func (c *Collections) AddAccount(ctx context.Context, account Account) (Account, error) {
	account.Platform = core.NormalizePlatform(string(account.Platform))
	if account.Status == "" {
		account.Status = core.AccountStatusActive
	}
	c.stamp(&account.ID, &account.CreatedAt)
	if err := validate.Struct(account); err != nil {
		return Account{}, fmt.Errorf("store: invalid account: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	accounts, err := loadList[Account](ctx, c.kv, AccountsKey)
	if err != nil {
		return Account{}, err
	}
	if err := saveList(ctx, c.kv, AccountsKey, append(accounts, account)); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (c *Collections) UpdateAccount(ctx context.Context, id string, fn func(*Account)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateItem(ctx, c.kv, AccountsKey, id, idOfAccount, fn)
}

func (c *Collections) DeleteAccount(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deleteItem(ctx, c.kv, AccountsKey, id, idOfAccount)
}

func (c *Collections) Rules(ctx context.Context) ([]Rule, error) {
	return loadList[Rule](ctx, c.kv, RulesKey)
}

func (c *Collections) SaveRules(ctx context.Context, rules []Rule) error {
	if err := validateAll(rules); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, RulesKey, rules)
}

func (c *Collections) AddRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.Status == "" {
		rule.Status = "active"
	}
	c.stamp(&rule.ID, &rule.CreatedAt)
	if err := validate.Struct(rule); err != nil {
		return Rule{}, fmt.Errorf("store: invalid rule: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rules, err := loadList[Rule](ctx, c.kv, RulesKey)
	if err != nil {
		return Rule{}, err
	}
	if err := saveList(ctx, c.kv, RulesKey, append(rules, rule)); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (c *Collections) UpdateRule(ctx context.Context, id string, fn func(*Rule)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateItem(ctx, c.kv, RulesKey, id, idOfRule, fn)
}

func (c *Collections) DeleteRule(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deleteItem(ctx, c.kv, RulesKey, id, idOfRule)
}

func (c *Collections) Templates(ctx context.Context) ([]Template, error) {
	return loadList[Template](ctx, c.kv, TemplatesKey)
}

func (c *Collections) SaveTemplates(ctx context.Context, templates []Template) error {
	if err := validateAll(templates); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, TemplatesKey, templates)
}

func (c *Collections) AddTemplate(ctx context.Context, template Template) (Template, error) {
	c.stamp(&template.ID, &template.CreatedAt)
	if err := validate.Struct(template); err != nil {
		return Template{}, fmt.Errorf("store: invalid template: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	templates, err := loadList[Template](ctx, c.kv, TemplatesKey)
	if err != nil {
		return Template{}, err
	}
	if err := saveList(ctx, c.kv, TemplatesKey, append(templates, template)); err != nil {
		return Template{}, err
	}
	return template, nil
}

func (c *Collections) UpdateTemplate(ctx context.Context, id string, fn func(*Template)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateItem(ctx, c.kv, TemplatesKey, id, idOfTemplate, fn)
}

func (c *Collections) DeleteTemplate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deleteItem(ctx, c.kv, TemplatesKey, id, idOfTemplate)
}

func (c *Collections) Schedules(ctx context.Context) ([]Schedule, error) {
	return loadList[Schedule](ctx, c.kv, SchedulesKey)
}

func (c *Collections) SaveSchedules(ctx context.Context, schedules []Schedule) error {
	if err := validateAll(schedules); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, SchedulesKey, schedules)
}

func (c *Collections) AddSchedule(ctx context.Context, schedule Schedule) (Schedule, error) {
	if schedule.Status == "" {
		schedule.Status = "active"
	}
	c.stamp(&schedule.ID, &schedule.CreatedAt)
	if err := validate.Struct(schedule); err != nil {
		return Schedule{}, fmt.Errorf("store: invalid schedule: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	schedules, err := loadList[Schedule](ctx, c.kv, SchedulesKey)
	if err != nil {
		return Schedule{}, err
	}
	if err := saveList(ctx, c.kv, SchedulesKey, append(schedules, schedule)); err != nil {
		return Schedule{}, err
	}
	return schedule, nil
}

func (c *Collections) UpdateSchedule(ctx context.Context, id string, fn func(*Schedule)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateItem(ctx, c.kv, SchedulesKey, id, idOfSchedule, fn)
}

func (c *Collections) DeleteSchedule(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deleteItem(ctx, c.kv, SchedulesKey, id, idOfSchedule)
}

// Logs returns reply logs newest first.
func (c *Collections) Logs(ctx context.Context) ([]LogEntry, error) {
	return loadList[LogEntry](ctx, c.kv, LogsKey)
}

func (c *Collections) SaveLogs(ctx context.Context, logs []LogEntry) error {
	if err := validateAll(logs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, LogsKey, logs)
}

// AddLog prepends an entry and keeps the newest 1000.
func (c *Collections) AddLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = c.newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now().UTC()
	}
	if err := validate.Struct(entry); err != nil {
		return LogEntry{}, fmt.Errorf("store: invalid log entry: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	logs, err := loadList[LogEntry](ctx, c.kv, LogsKey)
	if err != nil {
		return LogEntry{}, err
	}
	logs = append([]LogEntry{entry}, logs...)
	if len(logs) > maxLogEntries {
		logs = logs[:maxLogEntries]
	}
	if err := saveList(ctx, c.kv, LogsKey, logs); err != nil {
		return LogEntry{}, err
	}
	return entry, nil
}

func (c *Collections) ClearLogs(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return saveList(ctx, c.kv, LogsKey, []LogEntry{})
}

func (c *Collections) Export(ctx context.Context) (ExportData, error) {
	settings, err := c.Settings(ctx)
	if err != nil {
		return ExportData{}, err
	}
	out := ExportData{Settings: &settings, ExportDate: c.now().UTC()}
	if out.Accounts, err = c.Accounts(ctx); err != nil {
		return ExportData{}, err
	}
	if out.Rules, err = c.Rules(ctx); err != nil {
		return ExportData{}, err
	}
	if out.Templates, err = c.Templates(ctx); err != nil {
		return ExportData{}, err
	}
	if out.Schedules, err = c.Schedules(ctx); err != nil {
		return ExportData{}, err
	}
	if out.Logs, err = c.Logs(ctx); err != nil {
		return ExportData{}, err
	}
	return out, nil
}

// Import replaces every collection present in data. Everything is validated
// before the first write.
func (c *Collections) Import(ctx context.Context, data ExportData) error {
	if data.Settings != nil {
		if err := validate.Struct(*data.Settings); err != nil {
			return fmt.Errorf("store: invalid settings: %w", err)
		}
	}
	for _, check := range []func() error{
		func() error { return validateAll(data.Accounts) },
		func() error { return validateAll(data.Rules) },
		func() error { return validateAll(data.Templates) },
		func() error { return validateAll(data.Schedules) },
		func() error { return validateAll(data.Logs) },
	} {
		if err := check(); err != nil {
			return err
		}
	}

	if data.Settings != nil {
		if err := c.SaveSettings(ctx, *data.Settings); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if data.Accounts != nil {
		if err := saveList(ctx, c.kv, AccountsKey, data.Accounts); err != nil {
			return err
		}
	}
	if data.Rules != nil {
		if err := saveList(ctx, c.kv, RulesKey, data.Rules); err != nil {
			return err
		}
	}
	if data.Templates != nil {
		if err := saveList(ctx, c.kv, TemplatesKey, data.Templates); err != nil {
			return err
		}
	}
	if data.Schedules != nil {
		if err := saveList(ctx, c.kv, SchedulesKey, data.Schedules); err != nil {
			return err
		}
	}
	if data.Logs != nil {
		if err := saveList(ctx, c.kv, LogsKey, data.Logs); err != nil {
			return err
		}
	}
	c.logger.Info("storage imported")
	return nil
}

func (c *Collections) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range CollectionKeys() {
		if err := c.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("store: clear %s: %w", key, err)
		}
	}
	c.logger.Info("storage cleared")
	return nil
}

// Usage sums the stored bytes against a 5 MiB budget.
func (c *Collections) Usage(ctx context.Context) (Usage, error) {
	used := 0
	for _, key := range CollectionKeys() {
		raw, ok, err := c.kv.Get(ctx, key)
		if err != nil {
			return Usage{}, fmt.Errorf("store: measure %s: %w", key, err)
		}
		if ok {
			used += len(raw)
		}
	}
	return Usage{
		Used:       used,
		Total:      StorageBudgetBytes,
		Percentage: float64(used) / float64(StorageBudgetBytes) * 100,
	}, nil
}

// StorageAvailable is true while usage stays under 90% of the budget.
func (c *Collections) StorageAvailable(ctx context.Context) (bool, error) {
	usage, err := c.Usage(ctx)
	if err != nil {
		return false, err
	}
	return usage.Percentage < availableThreshold, nil
}

// Stats counts entities. ReplyRate is the share of today's logs that were sent,
// as a percentage.
func (c *Collections) Stats(ctx context.Context) (Stats, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	rules, err := c.Rules(ctx)
	if err != nil {
		return Stats{}, err
	}
	logs, err := c.Logs(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalAccounts: len(accounts),
		TotalRules:    len(rules),
		TotalReplies:  len(logs),
	}
	for _, account := range accounts {
		if account.Status == core.AccountStatusActive || account.Status == core.AccountStatusConnected {
			stats.ActiveAccounts++
		}
	}
	for _, rule := range rules {
		if rule.Status == "active" {
			stats.ActiveRules++
		}
	}
	today := c.now().UTC().Format(time.DateOnly)
	sentToday := 0
	for _, entry := range logs {
		if entry.Timestamp.UTC().Format(time.DateOnly) != today {
			continue
		}
		stats.TodayReplies++
		if entry.Status == "" || entry.Status == "sent" {
			sentToday++
		}
	}
	if stats.TodayReplies > 0 {
		stats.ReplyRate = float64(sentToday) / float64(stats.TodayReplies) * 100
	}
	return stats, nil
}

// ListAccounts exposes stored accounts to the connection registry.
func (c *Collections) ListAccounts(ctx context.Context) ([]core.AccountRef, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]core.AccountRef, 0, len(accounts))
	for _, account := range accounts {
		refs = append(refs, core.AccountRef{
			ID:       account.ID,
			Platform: account.Platform,
			Username: account.Username,
			Status:   account.Status,
		})
	}
	return refs, nil
}

func (c *Collections) SetAccountStatus(ctx context.Context, accountID string, status core.AccountStatus) error {
	return c.UpdateAccount(ctx, accountID, func(account *Account) {
		account.Status = status
	})
}

var _ core.AccountDirectory = (*Collections)(nil)
