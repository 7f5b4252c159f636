package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultGlobalLimit  = 1000
	DefaultGlobalWindow = time.Hour

	delayUsageThreshold = 0.8
)

// Limit is a request budget over a fixed window.
type Limit struct {
	Requests int
	Window   time.Duration
}

var defaultPlatformLimits = map[core.Platform]Limit{
	core.PlatformInstagram: {Requests: 200, Window: time.Hour},
	core.PlatformFacebook:  {Requests: 200, Window: time.Hour},
	core.PlatformLINE:      {Requests: 1000, Window: time.Hour},
	core.PlatformTwitter:   {Requests: 300, Window: 15 * time.Minute},
	core.PlatformTelegram:  {Requests: 30, Window: time.Second},
	core.PlatformWhatsApp:  {Requests: 1000, Window: time.Hour},
}

var fallbackLimit = Limit{Requests: 100, Window: time.Hour}

var minIntervals = map[core.Platform]time.Duration{
	core.PlatformInstagram: 5 * time.Second,
	core.PlatformFacebook:  3 * time.Second,
	core.PlatformLINE:      time.Second,
	core.PlatformTwitter:   2 * time.Second,
	core.PlatformTelegram:  100 * time.Millisecond,
	core.PlatformWhatsApp:  2 * time.Second,
}

const fallbackMinInterval = time.Second

// PlatformLimit returns the built-in budget for a platform.
func PlatformLimit(platform core.Platform) Limit {
	if limit, ok := defaultPlatformLimits[platform]; ok {
		return limit
	}
	return fallbackLimit
}

// MinInterval is the pacing floor between two sends on the same platform.
func MinInterval(platform core.Platform) time.Duration {
	if interval, ok := minIntervals[platform]; ok {
		return interval
	}
	return fallbackMinInterval
}

type tracker struct {
	accountID     string
	platform      core.Platform
	limit         Limit
	count         int
	resetAt       time.Time
	lastRequestAt time.Time
}

func (t *tracker) resetIfDue(now time.Time) bool {
	if now.Before(t.resetAt) {
		return false
	}
	t.count = 0
	t.resetAt = now.Add(t.limit.Window)
	return true
}

func (t *tracker) remaining() int {
	left := t.limit.Requests - t.count
	if left < 0 {
		return 0
	}
	return left
}

func (t *tracker) usage() float64 {
	if t.limit.Requests <= 0 {
		return 1
	}
	return float64(t.count) / float64(t.limit.Requests)
}

type Option func(*Governor)

func WithNow(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSleep replaces the wait used by WaitForReset.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

func WithGlobalLimit(limit Limit) Option {
	return func(g *Governor) {
		if limit.Requests > 0 && limit.Window > 0 {
			g.global.limit = limit
		}
	}
}

func WithPlatformLimit(platform core.Platform, limit Limit) Option {
	return func(g *Governor) {
		if limit.Requests > 0 && limit.Window > 0 {
			g.limits[core.NormalizePlatform(string(platform))] = limit
		}
	}
}

// WithRateConfig applies the global budget from service configuration.
func WithRateConfig(cfg core.RateConfig) Option {
	return WithGlobalLimit(Limit{
		Requests: cfg.GlobalLimit,
		Window:   time.Duration(cfg.GlobalWindowSeconds) * time.Second,
	})
}

// Governor enforces fixed-window budgets per (account, platform) and across the
// whole process. Windows are reset lazily on the next access after they expire.
type Governor struct {
	mu       sync.Mutex
	trackers map[string]*tracker
	global   *tracker
	limits   map[core.Platform]Limit
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   core.Logger
}

func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		trackers: map[string]*tracker{},
		global:   &tracker{limit: Limit{Requests: DefaultGlobalLimit, Window: DefaultGlobalWindow}},
		limits:   map[core.Platform]Limit{},
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		logger:   glog.Nop(),
	}
	for platform, limit := range defaultPlatformLimits {
		g.limits[platform] = limit
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	g.global.resetAt = g.now().Add(g.global.limit.Window)
	return g
}

func trackerKey(accountID string, platform core.Platform) string {
	return strings.TrimSpace(accountID) + ":" + string(platform)
}

func (g *Governor) limitFor(platform core.Platform) Limit {
	if limit, ok := g.limits[platform]; ok {
		return limit
	}
	return fallbackLimit
}

func (g *Governor) trackerLocked(accountID string, platform core.Platform, now time.Time) *tracker {
	key := trackerKey(accountID, platform)
	if t, ok := g.trackers[key]; ok {
		return t
	}
	limit := g.limitFor(platform)
	t := &tracker{
		accountID: strings.TrimSpace(accountID),
		platform:  platform,
		limit:     limit,
		resetAt:   now.Add(limit.Window),
	}
	g.trackers[key] = t
	return t
}

// CheckAdmission fails when the account's window or the global window is spent.
// It never consumes budget.
func (g *Governor) CheckAdmission(accountID string, platform core.Platform) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	t := g.trackerLocked(accountID, platform, now)
	if t.resetIfDue(now) {
		g.logger.Debug("rate window reset", "platform", string(platform))
	}
	if t.count >= t.limit.Requests {
		return &core.RateLimitExceededError{
			Scope:      core.RateLimitScopeAccount,
			AccountID:  t.accountID,
			Platform:   platform,
			RetryAfter: t.resetAt.Sub(now),
		}
	}

	if g.global.resetIfDue(now) {
		g.logger.Debug("global rate window reset")
	}
	if g.global.count >= g.global.limit.Requests {
		return &core.RateLimitExceededError{
			Scope:      core.RateLimitScopeGlobal,
			AccountID:  t.accountID,
			Platform:   platform,
			RetryAfter: g.global.resetAt.Sub(now),
		}
	}
	return nil
}

// RecordUsage counts one request against the account and global windows.
func (g *Governor) RecordUsage(accountID string, platform core.Platform) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	t := g.trackerLocked(accountID, platform, now)
	t.resetIfDue(now)
	t.count++
	t.lastRequestAt = now

	g.global.resetIfDue(now)
	g.global.count++

	g.logger.Debug("rate usage recorded",
		"platform", string(platform),
		"count", t.count,
		"limit", t.limit.Requests,
	)
}

// Budget is what is left for an account on a platform in the current window.
type Budget struct {
	Platform  core.Platform `json:"platform,omitempty"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"resetTime"`
}

func (g *Governor) Remaining(accountID string, platform core.Platform) Budget {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	t := g.trackerLocked(accountID, platform, now)
	t.resetIfDue(now)
	return Budget{Platform: platform, Remaining: t.remaining(), ResetAt: t.resetAt}
}

func (g *Governor) GlobalRemaining() Budget {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.global.resetIfDue(g.now())
	return Budget{Remaining: g.global.remaining(), ResetAt: g.global.resetAt}
}

// SuggestedDelay scales the platform's minimum interval with window usage.
func (g *Governor) SuggestedDelay(accountID string, platform core.Platform) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.trackerLocked(accountID, platform, g.now())
	base := MinInterval(platform)
	switch usage := t.usage(); {
	case usage > 0.9:
		return base * 3
	case usage > 0.7:
		return base * 2
	case usage > 0.5:
		return base + base/2
	default:
		return base
	}
}

// ShouldDelay reports whether the next send should be held back: the window is
// more than 80% spent or the previous send was within the minimum interval.
func (g *Governor) ShouldDelay(accountID string, platform core.Platform) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	t := g.trackerLocked(accountID, platform, now)
	if t.usage() > delayUsageThreshold {
		return true
	}
	if t.lastRequestAt.IsZero() {
		return false
	}
	return now.Sub(t.lastRequestAt) < MinInterval(platform)
}

// WaitForReset blocks until the account's window resets, then resets it.
func (g *Governor) WaitForReset(ctx context.Context, accountID string, platform core.Platform) error {
	g.mu.Lock()
	now := g.now()
	t := g.trackerLocked(accountID, platform, now)
	wait := t.resetAt.Sub(now)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	g.logger.Info("waiting for rate window reset",
		"platform", string(platform),
		"wait_seconds", int(wait.Round(time.Second)/time.Second),
	)
	if err := g.sleep(ctx, wait); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now = g.now()
	t.count = 0
	t.resetAt = now.Add(t.limit.Window)
	return nil
}

// Report is a point-in-time view of the governor. When built for one account,
// Platforms holds one entry per known platform; otherwise Accounts groups every
// live tracker by platform and account.
type Report struct {
	Global    Budget                              `json:"global"`
	Platforms map[core.Platform]Budget            `json:"platforms,omitempty"`
	Accounts  map[core.Platform]map[string]Budget `json:"accounts,omitempty"`
}

func (g *Governor) Status(accountID string) Report {
	report := Report{Global: g.GlobalRemaining()}
	accountID = strings.TrimSpace(accountID)
	if accountID != "" {
		report.Platforms = make(map[core.Platform]Budget, len(core.KnownPlatforms()))
		for _, platform := range core.KnownPlatforms() {
			report.Platforms[platform] = g.Remaining(accountID, platform)
		}
		return report
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	report.Accounts = map[core.Platform]map[string]Budget{}
	for _, key := range g.sortedKeysLocked() {
		t := g.trackers[key]
		byAccount, ok := report.Accounts[t.platform]
		if !ok {
			byAccount = map[string]Budget{}
			report.Accounts[t.platform] = byAccount
		}
		byAccount[t.accountID] = Budget{Platform: t.platform, Remaining: t.remaining(), ResetAt: t.resetAt}
	}
	return report
}

func (g *Governor) sortedKeysLocked() []string {
	keys := make([]string, 0, len(g.trackers))
	for key := range g.trackers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ClearTracker drops every tracker owned by the account.
func (g *Governor) ClearTracker(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	accountID = strings.TrimSpace(accountID)
	removed := 0
	for key, t := range g.trackers {
		if t.accountID == accountID {
			delete(g.trackers, key)
			removed++
		}
	}
	g.logger.Debug("rate trackers cleared", "account_id", accountID, "count", removed)
}

// ClearAll drops every tracker and restarts the global window.
func (g *Governor) ClearAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.trackers = map[string]*tracker{}
	g.global.count = 0
	g.global.resetAt = g.now().Add(g.global.limit.Window)
	g.logger.Info("all rate trackers cleared")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ core.RateGovernor = (*Governor)(nil)
