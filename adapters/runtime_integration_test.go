package adapters_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-autoreply/adapters/gocommand"
	"github.com/goliatone/go-autoreply/adapters/gojob"
	"github.com/goliatone/go-autoreply/adapters/gologger"
	autoprom "github.com/goliatone/go-autoreply/adapters/prometheus"
	"github.com/goliatone/go-autoreply/command"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/ratelimit"
	"github.com/goliatone/go-autoreply/resilience"
	"github.com/goliatone/go-autoreply/security"
	"github.com/goliatone/go-autoreply/store"
	gocmd "github.com/goliatone/go-command"
	"golang.org/x/time/rate"
)

type refreshingClient struct {
	mu        sync.Mutex
	refreshes int
	now       func() time.Time
}

func (c *refreshingClient) Platform() core.Platform { return core.PlatformFacebook }

func (c *refreshingClient) Scopes() []string { return []string{"pages_manage_posts"} }

func (c *refreshingClient) Send(context.Context, core.Connection, string, string) (core.SendReceipt, error) {
	return core.SendReceipt{MessageID: "m1"}, nil
}

func (c *refreshingClient) AuthorizationURL(state string) (string, error) {
	return "https://www.facebook.com/dialog/oauth?state=" + state, nil
}

func (c *refreshingClient) Exchange(context.Context, string) (core.TokenRecord, error) {
	return core.TokenRecord{AccessToken: "exchanged", RefreshToken: "r0", ExpiresAt: c.now().Add(time.Hour)}, nil
}

func (c *refreshingClient) Refresh(_ context.Context, refreshToken string) (core.TokenRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return core.TokenRecord{AccessToken: "refreshed", RefreshToken: refreshToken, ExpiresAt: c.now().Add(time.Hour)}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRuntime_RefreshJobRoundTripThroughAdapters(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	var logs bytes.Buffer
	logger := gologger.NewZerologLogger(&logs, gologger.WithLevel("debug"))
	metrics := autoprom.NewRecorder()

	kv := store.NewMemoryKV()
	vault, err := security.NewVault(kv, security.WithNow(clk.Now))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	client := &refreshingClient{now: clk.Now}
	q := gojob.NewMemoryQueue(gojob.WithQueueClock(clk.Now), gojob.WithPollInterval(time.Millisecond))

	svc, err := core.NewService(core.DefaultConfig(),
		core.WithLoggerProvider(logger),
		core.WithMetricsRecorder(metrics),
		core.WithCredentialVault(vault),
		core.WithRateGovernor(ratelimit.NewGovernor(ratelimit.WithNow(clk.Now))),
		core.WithRetrier(resilience.NewExecutor(resilience.WithNow(clk.Now))),
		core.WithPlatformRegistry(core.NewPlatformRegistry(client)),
		core.WithRefreshScheduler(gojob.NewRefreshScheduler(q)),
		core.WithClock(clk.Now),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	adapter := gocommand.NewRegistryAdapter(gocmd.NewRegistry())
	subs, err := gocommand.Register(adapter, gocommand.Handlers{Service: svc})
	if err != nil {
		t.Fatalf("register handlers: %v", err)
	}
	t.Cleanup(subs.Unsubscribe)

	if err := gocommand.Dispatch(ctx, command.ConnectWithTokenMessage{
		Platform:     core.PlatformFacebook,
		AccountID:    "acct_1",
		AccessToken:  "initial",
		RefreshToken: "r1",
		ExpiresAt:    clk.Now().Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("dispatch connect: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected a scheduled refresh job, got %d", q.Len())
	}
	clk.Advance(5 * time.Minute)

	worker := gojob.NewRefreshWorker(q, svc,
		gojob.WithClock(clk.Now),
		gojob.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		gojob.WithHook(gojob.NewObservabilityHook(logger.GetLogger("jobs"), metrics)),
	)
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("run refresh job: %v", err)
	}
	if client.refreshes != 1 {
		t.Fatalf("expected one platform refresh, got %d", client.refreshes)
	}
	if conn, ok := svc.Connection("acct_1"); !ok || conn.AccessToken != "refreshed" {
		t.Fatalf("expected refreshed connection, got %+v ok=%v", conn, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("expected the next refresh to be scheduled, got %d", q.Len())
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{"autoreply_refresh_total", "autoreply_connect_with_token_total", "autoreply_jobs_total"} {
		if !names[want] {
			t.Fatalf("expected metric %s, got %v", want, names)
		}
	}
	if !strings.Contains(logs.String(), "refresh job succeeded") {
		t.Fatalf("expected worker log line, got:\n%s", logs.String())
	}
}
