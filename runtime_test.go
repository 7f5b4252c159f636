package autoreply

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-autoreply/command"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/query"
	"github.com/goliatone/go-autoreply/store"
)

type recordingClient struct {
	mu   sync.Mutex
	sent []string
}

func (c *recordingClient) Platform() core.Platform { return core.PlatformTelegram }

func (c *recordingClient) Scopes() []string { return nil }

func (c *recordingClient) Send(_ context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, conn.AccessToken+"|"+recipientID+"|"+message)
	return core.SendReceipt{MessageID: "42"}, nil
}

func newTestRuntime(t *testing.T, kv core.KeyValueStore, client core.PlatformClient) *Runtime {
	t.Helper()
	runtime, err := New(context.Background(),
		WithKeyValueStore(kv),
		WithoutBuiltinClients(),
		WithPlatformClients(client),
		WithRefreshPace(0),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return runtime
}

func TestNew_WiresFacadeAroundService(t *testing.T) {
	ctx := context.Background()
	client := &recordingClient{}
	runtime := newTestRuntime(t, store.NewMemoryKV(), client)
	commands := runtime.Facade.Commands()

	if err := commands.ConnectWithToken.Execute(ctx, command.ConnectWithTokenMessage{
		Platform:    core.PlatformTelegram,
		AccountID:   "bot_1",
		AccessToken: "123:abc",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	collector := gocmd.NewResult[core.SendResult]()
	if err := commands.SendReply.Execute(gocmd.ContextWithResult(ctx, collector), command.SendReplyMessage{
		AccountID:   "bot_1",
		Message:     "thanks for reaching out",
		RecipientID: "chat_9",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.MessageID != "42" || result.Platform != core.PlatformTelegram {
		t.Fatalf("unexpected send result %#v", result)
	}
	if len(client.sent) != 1 || client.sent[0] != "123:abc|chat_9|thanks for reaching out" {
		t.Fatalf("unexpected platform call %v", client.sent)
	}

	security, err := runtime.Facade.Queries().SecurityStatus.Query(ctx, query.SecurityStatusMessage{})
	if err != nil {
		t.Fatalf("security status: %v", err)
	}
	if !security.EncryptionKeyExists || security.SecureStorageCount != 1 {
		t.Fatalf("expected one vaulted token, got %#v", security)
	}

	report, err := runtime.Facade.Queries().RateLimitStatus.Query(ctx, query.RateLimitStatusMessage{AccountID: "bot_1"})
	if err != nil {
		t.Fatalf("rate status: %v", err)
	}
	if report.Global.Remaining != runtime.Config.Rate.GlobalLimit-1 {
		t.Fatalf("expected one global request used, got %d", report.Global.Remaining)
	}
}

func TestNew_RestoresStoredConnections(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	first := newTestRuntime(t, kv, &recordingClient{})

	account, err := first.Collections.AddAccount(ctx, store.Account{Platform: core.PlatformTelegram, Username: "support_bot"})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	if _, err := first.Service.ConnectWithToken(ctx, account.ID, core.PlatformTelegram, core.TokenRecord{
		AccessToken: "123:abc",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	second := newTestRuntime(t, kv, &recordingClient{})
	status := second.Service.Status(account.ID)
	if !status.Connected || status.Platform != core.PlatformTelegram {
		t.Fatalf("expected restored connection, got %#v", status)
	}
	accounts, err := second.Collections.Accounts(ctx)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Status != core.AccountStatusConnected {
		t.Fatalf("expected connected account status, got %#v", accounts)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 0
	if _, err := New(context.Background(), WithConfig(cfg)); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestRuntime_SweepQueuesDueRefreshes(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, store.NewMemoryKV(), &recordingClient{})
	if _, err := runtime.Service.ConnectWithToken(ctx, "bot_1", core.PlatformTelegram, core.TokenRecord{
		AccessToken:  "123:abc",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if queued := runtime.SweepRefreshes(ctx); queued != 1 {
		t.Fatalf("expected one queued refresh, got %d", queued)
	}
	if runtime.Queue.Len() != 1 {
		t.Fatalf("expected scheduled and swept jobs to collapse, got %d pending", runtime.Queue.Len())
	}
}

func TestRuntime_RunReportsWorkerFailure(t *testing.T) {
	runtime := newTestRuntime(t, store.NewMemoryKV(), &recordingClient{})
	runtime.Worker = nil

	done := make(chan error, 1)
	go func() { done <- runtime.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "refresh worker") {
			t.Fatalf("expected refresh worker failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after worker failure")
	}
}

func TestRuntime_RunStopsCleanlyOnCancel(t *testing.T) {
	runtime := newTestRuntime(t, store.NewMemoryKV(), &recordingClient{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
