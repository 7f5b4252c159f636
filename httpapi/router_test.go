package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	autoreply "github.com/goliatone/go-autoreply"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/store"
)

type sendingClient struct {
	mu   sync.Mutex
	sent []string
}

func (c *sendingClient) Platform() core.Platform { return core.PlatformTelegram }

func (c *sendingClient) Scopes() []string { return nil }

func (c *sendingClient) Send(_ context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, conn.AccessToken+"|"+recipientID+"|"+message)
	return core.SendReceipt{MessageID: "m-1"}, nil
}

func newTestRouter(t *testing.T, opts ...Option) (*gin.Engine, *sendingClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	client := &sendingClient{}
	runtime, err := autoreply.New(context.Background(),
		autoreply.WithKeyValueStore(store.NewMemoryKV()),
		autoreply.WithoutBuiltinClients(),
		autoreply.WithPlatformClients(client),
		autoreply.WithRefreshPace(0),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return NewServer(runtime.Facade, opts...).Router(), client
}

func perform(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var res errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return res.Error
}

func TestRouter_ConnectSendAndDisconnect(t *testing.T) {
	router, client := newTestRouter(t)

	rec := perform(router, http.MethodPost, "/connections/bot_1/token/telegram", `{"access_token":"123:abc","expires_in":3600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	var status core.ConnectionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || !status.Connected {
		t.Fatalf("unexpected connect body %s err=%v", rec.Body.String(), err)
	}

	rec = perform(router, http.MethodPost, "/connections/bot_1/send", `{"message":"hello","recipient_id":"chat_1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	if len(client.sent) != 1 || client.sent[0] != "123:abc|chat_1|hello" {
		t.Fatalf("unexpected platform calls %v", client.sent)
	}

	rec = perform(router, http.MethodGet, "/connections", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "bot_1") {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "123:abc") {
		t.Fatalf("expected tokens kept out of list response")
	}

	rec = perform(router, http.MethodDelete, "/connections/bot_1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect: %d %s", rec.Code, rec.Body.String())
	}
	rec = perform(router, http.MethodGet, "/connections/bot_1/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"connected":false`) {
		t.Fatalf("status after disconnect: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_SendWithoutConnectionIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := perform(router, http.MethodPost, "/connections/ghost/send", `{"message":"hello"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body.TextCode != core.ServiceErrorNotConnected {
		t.Fatalf("unexpected error body %#v", body)
	}
}

func TestRouter_InvalidPayloadsAreBadRequests(t *testing.T) {
	router, _ := newTestRouter(t)
	cases := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/connections/bot_1/send", `{}`},
		{http.MethodPost, "/connections/bot_1/token/telegram", `{"refresh_token":"r"}`},
		{http.MethodPost, "/connections/bot_1/token/myspace", `{"access_token":"t"}`},
		{http.MethodGet, "/stats/errors?recent=abc", ""},
		{http.MethodGet, "/stats/errors?recent=500", ""},
		{http.MethodGet, "/oauth/callback?code=abc", ""},
	}
	for _, tc := range cases {
		rec := perform(router, tc.method, tc.target, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d %s", tc.method, tc.target, rec.Code, rec.Body.String())
		}
		if body := decodeError(t, rec); body.Message == "" {
			t.Fatalf("%s %s: expected error message", tc.method, tc.target)
		}
	}
}

func TestRouter_CallbackWithUnknownStateIsRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := perform(router, http.MethodGet, "/oauth/callback?code=abc&state=missing", "")
	if rec.Code < 400 {
		t.Fatalf("expected rejection, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_StatsEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, target := range []string{"/stats/rate?account=bot_1", "/stats/errors?recent=5", "/stats/security", "/healthz"} {
		rec := perform(router, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", target, rec.Code, rec.Body.String())
		}
	}
	rec := perform(router, http.MethodGet, "/stats/security", "")
	if !strings.Contains(rec.Body.String(), "secureStorageCount") {
		t.Fatalf("unexpected security body %s", rec.Body.String())
	}
}

func TestRouter_MountsMetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("autoreply_up 1\n"))
	})
	router, _ := newTestRouter(t, WithMetricsHandler(metrics))
	rec := perform(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "autoreply_up") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}

	bare, _ := newTestRouter(t)
	if rec := perform(bare, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected no metrics route, got %d", rec.Code)
	}
}
