package facebook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-autoreply/core"
)

func TestNew_UsesGraphDefaults(t *testing.T) {
	client, err := New(Config{ClientID: "client", ClientSecret: "secret", RedirectURI: "http://localhost/cb"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Platform() != core.PlatformFacebook {
		t.Fatalf("expected facebook platform, got %q", client.Platform())
	}
	raw, err := client.AuthorizationURL("state_1")
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, _ := url.Parse(raw)
	if parsed.Scheme+"://"+parsed.Host+parsed.Path != AuthURL {
		t.Fatalf("expected endpoint %q, got %q", AuthURL, raw)
	}
	if scope := parsed.Query().Get("scope"); scope != "pages_manage_posts,pages_read_engagement,pages_manage_metadata" {
		t.Fatalf("unexpected scope %q", scope)
	}
}

func TestClient_SendPostsMessengerPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"recipient_id":"psid_1","message_id":"mid.1"}`))
	}))
	defer server.Close()

	client, err := New(Config{ClientID: "client", APIBaseURL: server.URL + "/v18.0", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	receipt, err := client.Send(context.Background(), core.Connection{AccountID: "a1", AccessToken: "page_token"}, "hello", "psid_1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/v18.0/me/messages" || gotAuth != "Bearer page_token" {
		t.Fatalf("unexpected request path=%q auth=%q", gotPath, gotAuth)
	}
	if gotBody["recipient"]["id"] != "psid_1" || gotBody["message"]["text"] != "hello" {
		t.Fatalf("unexpected payload %v", gotBody)
	}
	if receipt.MessageID != "mid.1" {
		t.Fatalf("expected message id mid.1, got %q", receipt.MessageID)
	}
}

func TestClient_SendRequiresRecipientAndToken(t *testing.T) {
	client, err := New(Config{ClientID: "client"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Send(context.Background(), core.Connection{AccessToken: "t"}, "hi", ""); err == nil {
		t.Fatalf("expected missing recipient error")
	}
	if _, err := client.Send(context.Background(), core.Connection{}, "hi", "r"); err == nil {
		t.Fatalf("expected missing token error")
	}
}
