package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-autoreply/core"
)

func TestClient_SendPostsCloudAPIPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	client, err := New(Config{
		AccessToken:   "wa_token",
		PhoneNumberID: "10555",
		APIBaseURL:    server.URL + "/v18.0",
		HTTPClient:    server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	receipt, err := client.Send(context.Background(), core.Connection{}, "hola", "15551234567")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/v18.0/10555/messages" || gotAuth != "Bearer wa_token" {
		t.Fatalf("unexpected request path=%q auth=%q", gotPath, gotAuth)
	}
	text, _ := gotBody["text"].(map[string]any)
	if gotBody["messaging_product"] != "whatsapp" || gotBody["to"] != "15551234567" || gotBody["type"] != "text" || text["body"] != "hola" {
		t.Fatalf("unexpected payload %v", gotBody)
	}
	if receipt.MessageID != "wamid.1" {
		t.Fatalf("expected message id wamid.1, got %q", receipt.MessageID)
	}
}

func TestNew_RequiresPhoneNumberID(t *testing.T) {
	if _, err := New(Config{AccessToken: "t"}); err == nil {
		t.Fatalf("expected missing phone number id error")
	}
}
