package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/transport"
)

func BearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + strings.TrimSpace(token)}
}

// PostMessage sends payload as JSON and turns the decoded answer into a receipt.
func PostMessage(ctx context.Context, rest *transport.RESTAdapter, endpoint string, headers map[string]string, payload any) (core.SendReceipt, error) {
	if rest == nil {
		return core.SendReceipt{}, fmt.Errorf("providers: rest adapter is required")
	}
	res, err := rest.PostJSON(ctx, endpoint, headers, payload)
	if err != nil {
		return core.SendReceipt{}, err
	}
	raw := map[string]any{}
	if err := res.DecodeJSON(&raw); err != nil {
		return core.SendReceipt{}, err
	}
	return core.SendReceipt{MessageID: MessageID(raw), Raw: raw}, nil
}

// AccessToken prefers the connection token and falls back to a configured
// static credential.
func AccessToken(conn core.Connection, fallback string) (string, error) {
	if token := strings.TrimSpace(conn.AccessToken); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(fallback); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("providers: no access token for account %q", conn.AccountID)
}

func RequireRecipient(platform core.Platform, recipientID string) (string, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return "", fmt.Errorf("providers: %s send requires a recipient id", platform)
	}
	return recipientID, nil
}

// MessageID finds the platform message identifier in a send response.
func MessageID(raw map[string]any) string {
	for _, key := range []string{"message_id", "id"} {
		if id := scalarString(raw[key]); id != "" {
			return id
		}
	}
	for _, key := range []string{"messages", "sentMessages"} {
		if list, ok := raw[key].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				if id := scalarString(first["id"]); id != "" {
					return id
				}
			}
		}
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if id := scalarString(data["dm_event_id"]); id != "" {
			return id
		}
	}
	if result, ok := raw["result"].(map[string]any); ok {
		return scalarString(result["message_id"])
	}
	return ""
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return ""
	}
}

// NewREST builds the send adapter, using the default client when client is nil.
func NewREST(client *http.Client) *transport.RESTAdapter {
	if client == nil {
		return transport.NewRESTAdapter(nil)
	}
	return transport.NewRESTAdapter(client)
}
