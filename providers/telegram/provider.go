package telegram

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	"github.com/goliatone/go-autoreply/transport"
)

const APIBaseURL = "https://api.telegram.org"

type Config struct {
	BotToken   string
	APIBaseURL string
	HTTPClient *http.Client
}

// Client sends messages as a bot. The bot token is part of the request path.
type Client struct {
	rest       *transport.RESTAdapter
	apiBaseURL string
	botToken   string
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = APIBaseURL
	}
	return &Client{
		rest:       providers.NewREST(cfg.HTTPClient),
		apiBaseURL: base,
		botToken:   strings.TrimSpace(cfg.BotToken),
	}, nil
}

func (*Client) Platform() core.Platform {
	return core.PlatformTelegram
}

func (*Client) Scopes() []string {
	return []string{}
}

func (c *Client) Send(ctx context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	chatID, err := providers.RequireRecipient(core.PlatformTelegram, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, c.botToken)
	if err != nil {
		return core.SendReceipt{}, err
	}
	endpoint := c.apiBaseURL + "/bot" + token + "/sendMessage"
	receipt, err := providers.PostMessage(ctx, c.rest, endpoint, nil, map[string]any{
		"chat_id": chatID,
		"text":    message,
	})
	if err != nil {
		return core.SendReceipt{}, err
	}
	// The Bot API can answer 200 with ok=false.
	if ok, present := receipt.Raw["ok"].(bool); present && !ok {
		status, _ := receipt.Raw["error_code"].(float64)
		description, _ := receipt.Raw["description"].(string)
		return core.SendReceipt{}, &core.HTTPStatusError{Status: int(status), Message: description}
	}
	return receipt, nil
}

var _ core.PlatformClient = (*Client)(nil)
