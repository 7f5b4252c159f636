package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	"github.com/goliatone/go-autoreply/transport"
)

const APIBaseURL = "https://api.twitter.com/2"

type Config struct {
	// AccessToken is a user-context bearer token used when a connection carries none.
	AccessToken string
	APIBaseURL  string
	HTTPClient  *http.Client
}

// Client sends direct messages. Authorization is issued out of band, so the
// client does not implement core.Authorizer.
type Client struct {
	rest        *transport.RESTAdapter
	apiBaseURL  string
	accessToken string
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = APIBaseURL
	}
	return &Client{
		rest:        providers.NewREST(cfg.HTTPClient),
		apiBaseURL:  base,
		accessToken: strings.TrimSpace(cfg.AccessToken),
	}, nil
}

func (*Client) Platform() core.Platform {
	return core.PlatformTwitter
}

func (*Client) Scopes() []string {
	return []string{}
}

func (c *Client) Send(ctx context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	recipientID, err := providers.RequireRecipient(core.PlatformTwitter, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, c.accessToken)
	if err != nil {
		return core.SendReceipt{}, err
	}
	endpoint := c.apiBaseURL + "/dm_conversations/with/" + url.PathEscape(recipientID) + "/messages"
	return providers.PostMessage(ctx, c.rest, endpoint, providers.BearerHeaders(token), map[string]any{"text": message})
}

var _ core.PlatformClient = (*Client)(nil)
