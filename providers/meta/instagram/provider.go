package instagram

import (
	"context"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	meta "github.com/goliatone/go-autoreply/providers/meta/common"
	"github.com/goliatone/go-autoreply/transport"
)

const (
	AuthURL    = "https://api.instagram.com/oauth/authorize"
	TokenURL   = "https://api.instagram.com/oauth/access_token"
	APIBaseURL = "https://graph.instagram.com/v12.0"
)

const (
	ScopeBasic         = "basic"
	ScopeComments      = "comments"
	ScopeRelationships = "relationships"
)

type Config = meta.AuthConfig

type Client struct {
	*providers.OAuth2Client
	rest       *transport.RESTAdapter
	apiBaseURL string
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
		Scopes:     []string{ScopeBasic, ScopeComments, ScopeRelationships},
	}
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults(DefaultConfig())
	oauthClient, err := providers.NewOAuth2Client(cfg.OAuth2Config(core.PlatformInstagram))
	if err != nil {
		return nil, err
	}
	return &Client{
		OAuth2Client: oauthClient,
		rest:         providers.NewREST(cfg.HTTPClient),
		apiBaseURL:   cfg.APIBaseURL,
	}, nil
}

func (c *Client) Send(ctx context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	recipientID, err := providers.RequireRecipient(core.PlatformInstagram, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, "")
	if err != nil {
		return core.SendReceipt{}, err
	}
	payload := map[string]any{
		"message":      message,
		"recipient_id": recipientID,
	}
	return providers.PostMessage(ctx, c.rest, c.apiBaseURL+"/me/media", providers.BearerHeaders(token), payload)
}

var _ core.PlatformClient = (*Client)(nil)
var _ core.Authorizer = (*Client)(nil)
