package facebook

import (
	"context"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	meta "github.com/goliatone/go-autoreply/providers/meta/common"
	"github.com/goliatone/go-autoreply/transport"
)

const (
	AuthURL  = "https://www.facebook.com/" + meta.GraphAPIVersion + "/dialog/oauth"
	TokenURL = meta.GraphBaseURL + "/oauth/access_token"
)

const (
	ScopePagesManagePosts    = "pages_manage_posts"
	ScopePagesReadEngagement = "pages_read_engagement"
	ScopePagesManageMetadata = "pages_manage_metadata"
)

type Config = meta.AuthConfig

// Client sends Messenger replies from a page connection.
type Client struct {
	*providers.OAuth2Client
	rest       *transport.RESTAdapter
	apiBaseURL string
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: meta.GraphBaseURL,
		Scopes: []string{
			ScopePagesManagePosts,
			ScopePagesReadEngagement,
			ScopePagesManageMetadata,
		},
	}
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults(DefaultConfig())
	oauthClient, err := providers.NewOAuth2Client(cfg.OAuth2Config(core.PlatformFacebook))
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
	recipientID, err := providers.RequireRecipient(core.PlatformFacebook, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, "")
	if err != nil {
		return core.SendReceipt{}, err
	}
	payload := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": message},
	}
	return providers.PostMessage(ctx, c.rest, c.apiBaseURL+"/me/messages", providers.BearerHeaders(token), payload)
}

var _ core.PlatformClient = (*Client)(nil)
var _ core.Authorizer = (*Client)(nil)
