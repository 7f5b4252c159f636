package line

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	"github.com/goliatone/go-autoreply/transport"
)

const (
	AuthURL    = "https://access.line.me/oauth2/v2.1/authorize"
	TokenURL   = "https://api.line.me/oauth2/v2.1/token"
	APIBaseURL = "https://api.line.me/v2"
)

const (
	ScopeProfile          = "profile"
	ScopeOpenID           = "openid"
	ScopeChatMessageWrite = "chat_message.write"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	TokenTTL     time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
		Scopes:     []string{ScopeProfile, ScopeOpenID, ScopeChatMessageWrite},
	}
}

// Client pushes text messages through the LINE Messaging API.
type Client struct {
	*providers.OAuth2Client
	rest       *transport.RESTAdapter
	apiBaseURL string
}

func New(cfg Config) (*Client, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(providers.NormalizeScopes(cfg.Scopes)) == 0 {
		cfg.Scopes = defaults.Scopes
	}

	oauthClient, err := providers.NewOAuth2Client(providers.OAuth2Config{
		Platform:     core.PlatformLINE,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		TokenTTL:     cfg.TokenTTL,
		HTTPClient:   cfg.HTTPClient,
		Now:          cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		OAuth2Client: oauthClient,
		rest:         providers.NewREST(cfg.HTTPClient),
		apiBaseURL:   strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/"),
	}, nil
}

func (c *Client) Send(ctx context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	recipientID, err := providers.RequireRecipient(core.PlatformLINE, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, "")
	if err != nil {
		return core.SendReceipt{}, err
	}
	payload := map[string]any{
		"to": recipientID,
		"messages": []map[string]string{
			{"type": "text", "text": message},
		},
	}
	return providers.PostMessage(ctx, c.rest, c.apiBaseURL+"/bot/message/push", providers.BearerHeaders(token), payload)
}

var _ core.PlatformClient = (*Client)(nil)
var _ core.Authorizer = (*Client)(nil)
