package common

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
)

const (
	GraphAPIVersion = "v18.0"
	GraphBaseURL    = "https://graph.facebook.com/" + GraphAPIVersion
)

// AuthConfig is the credential block shared by the Meta platforms.
type AuthConfig struct {
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

// WithDefaults fills blank endpoints and scopes from defaults.
func (c AuthConfig) WithDefaults(defaults AuthConfig) AuthConfig {
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = defaults.APIBaseURL
	}
	if len(providers.NormalizeScopes(c.Scopes)) == 0 {
		c.Scopes = append([]string(nil), defaults.Scopes...)
	}
	c.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.APIBaseURL), "/")
	return c
}

func (c AuthConfig) OAuth2Config(platform core.Platform) providers.OAuth2Config {
	return providers.OAuth2Config{
		Platform:     platform,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURI:  c.RedirectURI,
		Scopes:       c.Scopes,
		TokenTTL:     c.TokenTTL,
		HTTPClient:   c.HTTPClient,
		Now:          c.Now,
	}
}
