package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
	"golang.org/x/oauth2"
)

const (
	defaultTokenTTL            = time.Hour
	defaultTokenRequestTimeout = 30 * time.Second

	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

type OAuth2Config struct {
	Platform     core.Platform
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// TokenTTL applies when the token endpoint omits expires_in.
	TokenTTL   time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// OAuth2Client drives the authorization-code and refresh grants for one platform.
// Credentials travel in the form body and scopes are comma joined, which is what
// the Meta and LINE endpoints accept.
type OAuth2Client struct {
	platform   core.Platform
	scopes     []string
	config     oauth2.Config
	httpClient *http.Client
	tokenTTL   time.Duration
	now        func() time.Time
}

func NewOAuth2Client(cfg OAuth2Config) (*OAuth2Client, error) {
	platform := core.NormalizePlatform(string(cfg.Platform))
	if platform == "" {
		return nil, fmt.Errorf("providers: platform is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for %q", platform)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for %q", platform)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for %q", platform)
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTokenRequestTimeout}
	}

	return &OAuth2Client{
		platform: platform,
		scopes:   NormalizeScopes(cfg.Scopes),
		config: oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURI),
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimSpace(cfg.AuthURL),
				TokenURL:  strings.TrimSpace(cfg.TokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		tokenTTL:   ttl,
		now:        now,
	}, nil
}

func (c *OAuth2Client) Platform() core.Platform {
	if c == nil {
		return ""
	}
	return c.platform
}

func (c *OAuth2Client) Scopes() []string {
	if c == nil {
		return []string{}
	}
	return append([]string(nil), c.scopes...)
}

func (c *OAuth2Client) AuthorizationURL(state string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("providers: oauth2 client is nil")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("providers: state is required")
	}
	var opts []oauth2.AuthCodeOption
	if len(c.scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(c.scopes, ",")))
	}
	return c.config.AuthCodeURL(state, opts...), nil
}

func (c *OAuth2Client) Exchange(ctx context.Context, code string) (core.TokenRecord, error) {
	if c == nil {
		return core.TokenRecord{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenRecord{}, fmt.Errorf("providers: authorization code is required")
	}
	token, err := c.config.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return core.TokenRecord{}, c.tokenError(GrantAuthorizationCode, err)
	}
	return c.record(token, ""), nil
}

// Refresh runs the refresh_token grant. The redirect URI is not sent and the
// previous refresh token is kept when the platform does not rotate it.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (core.TokenRecord, error) {
	if c == nil {
		return core.TokenRecord{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenRecord{}, fmt.Errorf("providers: refresh token is required")
	}
	source := c.config.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.TokenRecord{}, c.tokenError(GrantRefreshToken, err)
	}
	return c.record(token, refreshToken), nil
}

func (c *OAuth2Client) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *OAuth2Client) record(token *oauth2.Token, previousRefresh string) core.TokenRecord {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(c.tokenTTL)
	}
	refresh := strings.TrimSpace(token.RefreshToken)
	if refresh == "" {
		refresh = previousRefresh
	}
	return core.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UTC(),
	}
}

func (c *OAuth2Client) tokenError(grant string, err error) error {
	exchangeErr := &core.TokenExchangeError{Platform: c.platform, GrantType: grant, Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			exchangeErr.Status = retrieveErr.Response.StatusCode
		}
		exchangeErr.Body = string(retrieveErr.Body)
	}
	return exchangeErr
}

// NormalizeScopes trims, drops blanks and removes duplicates, keeping order.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := map[string]struct{}{}
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

var _ core.Authorizer = (*OAuth2Client)(nil)
