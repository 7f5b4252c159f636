package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers"
	meta "github.com/goliatone/go-autoreply/providers/meta/common"
	"github.com/goliatone/go-autoreply/transport"
)

type Config struct {
	AccessToken   string
	PhoneNumberID string
	APIBaseURL    string
	HTTPClient    *http.Client
}

// Client sends text messages through the WhatsApp Cloud API from one business
// phone number.
type Client struct {
	rest          *transport.RESTAdapter
	apiBaseURL    string
	accessToken   string
	phoneNumberID string
}

func New(cfg Config) (*Client, error) {
	phoneNumberID := strings.TrimSpace(cfg.PhoneNumberID)
	if phoneNumberID == "" {
		return nil, fmt.Errorf("providers/whatsapp: phone number id is required")
	}
	base := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = meta.GraphBaseURL
	}
	return &Client{
		rest:          providers.NewREST(cfg.HTTPClient),
		apiBaseURL:    base,
		accessToken:   strings.TrimSpace(cfg.AccessToken),
		phoneNumberID: phoneNumberID,
	}, nil
}

func (*Client) Platform() core.Platform {
	return core.PlatformWhatsApp
}

func (*Client) Scopes() []string {
	return []string{}
}

func (c *Client) Send(ctx context.Context, conn core.Connection, message string, recipientID string) (core.SendReceipt, error) {
	recipientID, err := providers.RequireRecipient(core.PlatformWhatsApp, recipientID)
	if err != nil {
		return core.SendReceipt{}, err
	}
	token, err := providers.AccessToken(conn, c.accessToken)
	if err != nil {
		return core.SendReceipt{}, err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipientID,
		"type":              "text",
		"text":              map[string]string{"body": message},
	}
	endpoint := c.apiBaseURL + "/" + url.PathEscape(c.phoneNumberID) + "/messages"
	return providers.PostMessage(ctx, c.rest, endpoint, providers.BearerHeaders(token), payload)
}

var _ core.PlatformClient = (*Client)(nil)
