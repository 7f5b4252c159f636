package autoreply

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/providers/line"
	"github.com/goliatone/go-autoreply/providers/meta/facebook"
	"github.com/goliatone/go-autoreply/providers/meta/instagram"
	"github.com/goliatone/go-autoreply/providers/telegram"
	"github.com/goliatone/go-autoreply/providers/twitter"
	"github.com/goliatone/go-autoreply/providers/whatsapp"
)

func FacebookClient(cfg facebook.Config) (core.PlatformClient, error) {
	return facebook.New(cfg)
}

func InstagramClient(cfg instagram.Config) (core.PlatformClient, error) {
	return instagram.New(cfg)
}

func LINEClient(cfg line.Config) (core.PlatformClient, error) {
	return line.New(cfg)
}

func TwitterClient(cfg twitter.Config) (core.PlatformClient, error) {
	return twitter.New(cfg)
}

func TelegramClient(cfg telegram.Config) (core.PlatformClient, error) {
	return telegram.New(cfg)
}

func WhatsAppClient(cfg whatsapp.Config) (core.PlatformClient, error) {
	return whatsapp.New(cfg)
}

// BuiltinPlatformClients builds a client for every platform that has
// credentials in cfg. Platforms without credentials are skipped; the service
// reports them as not configured.
func BuiltinPlatformClients(cfg core.Config, httpClient *http.Client) ([]core.PlatformClient, error) {
	var clients []core.PlatformClient
	add := func(platform core.Platform, client core.PlatformClient, err error) error {
		if err != nil {
			return fmt.Errorf("autoreply: build %s client: %w", platform, err)
		}
		clients = append(clients, client)
		return nil
	}

	for _, platform := range core.KnownPlatforms() {
		pc := cfg.Platform(platform)
		var err error
		switch platform {
		case core.PlatformFacebook:
			if hasText(pc.ClientID) {
				client, buildErr := FacebookClient(facebook.Config{
					ClientID: pc.ClientID, ClientSecret: pc.ClientSecret, RedirectURI: pc.RedirectURI, HTTPClient: httpClient,
				})
				err = add(platform, client, buildErr)
			}
		case core.PlatformInstagram:
			if hasText(pc.ClientID) {
				client, buildErr := InstagramClient(instagram.Config{
					ClientID: pc.ClientID, ClientSecret: pc.ClientSecret, RedirectURI: pc.RedirectURI, HTTPClient: httpClient,
				})
				err = add(platform, client, buildErr)
			}
		case core.PlatformLINE:
			if hasText(pc.ClientID) {
				client, buildErr := LINEClient(line.Config{
					ClientID: pc.ClientID, ClientSecret: pc.ClientSecret, RedirectURI: pc.RedirectURI, HTTPClient: httpClient,
				})
				err = add(platform, client, buildErr)
			}
		case core.PlatformTwitter:
			if hasText(pc.AccessToken) {
				client, buildErr := TwitterClient(twitter.Config{AccessToken: pc.AccessToken, HTTPClient: httpClient})
				err = add(platform, client, buildErr)
			}
		case core.PlatformTelegram:
			if hasText(pc.BotToken) {
				client, buildErr := TelegramClient(telegram.Config{BotToken: pc.BotToken, HTTPClient: httpClient})
				err = add(platform, client, buildErr)
			}
		case core.PlatformWhatsApp:
			if hasText(pc.AccessToken) || hasText(pc.PhoneNumberID) {
				client, buildErr := WhatsAppClient(whatsapp.Config{
					AccessToken: pc.AccessToken, PhoneNumberID: pc.PhoneNumberID, HTTPClient: httpClient,
				})
				err = add(platform, client, buildErr)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return clients, nil
}

func hasText(value string) bool {
	return strings.TrimSpace(value) != ""
}
