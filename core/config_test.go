package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvConfigLoader_ReadsPlatformAndServiceKeys(t *testing.T) {
	env := map[string]string{
		"INSTAGRAM_CLIENT_ID":         "ig_client",
		"INSTAGRAM_CLIENT_SECRET":     "ig_secret",
		"LINE_REDIRECT_URI":           "https://app.example/line/callback",
		"TELEGRAM_BOT_TOKEN":          "123:abc",
		"WHATSAPP_PHONE_NUMBER_ID":    "5550001",
		"AUTOREPLY_RETRY_MAX_RETRIES": "5",
		"AUTOREPLY_HTTP_ADDR":         ":9090",
		"AUTOREPLY_RATE_GLOBAL_LIMIT": "50",
		"AUTOREPLY_STORAGE_DRIVER":    "badger",
		"AUTOREPLY_UNRELATED_SETTING": "ignored",
	}
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	cfg, err := LoadConfig(context.Background(), loader, Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ig := cfg.Platform(PlatformInstagram)
	if ig.ClientID != "ig_client" || ig.ClientSecret != "ig_secret" {
		t.Fatalf("unexpected instagram config %+v", ig)
	}
	if ig.RedirectURI != DefaultConfig().RedirectURI {
		t.Fatalf("expected service redirect uri fallback, got %q", ig.RedirectURI)
	}
	if cfg.Platform(PlatformLINE).RedirectURI != "https://app.example/line/callback" {
		t.Fatalf("expected line redirect override")
	}
	if cfg.Platform(PlatformTelegram).BotToken != "123:abc" {
		t.Fatalf("expected telegram bot token")
	}
	if cfg.Platform(PlatformWhatsApp).PhoneNumberID != "5550001" {
		t.Fatalf("expected whatsapp phone number id")
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BaseDelayMS != 1000 {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Rate.GlobalLimit != 50 || cfg.Rate.GlobalWindowSeconds != 3600 {
		t.Fatalf("unexpected rate config %+v", cfg.Rate)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Storage.Driver != "badger" {
		t.Fatalf("unexpected http/storage config %+v %+v", cfg.HTTP, cfg.Storage)
	}
}

func TestEnvConfigLoader_RejectsNonNumericValues(t *testing.T) {
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		if key == "AUTOREPLY_RETRY_MAX_RETRIES" {
			return "three", true
		}
		return "", false
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMergedConfigLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoreply.yaml")
	payload := []byte(`
service_name: replies
platforms:
  facebook:
    client_id: fb_file
    client_secret: fb_file_secret
retry:
  max_retries: 4
`)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		if key == "FACEBOOK_CLIENT_ID" {
			return "fb_env", true
		}
		return "", false
	}}

	cfg, err := LoadConfig(context.Background(), MergedConfigLoader{
		Loaders: []RawConfigLoader{FileConfigLoader{Path: path}, env},
	}, Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	fb := cfg.Platform(PlatformFacebook)
	if fb.ClientID != "fb_env" || fb.ClientSecret != "fb_file_secret" {
		t.Fatalf("expected env to override file key by key, got %+v", fb)
	}
	if cfg.ServiceName != "replies" || cfg.Retry.MaxRetries != 4 {
		t.Fatalf("unexpected merged config %+v", cfg)
	}
}

func TestFileConfigLoader_MissingFileIsEmpty(t *testing.T) {
	raw, err := FileConfigLoader{Path: filepath.Join(t.TempDir(), "missing.yaml")}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("expected empty map, got %v", raw)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	cfg.Platforms = map[string]PlatformConfig{"myspace": {ClientID: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown platform to fail validation")
	}
	cfg = DefaultConfig()
	cfg.Retry.MaxRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected max_retries validation failure")
	}
}

func TestGoOptionsResolver_RuntimeWins(t *testing.T) {
	defaults := DefaultConfig()
	loaded := DefaultConfig()
	loaded.HTTP.Addr = ":7000"
	runtime := Config{HTTP: HTTPConfig{Addr: ":7100"}}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.HTTP.Addr != ":7100" {
		t.Fatalf("expected runtime addr, got %q", resolved.HTTP.Addr)
	}
	if resolved.ServiceName != "autoreply" {
		t.Fatalf("expected defaults preserved, got %q", resolved.ServiceName)
	}
}
