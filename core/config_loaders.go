package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// EnvConfigLoader reads platform credentials (INSTAGRAM_CLIENT_ID, LINE_REDIRECT_URI,
// TELEGRAM_BOT_TOKEN, ...) and AUTOREPLY_* service settings from the environment.
type EnvConfigLoader struct {
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader() EnvConfigLoader {
	return EnvConfigLoader{Lookup: os.LookupEnv}
}

var platformEnvFields = map[string]string{
	"CLIENT_ID":       "client_id",
	"CLIENT_SECRET":   "client_secret",
	"REDIRECT_URI":    "redirect_uri",
	"ACCESS_TOKEN":    "access_token",
	"BOT_TOKEN":       "bot_token",
	"PHONE_NUMBER_ID": "phone_number_id",
}

var serviceEnvFields = []struct {
	env     string
	path    []string
	numeric bool
}{
	{env: "AUTOREPLY_SERVICE_NAME", path: []string{"service_name"}},
	{env: "AUTOREPLY_REDIRECT_URI", path: []string{"redirect_uri"}},
	{env: "AUTOREPLY_RETRY_MAX_RETRIES", path: []string{"retry", "max_retries"}, numeric: true},
	{env: "AUTOREPLY_RETRY_BASE_DELAY_MS", path: []string{"retry", "base_delay_ms"}, numeric: true},
	{env: "AUTOREPLY_RETRY_MAX_DELAY_MS", path: []string{"retry", "max_delay_ms"}, numeric: true},
	{env: "AUTOREPLY_RATE_GLOBAL_LIMIT", path: []string{"rate", "global_limit"}, numeric: true},
	{env: "AUTOREPLY_RATE_GLOBAL_WINDOW_SECONDS", path: []string{"rate", "global_window_seconds"}, numeric: true},
	{env: "AUTOREPLY_STORAGE_DRIVER", path: []string{"storage", "driver"}},
	{env: "AUTOREPLY_STORAGE_DSN", path: []string{"storage", "dsn"}},
	{env: "AUTOREPLY_STORAGE_PATH", path: []string{"storage", "path"}},
	{env: "AUTOREPLY_HTTP_ADDR", path: []string{"http", "addr"}},
	{env: "AUTOREPLY_REFRESH_INTERVAL_SECONDS", path: []string{"refresh", "interval_seconds"}, numeric: true},
	{env: "AUTOREPLY_REFRESH_LEAD_SECONDS", path: []string{"refresh", "lead_seconds"}, numeric: true},
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}

	platforms := map[string]any{}
	for _, platform := range KnownPlatforms() {
		prefix := strings.ToUpper(string(platform)) + "_"
		fields := map[string]any{}
		for suffix, key := range platformEnvFields {
			if value, ok := lookup(prefix + suffix); ok && strings.TrimSpace(value) != "" {
				fields[key] = strings.TrimSpace(value)
			}
		}
		if len(fields) > 0 {
			platforms[string(platform)] = fields
		}
	}
	if len(platforms) > 0 {
		raw["platforms"] = platforms
	}

	for _, field := range serviceEnvFields {
		value, ok := lookup(field.env)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		var typed any = strings.TrimSpace(value)
		if field.numeric {
			parsed, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("core: %s must be an integer: %w", field.env, err)
			}
			typed = parsed
		}
		setPath(raw, field.path, typed)
	}
	return raw, nil
}

// FileConfigLoader reads a YAML document. A missing file yields an empty map.
type FileConfigLoader struct {
	Path string
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if strings.TrimSpace(l.Path) == "" {
		return map[string]any{}, nil
	}
	payload, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("core: decode config file: %w", err)
	}
	return raw, nil
}

// MergedConfigLoader applies loaders in order; later loaders win key by key.
type MergedConfigLoader struct {
	Loaders []RawConfigLoader
}

func (l MergedConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	merged := map[string]any{}
	for _, loader := range l.Loaders {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeRaw(merged, raw)
	}
	return merged, nil
}

func mergeRaw(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeRaw(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			copied := map[string]any{}
			mergeRaw(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

func setPath(raw map[string]any, path []string, value any) {
	current := raw
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
