package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	vault            CredentialVault
	governor         RateGovernor
	retrier          Retrier
	registry         PlatformRegistry
	accounts         AccountDirectory
	opener           Opener
	sessionStore     OAuthSessionStore
	accountLocker    AccountLocker
	refreshScheduler RefreshScheduler
	now              func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialVault(vault CredentialVault) Option {
	return func(b *serviceBuilder) {
		b.vault = vault
	}
}

func WithRateGovernor(governor RateGovernor) Option {
	return func(b *serviceBuilder) {
		b.governor = governor
	}
}

func WithRetrier(retrier Retrier) Option {
	return func(b *serviceBuilder) {
		b.retrier = retrier
	}
}

func WithPlatformRegistry(registry PlatformRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithAccountDirectory(accounts AccountDirectory) Option {
	return func(b *serviceBuilder) {
		b.accounts = accounts
	}
}

func WithOpener(opener Opener) Option {
	return func(b *serviceBuilder) {
		b.opener = opener
	}
}

func WithOAuthSessionStore(store OAuthSessionStore) Option {
	return func(b *serviceBuilder) {
		b.sessionStore = store
	}
}

func WithAccountLocker(locker AccountLocker) Option {
	return func(b *serviceBuilder) {
		b.accountLocker = locker
	}
}

func WithRefreshScheduler(scheduler RefreshScheduler) Option {
	return func(b *serviceBuilder) {
		b.refreshScheduler = scheduler
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("autoreply", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewPlatformRegistry(),
		now:             time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded < runtime. Zero values in the upper
// layers never shadow a lower layer.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	putInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	putSection := func(key string, section map[string]any) {
		if len(section) > 0 {
			layer[key] = section
		}
	}

	putString(layer, "service_name", cfg.ServiceName)
	putString(layer, "redirect_uri", cfg.RedirectURI)

	platforms := map[string]any{}
	for name, platform := range cfg.Platforms {
		if platform.empty() && !includeZero {
			continue
		}
		entry := map[string]any{}
		putString(entry, "client_id", platform.ClientID)
		putString(entry, "client_secret", platform.ClientSecret)
		putString(entry, "redirect_uri", platform.RedirectURI)
		putString(entry, "access_token", platform.AccessToken)
		putString(entry, "bot_token", platform.BotToken)
		putString(entry, "phone_number_id", platform.PhoneNumberID)
		platforms[name] = entry
	}
	putSection("platforms", platforms)

	retry := map[string]any{}
	putInt(retry, "max_retries", cfg.Retry.MaxRetries)
	putInt(retry, "base_delay_ms", cfg.Retry.BaseDelayMS)
	putInt(retry, "max_delay_ms", cfg.Retry.MaxDelayMS)
	if includeZero || cfg.Retry.ExponentialBackoff {
		retry["exponential_backoff"] = cfg.Retry.ExponentialBackoff
	}
	putSection("retry", retry)

	rate := map[string]any{}
	putInt(rate, "global_limit", cfg.Rate.GlobalLimit)
	putInt(rate, "global_window_seconds", cfg.Rate.GlobalWindowSeconds)
	putSection("rate", rate)

	storage := map[string]any{}
	putString(storage, "driver", cfg.Storage.Driver)
	putString(storage, "dsn", cfg.Storage.DSN)
	putString(storage, "path", cfg.Storage.Path)
	putSection("storage", storage)

	httpSection := map[string]any{}
	putString(httpSection, "addr", cfg.HTTP.Addr)
	putSection("http", httpSection)

	refresh := map[string]any{}
	putInt(refresh, "interval_seconds", cfg.Refresh.IntervalSeconds)
	putInt(refresh, "lead_seconds", cfg.Refresh.LeadSeconds)
	putSection("refresh", refresh)

	return layer
}

// LoadConfig resolves a Config from a raw loader the same way NewService does.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}
