package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the connection registry and OAuth orchestrator. It owns the in-memory
// connection map and routes every credential change through the vault.
type Service struct {
	config           Config
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

	mu          sync.RWMutex
	connections map[string]Connection

	pendingMu sync.Mutex
	pending   map[string]*PendingAuthorization
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("autoreply", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("autoreply"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewPlatformRegistry()
	}
	if builder.now == nil {
		builder.now = time.Now
	}
	if builder.sessionStore == nil {
		sessions := NewMemoryOAuthSessionStore(defaultOAuthSessionTTL)
		clock := builder.now
		sessions.now = func() time.Time { return clock().UTC() }
		builder.sessionStore = sessions
	}
	if builder.accountLocker == nil {
		builder.accountLocker = NewMemoryAccountLocker()
	}

	switch {
	case builder.vault == nil:
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: credential vault is required"))
	case builder.governor == nil:
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: rate governor is required"))
	case builder.retrier == nil:
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: retrier is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		vault:            builder.vault,
		governor:         builder.governor,
		retrier:          builder.retrier,
		registry:         builder.registry,
		accounts:         builder.accounts,
		opener:           builder.opener,
		sessionStore:     builder.sessionStore,
		accountLocker:    builder.accountLocker,
		refreshScheduler: builder.refreshScheduler,
		now:              builder.now,
		connections:      map[string]Connection{},
		pending:          map[string]*PendingAuthorization{},
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() PlatformRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

// SetRefreshScheduler late-binds the scheduler, which usually needs the service itself.
func (s *Service) SetRefreshScheduler(scheduler RefreshScheduler) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.refreshScheduler = scheduler
	s.mu.Unlock()
}

// Init initialises the vault, loads stored connections for every known account and
// refreshes the ones whose token is expired or about to expire.
func (s *Service) Init(ctx context.Context) (err error) {
	startedAt := s.now()
	loaded := 0
	refreshed := 0
	defer func() {
		s.observeOperation(ctx, startedAt, "init", err, map[string]any{
			"loaded_connections":    loaded,
			"refreshed_connections": refreshed,
		})
	}()

	if err = s.vault.Initialize(ctx); err != nil {
		return s.mapError(err)
	}

	loaded, err = s.loadStoredConnections(ctx)
	if err != nil {
		return s.mapError(err)
	}

	for _, conn := range s.snapshotConnections() {
		token := conn.Token()
		if !s.vault.IsExpired(&token) {
			s.scheduleRefresh(ctx, conn)
			continue
		}
		if s.Refresh(ctx, conn.AccountID) {
			refreshed++
		}
	}
	return nil
}

func (s *Service) loadStoredConnections(ctx context.Context) (int, error) {
	if s.accounts == nil {
		return 0, nil
	}
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, account := range accounts {
		token, tokenErr := s.vault.GetToken(ctx, account.ID)
		if tokenErr != nil {
			s.logWarn(ctx, "stored token unreadable", map[string]any{
				"account_id": account.ID,
				"platform":   string(account.Platform),
				"error":      tokenErr.Error(),
			})
			continue
		}
		if token == nil || token.AccessToken == "" {
			continue
		}
		s.putConnection(Connection{
			AccountID:    account.ID,
			Platform:     NormalizePlatform(string(account.Platform)),
			Username:     account.Username,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.ExpiresAt,
		})
		loaded++
	}
	return loaded, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	if mapped.Source == nil && !isServiceEnvelope(err) {
		mapped.Source = err
	}
	return mapped
}

func isServiceEnvelope(err error) bool {
	_, ok := err.(*goerrors.Error)
	return ok
}
