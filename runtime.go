package autoreply

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-autoreply/adapters/gojob"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/ratelimit"
	"github.com/goliatone/go-autoreply/resilience"
	"github.com/goliatone/go-autoreply/security"
	"github.com/goliatone/go-autoreply/store"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultRefreshPace = time.Second

// Runtime is a fully wired autoreply stack: orchestrator, vault, governor,
// resilience layer, storage collections and the background refresh worker.
type Runtime struct {
	Config      core.Config
	Service     *core.Service
	Facade      *Facade
	Vault       *security.Vault
	Governor    *ratelimit.Governor
	Executor    *resilience.Executor
	ErrorLog    *resilience.ErrorLog
	Collections *store.Collections
	Queue       *gojob.MemoryQueue
	Scheduler   *gojob.RefreshScheduler
	Worker      *gojob.RefreshWorker

	logger core.Logger
	now    func() time.Time
}

type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	config         *core.Config
	kv             core.KeyValueStore
	clients        []core.PlatformClient
	skipBuiltins   bool
	httpClient     *http.Client
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	keySource      security.KeySource
	opener         core.Opener
	refreshPace    time.Duration
	now            func() time.Time
}

func WithConfig(cfg core.Config) RuntimeOption {
	return func(o *runtimeOptions) {
		o.config = &cfg
	}
}

// WithKeyValueStore sets the persistent namespace. Defaults to an in-memory store.
func WithKeyValueStore(kv core.KeyValueStore) RuntimeOption {
	return func(o *runtimeOptions) {
		o.kv = kv
	}
}

// WithPlatformClients registers clients ahead of the built-in ones; a client here
// replaces the built-in client for its platform.
func WithPlatformClients(clients ...core.PlatformClient) RuntimeOption {
	return func(o *runtimeOptions) {
		o.clients = append(o.clients, clients...)
	}
}

func WithoutBuiltinClients() RuntimeOption {
	return func(o *runtimeOptions) {
		o.skipBuiltins = true
	}
}

func WithHTTPClient(client *http.Client) RuntimeOption {
	return func(o *runtimeOptions) {
		o.httpClient = client
	}
}

func WithRuntimeLogger(logger core.Logger) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

func WithRuntimeLoggerProvider(provider core.LoggerProvider) RuntimeOption {
	return func(o *runtimeOptions) {
		o.loggerProvider = provider
	}
}

func WithMetrics(recorder core.MetricsRecorder) RuntimeOption {
	return func(o *runtimeOptions) {
		o.metrics = recorder
	}
}

func WithKeySource(source security.KeySource) RuntimeOption {
	return func(o *runtimeOptions) {
		o.keySource = source
	}
}

func WithRuntimeOpener(opener core.Opener) RuntimeOption {
	return func(o *runtimeOptions) {
		o.opener = opener
	}
}

// WithRefreshPace sets the minimum gap between background refresh calls.
func WithRefreshPace(pace time.Duration) RuntimeOption {
	return func(o *runtimeOptions) {
		o.refreshPace = pace
	}
}

func WithRuntimeClock(now func() time.Time) RuntimeOption {
	return func(o *runtimeOptions) {
		o.now = now
	}
}

// New wires the default stack and restores stored connections.
func New(ctx context.Context, opts ...RuntimeOption) (*Runtime, error) {
	options := runtimeOptions{refreshPace: defaultRefreshPace}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := core.DefaultConfig()
	if options.config != nil {
		cfg = *options.config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if options.now == nil {
		options.now = time.Now
	}
	if options.metrics == nil {
		options.metrics = core.NopMetricsRecorder{}
	}
	if options.kv == nil {
		options.kv = store.NewMemoryKV()
	}
	provider, logger := glog.Resolve("autoreply", options.loggerProvider, options.logger)
	logger = glog.Ensure(logger)
	named := func(name string) core.Logger {
		if provider == nil {
			return logger
		}
		return glog.Ensure(provider.GetLogger(name))
	}

	vaultOpts := []security.Option{security.WithLogger(named("vault")), security.WithNow(options.now)}
	if options.keySource != nil {
		vaultOpts = append(vaultOpts, security.WithKeySource(options.keySource))
	}
	vault, err := security.NewVault(options.kv, vaultOpts...)
	if err != nil {
		return nil, err
	}

	governor := ratelimit.NewGovernor(
		ratelimit.WithRateConfig(cfg.Rate),
		ratelimit.WithLogger(named("ratelimit")),
		ratelimit.WithNow(options.now),
	)

	errorLog := resilience.NewErrorLog(options.kv, named("errors"))
	if err := errorLog.Load(ctx); err != nil {
		return nil, fmt.Errorf("autoreply: load error log: %w", err)
	}
	executor := resilience.NewExecutor(
		resilience.WithRetryConfig(resilience.RetryConfigFrom(cfg.Retry)),
		resilience.WithErrorLog(errorLog),
		resilience.WithLogger(named("resilience")),
		resilience.WithNow(options.now),
	)

	collections, err := store.NewCollections(options.kv, store.WithLogger(named("store")), store.WithNow(options.now))
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, options)
	if err != nil {
		return nil, err
	}

	queue := gojob.NewMemoryQueue(gojob.WithQueueClock(options.now))
	scheduler := gojob.NewRefreshScheduler(queue)

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(options.metrics),
		core.WithCredentialVault(vault),
		core.WithRateGovernor(governor),
		core.WithRetrier(executor),
		core.WithPlatformRegistry(registry),
		core.WithAccountDirectory(collections),
		core.WithRefreshScheduler(scheduler),
		core.WithClock(options.now),
	}
	if provider != nil {
		serviceOpts = append(serviceOpts, core.WithLoggerProvider(provider))
	}
	if options.opener != nil {
		serviceOpts = append(serviceOpts, core.WithOpener(options.opener))
	}
	service, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		return nil, err
	}
	if err := service.Init(ctx); err != nil {
		return nil, err
	}

	facade, err := NewFacade(service,
		WithRateLimitReader(governor),
		WithErrorLogReader(errorLog),
		WithSecurityReader(vault),
	)
	if err != nil {
		return nil, err
	}

	pace := options.refreshPace
	limit := rate.Every(pace)
	if pace <= 0 {
		limit = rate.Inf
	}
	worker := gojob.NewRefreshWorker(queue, service,
		gojob.WithLimiter(rate.NewLimiter(limit, 1)),
		gojob.WithLogger(named("jobs")),
		gojob.WithHook(gojob.NewObservabilityHook(named("jobs"), options.metrics)),
		gojob.WithClock(options.now),
	)

	return &Runtime{
		Config:      service.Config(),
		Service:     service,
		Facade:      facade,
		Vault:       vault,
		Governor:    governor,
		Executor:    executor,
		ErrorLog:    errorLog,
		Collections: collections,
		Queue:       queue,
		Scheduler:   scheduler,
		Worker:      worker,
		logger:      logger,
		now:         options.now,
	}, nil
}

func buildRegistry(cfg core.Config, options runtimeOptions) (*core.MemoryPlatformRegistry, error) {
	registry := core.NewPlatformRegistry()
	for _, client := range options.clients {
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}
	if options.skipBuiltins {
		return registry, nil
	}
	builtins, err := BuiltinPlatformClients(cfg, options.httpClient)
	if err != nil {
		return nil, err
	}
	for _, client := range builtins {
		if _, exists := registry.Get(client.Platform()); exists {
			continue
		}
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Run drives the refresh worker and a periodic sweep that queues any connection
// expiring within the configured lead. It blocks until ctx is cancelled or the
// worker fails.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.Service == nil {
		return fmt.Errorf("autoreply: runtime is not initialized")
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.Worker.Run(groupCtx); err != nil {
			r.logger.Error("refresh worker stopped", "error", err.Error())
			return fmt.Errorf("autoreply: refresh worker: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		interval := r.Config.Refresh.Interval()
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.SweepRefreshes(groupCtx)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				r.SweepRefreshes(groupCtx)
			}
		}
	})
	return group.Wait()
}

// SweepRefreshes queues an immediate refresh for every connection due within the
// refresh lead and returns how many were queued.
func (r *Runtime) SweepRefreshes(ctx context.Context) int {
	queued := 0
	for _, accountID := range r.Service.RefreshDue(r.Config.Refresh.Lead()) {
		if err := r.Scheduler.ScheduleRefresh(ctx, accountID, r.now()); err != nil {
			r.logger.Warn("refresh sweep scheduling failed", "account_id", accountID, "error", err.Error())
			continue
		}
		queued++
	}
	return queued
}
