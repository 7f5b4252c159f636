package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	autoreply "github.com/goliatone/go-autoreply"
	"github.com/goliatone/go-autoreply/adapters/gocommand"
	"github.com/goliatone/go-autoreply/adapters/gologger"
	"github.com/goliatone/go-autoreply/adapters/prometheus"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/httpapi"
	"github.com/goliatone/go-autoreply/query"
	"github.com/goliatone/go-autoreply/ratelimit"
	"github.com/goliatone/go-autoreply/security"
	"github.com/goliatone/go-autoreply/store"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type cliOptions struct {
	configPath string
	logLevel   string
	console    bool
	addr       string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "autoreply",
		Short:         "Manage social platform connections and send automated replies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "autoreply.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.console, "console", false, "human readable log output")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background token refresher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serve.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides http.addr")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print connection, rate limit and security status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), opts, nil, func(ctx context.Context, runtime *autoreply.Runtime) error {
				subs, err := registerBus(runtime)
				if err != nil {
					return err
				}
				defer subs.Unsubscribe()
				return printStatus(ctx, cmd.OutOrStdout())
			})
		},
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write accounts, rules, templates, schedules and settings as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), opts, nil, func(ctx context.Context, runtime *autoreply.Runtime) error {
				data, err := runtime.Collections.Export(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), data)
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a JSON export into storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var data store.ExportData
			if err := json.Unmarshal(payload, &data); err != nil {
				return fmt.Errorf("decode export: %w", err)
			}
			return withRuntime(cmd.Context(), opts, nil, func(ctx context.Context, runtime *autoreply.Runtime) error {
				if err := runtime.Collections.Import(ctx, data); err != nil {
					return err
				}
				stats, err := runtime.Collections.Stats(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	root.AddCommand(serve, status, export, importCmd)
	return root
}

func newLogger(opts *cliOptions) *gologger.ZerologLogger {
	loggerOpts := []gologger.Option{gologger.WithLevel(opts.logLevel)}
	if opts.console {
		loggerOpts = append(loggerOpts, gologger.WithConsole())
	}
	return gologger.NewZerologLogger(os.Stderr, loggerOpts...)
}

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	loader := core.MergedConfigLoader{Loaders: []core.RawConfigLoader{
		core.FileConfigLoader{Path: path},
		core.NewEnvConfigLoader(),
	}}
	return core.LoadConfig(ctx, loader, core.Config{})
}

// withRuntime loads config, opens storage and builds a runtime for fn.
func withRuntime(ctx context.Context, opts *cliOptions, metrics core.MetricsRecorder, fn func(context.Context, *autoreply.Runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts)
	cfg, err := loadConfig(ctx, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	kv, closeStore, err := openStore(ctx, cfg.Storage, logger.GetLogger("storage"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			logger.Warn("storage close failed", "error", closeErr)
		}
	}()

	runtimeOpts := []autoreply.RuntimeOption{
		autoreply.WithConfig(cfg),
		autoreply.WithKeyValueStore(kv),
		autoreply.WithRuntimeLogger(logger),
		autoreply.WithRuntimeLoggerProvider(logger),
	}
	if metrics != nil {
		runtimeOpts = append(runtimeOpts, autoreply.WithMetrics(metrics))
	}
	runtime, err := autoreply.New(ctx, runtimeOpts...)
	if err != nil {
		return err
	}
	return fn(ctx, runtime)
}

func runServe(ctx context.Context, opts *cliOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := prometheus.NewRecorder()
	return withRuntime(ctx, opts, recorder, func(ctx context.Context, runtime *autoreply.Runtime) error {
		subs, err := registerBus(runtime)
		if err != nil {
			return err
		}
		defer subs.Unsubscribe()

		logger := newLogger(opts).GetLogger("http")
		addr := runtime.Config.HTTP.Addr
		if opts.addr != "" {
			addr = opts.addr
		}

		gin.SetMode(gin.ReleaseMode)
		server := &http.Server{
			Addr: addr,
			Handler: httpapi.NewServer(runtime.Facade,
				httpapi.WithMetricsHandler(recorder.Handler()),
				httpapi.WithLogger(logger),
			).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 2)
		go func() {
			errCh <- runtime.Run(ctx)
		}()
		go func() {
			logger.Info("http server listening", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				stop()
				_ = server.Close()
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
}

type statusReport struct {
	Connections []core.ConnectionStatus `json:"connections"`
	Rate        ratelimit.Report        `json:"rate"`
	Errors      query.ErrorStatsResult  `json:"errors"`
	Security    security.Status         `json:"security"`
}

// registerBus exposes the runtime's commands and queries on the in-process
// go-command dispatcher.
func registerBus(runtime *autoreply.Runtime) (gocommand.Subscriptions, error) {
	adapter := gocommand.NewRegistryAdapter(nil)
	subs, err := gocommand.Register(adapter, gocommand.Handlers{
		Service:  runtime.Service,
		Governor: runtime.Governor,
		ErrorLog: runtime.ErrorLog,
		Vault:    runtime.Vault,
	})
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		subs.Unsubscribe()
		return nil, err
	}
	return subs, nil
}

// printStatus reads every report through the dispatcher.
func printStatus(ctx context.Context, out io.Writer) error {
	connections, err := gocommand.Query[query.ListConnectionsMessage, []core.ConnectionStatus](ctx, query.ListConnectionsMessage{})
	if err != nil {
		return err
	}
	rate, err := gocommand.Query[query.RateLimitStatusMessage, ratelimit.Report](ctx, query.RateLimitStatusMessage{})
	if err != nil {
		return err
	}
	errorStats, err := gocommand.Query[query.ErrorStatsMessage, query.ErrorStatsResult](ctx, query.ErrorStatsMessage{RecentLimit: 5})
	if err != nil {
		return err
	}
	vaultStatus, err := gocommand.Query[query.SecurityStatusMessage, security.Status](ctx, query.SecurityStatusMessage{})
	if err != nil {
		return err
	}
	return writeJSON(out, statusReport{
		Connections: connections,
		Rate:        rate,
		Errors:      errorStats,
		Security:    vaultStatus,
	})
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
