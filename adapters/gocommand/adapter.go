package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-autoreply/command"
	"github.com/goliatone/go-autoreply/query"
	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *gocmd.Registry
}

func NewRegistryAdapter(registry *gocmd.Registry) *RegistryAdapter {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *gocmd.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver gocmd.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry so
// they can also run as background jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd gocmd.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry gocmd.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Handlers are the collaborators behind every autoreply command and query.
// Nil readers leave the matching query unregistered.
type Handlers struct {
	Service  command.MutatingService
	Governor query.RateLimitReader
	ErrorLog query.ErrorLogReader
	Vault    query.SecurityReader
}

// Subscriptions tracks everything Register subscribed so it can be undone.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// Register subscribes the autoreply commands and queries on the dispatcher and
// records them in the registry.
func Register(adapter *RegistryAdapter, handlers Handlers, runnerOpts ...runner.Option) (Subscriptions, error) {
	if handlers.Service == nil {
		return nil, fmt.Errorf("gocommand: service is required")
	}
	var subs Subscriptions
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	svc := handlers.Service
	steps := []func() error{
		func() error { return add(RegisterAndSubscribe(adapter, command.NewStartAuthorizationCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewDeliverAuthorizationCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewCancelAuthorizationCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewCompleteAuthorizationCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewConnectWithTokenCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewRefreshConnectionCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewSendReplyCommand(svc), runnerOpts...)) },
		func() error { return add(RegisterAndSubscribe(adapter, command.NewDisconnectCommand(svc), runnerOpts...)) },
	}
	if reader, ok := svc.(query.ConnectionReader); ok {
		steps = append(steps,
			func() error { return add(RegisterAndSubscribeQuery(adapter, query.NewConnectionStatusQuery(reader), runnerOpts...)) },
			func() error { return add(RegisterAndSubscribeQuery(adapter, query.NewListConnectionsQuery(reader), runnerOpts...)) },
		)
	}
	if handlers.Governor != nil {
		steps = append(steps, func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewRateLimitStatusQuery(handlers.Governor), runnerOpts...))
		})
	}
	if handlers.ErrorLog != nil {
		steps = append(steps, func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewErrorStatsQuery(handlers.ErrorLog), runnerOpts...))
		})
	}
	if handlers.Vault != nil {
		steps = append(steps, func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewSecurityStatusQuery(handlers.Vault), runnerOpts...))
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}
