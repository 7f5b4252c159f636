package autoreply

import (
	"fmt"

	"github.com/goliatone/go-autoreply/command"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/query"
)

// CommandQueryService is the orchestrator surface the facade drives.
type CommandQueryService interface {
	command.MutatingService
	query.ConnectionReader
}

type Commands struct {
	StartAuthorization    *command.StartAuthorizationCommand
	DeliverAuthorization  *command.DeliverAuthorizationCommand
	CancelAuthorization   *command.CancelAuthorizationCommand
	CompleteAuthorization *command.CompleteAuthorizationCommand
	ConnectWithToken      *command.ConnectWithTokenCommand
	RefreshConnection     *command.RefreshConnectionCommand
	SendReply             *command.SendReplyCommand
	Disconnect            *command.DisconnectCommand
}

type Queries struct {
	ConnectionStatus *query.ConnectionStatusQuery
	ListConnections  *query.ListConnectionsQuery
	RateLimitStatus  *query.RateLimitStatusQuery
	ErrorStats       *query.ErrorStatsQuery
	SecurityStatus   *query.SecurityStatusQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	governor query.RateLimitReader
	errorLog query.ErrorLogReader
	vault    query.SecurityReader
}

func WithRateLimitReader(reader query.RateLimitReader) FacadeOption {
	return func(options *facadeOptions) {
		options.governor = reader
	}
}

func WithErrorLogReader(reader query.ErrorLogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.errorLog = reader
	}
}

func WithSecurityReader(reader query.SecurityReader) FacadeOption {
	return func(options *facadeOptions) {
		options.vault = reader
	}
}

// NewFacade builds every command and query handler around service. Queries whose
// reader was not supplied still exist and report a dependency error when run.
func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("autoreply: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartAuthorization:    command.NewStartAuthorizationCommand(service),
		DeliverAuthorization:  command.NewDeliverAuthorizationCommand(service),
		CancelAuthorization:   command.NewCancelAuthorizationCommand(service),
		CompleteAuthorization: command.NewCompleteAuthorizationCommand(service),
		ConnectWithToken:      command.NewConnectWithTokenCommand(service),
		RefreshConnection:     command.NewRefreshConnectionCommand(service),
		SendReply:             command.NewSendReplyCommand(service),
		Disconnect:            command.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		ConnectionStatus: query.NewConnectionStatusQuery(service),
		ListConnections:  query.NewListConnectionsQuery(service),
		RateLimitStatus:  query.NewRateLimitStatusQuery(cfg.governor),
		ErrorStats:       query.NewErrorStatsQuery(cfg.errorLog),
		SecurityStatus:   query.NewSecurityStatusQuery(cfg.vault),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)
