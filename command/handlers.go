package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-autoreply/core"
)

// MutatingService is the slice of core.Service the commands drive.
type MutatingService interface {
	StartAuthorization(ctx context.Context, platform core.Platform, accountID string) (*core.PendingAuthorization, error)
	DeliverAuthorizationCode(ctx context.Context, state string, code string) (core.ConnectionStatus, error)
	CancelAuthorization(ctx context.Context, state string, reason string) error
	CompleteAuthorization(ctx context.Context, code string, platform core.Platform, accountID string) (core.ConnectionStatus, error)
	ConnectWithToken(ctx context.Context, accountID string, platform core.Platform, token core.TokenRecord) (core.ConnectionStatus, error)
	Refresh(ctx context.Context, accountID string) bool
	Status(accountID string) core.ConnectionStatus
	Send(ctx context.Context, accountID string, message string, recipientID string) (core.SendResult, error)
	Disconnect(ctx context.Context, accountID string) error
}

type StartAuthorizationCommand struct {
	service MutatingService
}

func NewStartAuthorizationCommand(service MutatingService) *StartAuthorizationCommand {
	return &StartAuthorizationCommand{service: service}
}

func (c *StartAuthorizationCommand) Execute(ctx context.Context, msg StartAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "authorization service")
	}
	pending, err := c.service.StartAuthorization(ctx, core.NormalizePlatform(string(msg.Platform)), msg.AccountID)
	if err != nil {
		return err
	}
	storeResult(ctx, AuthorizationStarted{
		URL:       pending.URL,
		State:     pending.State,
		Platform:  pending.Platform,
		AccountID: pending.AccountID,
	})
	return nil
}

type DeliverAuthorizationCommand struct {
	service MutatingService
}

func NewDeliverAuthorizationCommand(service MutatingService) *DeliverAuthorizationCommand {
	return &DeliverAuthorizationCommand{service: service}
}

func (c *DeliverAuthorizationCommand) Execute(ctx context.Context, msg DeliverAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "authorization service")
	}
	status, err := c.service.DeliverAuthorizationCode(ctx, msg.State, msg.Code)
	if err != nil {
		return err
	}
	storeResult(ctx, status)
	return nil
}

type CancelAuthorizationCommand struct {
	service MutatingService
}

func NewCancelAuthorizationCommand(service MutatingService) *CancelAuthorizationCommand {
	return &CancelAuthorizationCommand{service: service}
}

func (c *CancelAuthorizationCommand) Execute(ctx context.Context, msg CancelAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "authorization service")
	}
	return c.service.CancelAuthorization(ctx, msg.State, msg.Reason)
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "authorization service")
	}
	status, err := c.service.CompleteAuthorization(ctx, msg.Code, core.NormalizePlatform(string(msg.Platform)), msg.AccountID)
	if err != nil {
		return err
	}
	storeResult(ctx, status)
	return nil
}

type ConnectWithTokenCommand struct {
	service MutatingService
}

func NewConnectWithTokenCommand(service MutatingService) *ConnectWithTokenCommand {
	return &ConnectWithTokenCommand{service: service}
}

func (c *ConnectWithTokenCommand) Execute(ctx context.Context, msg ConnectWithTokenMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "connection service")
	}
	status, err := c.service.ConnectWithToken(ctx, msg.AccountID, core.NormalizePlatform(string(msg.Platform)), core.TokenRecord{
		AccessToken:  msg.AccessToken,
		RefreshToken: msg.RefreshToken,
		ExpiresAt:    msg.ExpiresAt,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, status)
	return nil
}

type RefreshConnectionCommand struct {
	service MutatingService
}

func NewRefreshConnectionCommand(service MutatingService) *RefreshConnectionCommand {
	return &RefreshConnectionCommand{service: service}
}

// Execute never fails on a refresh rejection; the outcome reports it instead.
func (c *RefreshConnectionCommand) Execute(ctx context.Context, msg RefreshConnectionMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "connection service")
	}
	refreshed := c.service.Refresh(ctx, msg.AccountID)
	storeResult(ctx, RefreshOutcome{
		AccountID: msg.AccountID,
		Refreshed: refreshed,
		Status:    c.service.Status(msg.AccountID),
	})
	return nil
}

type SendReplyCommand struct {
	service MutatingService
}

func NewSendReplyCommand(service MutatingService) *SendReplyCommand {
	return &SendReplyCommand{service: service}
}

func (c *SendReplyCommand) Execute(ctx context.Context, msg SendReplyMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "send service")
	}
	result, err := c.service.Send(ctx, msg.AccountID, msg.Message, msg.RecipientID)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "connection service")
	}
	return c.service.Disconnect(ctx, msg.AccountID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[StartAuthorizationMessage]    = (*StartAuthorizationCommand)(nil)
	_ gocmd.Commander[DeliverAuthorizationMessage]  = (*DeliverAuthorizationCommand)(nil)
	_ gocmd.Commander[CancelAuthorizationMessage]   = (*CancelAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[ConnectWithTokenMessage]      = (*ConnectWithTokenCommand)(nil)
	_ gocmd.Commander[RefreshConnectionMessage]     = (*RefreshConnectionCommand)(nil)
	_ gocmd.Commander[SendReplyMessage]             = (*SendReplyCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
)

var _ MutatingService = (*core.Service)(nil)
