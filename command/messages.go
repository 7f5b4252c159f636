package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
)

const (
	TypeStartAuthorization    = "autoreply.command.authorization.start"
	TypeDeliverAuthorization  = "autoreply.command.authorization.deliver"
	TypeCancelAuthorization   = "autoreply.command.authorization.cancel"
	TypeCompleteAuthorization = "autoreply.command.authorization.complete"
	TypeConnectWithToken      = "autoreply.command.connection.token"
	TypeRefreshConnection     = "autoreply.command.connection.refresh"
	TypeSendReply             = "autoreply.command.reply.send"
	TypeDisconnect            = "autoreply.command.connection.disconnect"
)

type StartAuthorizationMessage struct {
	Platform  core.Platform
	AccountID string
}

func (StartAuthorizationMessage) Type() string { return TypeStartAuthorization }

func (m StartAuthorizationMessage) Validate() error {
	if err := requirePlatform(m.Platform); err != nil {
		return err
	}
	return requireField("account_id", m.AccountID)
}

// DeliverAuthorizationMessage carries an OAuth callback. An empty Code cancels the attempt.
type DeliverAuthorizationMessage struct {
	State string
	Code  string
}

func (DeliverAuthorizationMessage) Type() string { return TypeDeliverAuthorization }

func (m DeliverAuthorizationMessage) Validate() error {
	return requireField("state", m.State)
}

type CancelAuthorizationMessage struct {
	State  string
	Reason string
}

func (CancelAuthorizationMessage) Type() string { return TypeCancelAuthorization }

func (m CancelAuthorizationMessage) Validate() error {
	return requireField("state", m.State)
}

type CompleteAuthorizationMessage struct {
	Platform  core.Platform
	AccountID string
	Code      string
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if err := requirePlatform(m.Platform); err != nil {
		return err
	}
	if err := requireField("account_id", m.AccountID); err != nil {
		return err
	}
	return requireField("code", m.Code)
}

type ConnectWithTokenMessage struct {
	Platform     core.Platform
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (ConnectWithTokenMessage) Type() string { return TypeConnectWithToken }

func (m ConnectWithTokenMessage) Validate() error {
	if err := requirePlatform(m.Platform); err != nil {
		return err
	}
	if err := requireField("account_id", m.AccountID); err != nil {
		return err
	}
	return requireField("access_token", m.AccessToken)
}

type RefreshConnectionMessage struct {
	AccountID string
}

func (RefreshConnectionMessage) Type() string { return TypeRefreshConnection }

func (m RefreshConnectionMessage) Validate() error {
	return requireField("account_id", m.AccountID)
}

type SendReplyMessage struct {
	AccountID   string
	Message     string
	RecipientID string
}

func (SendReplyMessage) Type() string { return TypeSendReply }

func (m SendReplyMessage) Validate() error {
	if err := requireField("account_id", m.AccountID); err != nil {
		return err
	}
	return requireField("message", m.Message)
}

type DisconnectMessage struct {
	AccountID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return requireField("account_id", m.AccountID)
}

// AuthorizationStarted is the stored result of StartAuthorizationCommand.
type AuthorizationStarted struct {
	URL       string        `json:"url"`
	State     string        `json:"state"`
	Platform  core.Platform `json:"platform"`
	AccountID string        `json:"account_id"`
}

// RefreshOutcome is the stored result of RefreshConnectionCommand.
type RefreshOutcome struct {
	AccountID string                `json:"account_id"`
	Refreshed bool                  `json:"refreshed"`
	Status    core.ConnectionStatus `json:"status"`
}

func requireField(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return core.FieldError("command", field, field+" is required")
	}
	return nil
}

func requirePlatform(platform core.Platform) error {
	normalized := core.NormalizePlatform(string(platform))
	if normalized == "" {
		return core.FieldError("command", "platform", "platform is required")
	}
	if !normalized.Known() {
		return core.FieldError("command", "platform", "platform "+string(normalized)+" is not supported")
	}
	return nil
}
