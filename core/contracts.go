package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// KeyValueStore is the local persistent namespace. Values are opaque strings.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type CredentialVault interface {
	Initialize(ctx context.Context) error
	StoreToken(ctx context.Context, accountID string, token TokenRecord) error
	GetToken(ctx context.Context, accountID string) (*TokenRecord, error)
	Clear(ctx context.Context, accountID string) error
	IsExpired(token *TokenRecord) bool
}

type RateGovernor interface {
	CheckAdmission(accountID string, platform Platform) error
	RecordUsage(accountID string, platform Platform)
	ClearTracker(accountID string)
}

// CredentialInvalidator drops every trace of an account's credentials.
type CredentialInvalidator interface {
	InvalidateCredentials(ctx context.Context, accountID string) error
}

type Retrier interface {
	Execute(ctx context.Context, op func(ctx context.Context) error, ec ErrorContext) error
	Classify(err error) ErrorInfo
	OnAuthError(ctx context.Context, ec ErrorContext, invalidator CredentialInvalidator) error
}

// PlatformClient shapes outbound requests for one platform.
type PlatformClient interface {
	Platform() Platform
	Scopes() []string
	Send(ctx context.Context, conn Connection, message string, recipientID string) (SendReceipt, error)
}

// Authorizer is implemented by platform clients that drive an authorization-code flow.
type Authorizer interface {
	AuthorizationURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (TokenRecord, error)
	Refresh(ctx context.Context, refreshToken string) (TokenRecord, error)
}

type PlatformRegistry interface {
	Register(client PlatformClient) error
	Get(platform Platform) (PlatformClient, bool)
	List() []PlatformClient
}

// AccountDirectory is the view of the stored account collection used by the orchestrator.
type AccountDirectory interface {
	ListAccounts(ctx context.Context) ([]AccountRef, error)
	SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error
}

// Opener presents an authorization URL to the user.
type Opener interface {
	Open(ctx context.Context, authURL string) error
}

type OAuthSessionStore interface {
	Save(ctx context.Context, session OAuthSession) error
	Consume(ctx context.Context, state string) (OAuthSession, error)
	Discard(ctx context.Context, state string) error
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type AccountLocker interface {
	Acquire(ctx context.Context, accountID string) (LockHandle, error)
}

// RefreshScheduler defers a token refresh to a background runner.
type RefreshScheduler interface {
	ScheduleRefresh(ctx context.Context, accountID string, at time.Time) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
