package autoreply

import "github.com/goliatone/go-autoreply/core"

type Config = core.Config

type PlatformConfig = core.PlatformConfig

type Platform = core.Platform

type Service = core.Service

type Option = core.Option

type Connection = core.Connection

type ConnectionStatus = core.ConnectionStatus

type SendResult = core.SendResult

type TokenRecord = core.TokenRecord

type PendingAuthorization = core.PendingAuthorization

const (
	PlatformInstagram = core.PlatformInstagram
	PlatformFacebook  = core.PlatformFacebook
	PlatformLINE      = core.PlatformLINE
	PlatformTwitter   = core.PlatformTwitter
	PlatformTelegram  = core.PlatformTelegram
	PlatformWhatsApp  = core.PlatformWhatsApp
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithCredentialVault   = core.WithCredentialVault
	WithRateGovernor      = core.WithRateGovernor
	WithRetrier           = core.WithRetrier
	WithPlatformRegistry  = core.WithPlatformRegistry
	WithAccountDirectory  = core.WithAccountDirectory
	WithOpener            = core.WithOpener
	WithOAuthSessionStore = core.WithOAuthSessionStore
	WithAccountLocker     = core.WithAccountLocker
	WithRefreshScheduler  = core.WithRefreshScheduler
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds a bare orchestrator. Use New for a fully wired runtime.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
